package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/google/uuid"
)

// TaskStore is the in-memory task store
type TaskStore struct {
	s *Store
}

func cloneTask(t *models.Task) *models.Task {
	out := *t
	out.AgentID = copyInt(t.AgentID)
	out.LeaseExpiresAt = copyTime(t.LeaseExpiresAt)
	out.StartedAt = copyTime(t.StartedAt)
	out.CompletedAt = copyTime(t.CompletedAt)
	return &out
}

// CreateNextChunk advances the attack cursor and inserts the pending task for [from, to)
func (ts *TaskStore) CreateNextChunk(ctx context.Context, attackID, campaignID int64, from, to models.Keyspace) (*models.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attacks[attackID]
	if !ok {
		return nil, fmt.Errorf("attack with ID %d not found: %w", attackID, repository.ErrNotFound)
	}
	if a.ChunkCursor.Cmp(from) != 0 {
		return nil, repository.ErrConflict
	}
	if to.Cmp(from) <= 0 {
		return nil, fmt.Errorf("empty chunk [%s, %s)", from, to)
	}

	count := 0
	for _, t := range s.tasks {
		if t.AttackID == attackID {
			count++
		}
	}

	now := s.now()
	task := &models.Task{
		ID:             uuid.New(),
		AttackID:       attackID,
		CampaignID:     campaignID,
		ChunkNumber:    count + 1,
		KeyspaceOffset: from,
		KeyspaceLimit:  to,
		State:          models.TaskStatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	a.ChunkCursor = to
	a.UpdatedAt = now
	s.tasks[task.ID] = task
	s.taskSeq++
	s.taskOrder[task.ID] = s.taskSeq
	return cloneTask(task), nil
}

// GetByID returns a copy of a task
func (ts *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task with ID %s not found: %w", id, repository.ErrNotFound)
	}
	return cloneTask(t), nil
}

// ListByAttack returns an attack's tasks in keyspace order
func (ts *TaskStore) ListByAttack(ctx context.Context, attackID int64) ([]models.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Task
	for _, t := range s.tasks {
		if t.AttackID == attackID {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].KeyspaceOffset.Cmp(out[j].KeyspaceOffset) < 0
	})
	return out, nil
}

// OldestPending returns the oldest unowned pending task of an attack
func (ts *TaskStore) OldestPending(ctx context.Context, attackID int64) (*models.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Task
	for _, t := range s.tasks {
		if t.AttackID != attackID || t.State != models.TaskStatePending || t.AgentID != nil {
			continue
		}
		if best == nil || s.taskOrder[t.ID] < s.taskOrder[best.ID] {
			best = t
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no pending task for attack %d: %w", attackID, repository.ErrNotFound)
	}
	return cloneTask(best), nil
}

// ActiveByAgent returns the task an agent holds a lease on
func (ts *TaskStore) ActiveByAgent(ctx context.Context, agentID int) (*models.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.HeldBy(agentID) {
			return cloneTask(t), nil
		}
	}
	return nil, fmt.Errorf("agent %d holds no task: %w", agentID, repository.ErrNotFound)
}

// SummarizeByCampaign counts tasks per attack and state
func (ts *TaskStore) SummarizeByCampaign(ctx context.Context, campaignID int64) (map[int64]models.TaskSummary, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make(map[int64]models.TaskSummary)
	for _, t := range s.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		summary, ok := summaries[t.AttackID]
		if !ok {
			summary = models.TaskSummary{AttackID: t.AttackID, Counts: make(map[models.TaskState]int)}
		}
		summary.Counts[t.State]++
		if t.State == models.TaskStateFailed && !t.FailureAcknowledged {
			summary.UnacknowledgedFail++
		}
		summaries[t.AttackID] = summary
	}
	return summaries, nil
}

// SumProgress totals the progress of an attack's tasks
func (ts *TaskStore) SumProgress(ctx context.Context, attackID int64) (models.Keyspace, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	total := models.Keyspace{}
	for _, t := range s.tasks {
		if t.AttackID == attackID {
			total = total.Add(t.Progress)
		}
	}
	return total, nil
}

// ListExpiredLeases returns active tasks whose lease expired before cutoff
func (ts *TaskStore) ListExpiredLeases(ctx context.Context, cutoff time.Time) ([]models.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Task
	for _, t := range s.tasks {
		if t.State.Active() && t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(cutoff) {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaseExpiresAt.Before(*out[j].LeaseExpiresAt) })
	return out, nil
}

// ListBlocked returns unacknowledged permanently failed tasks of a campaign
func (ts *TaskStore) ListBlocked(ctx context.Context, campaignID int64) ([]models.Task, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Task
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && t.State == models.TaskStateFailed && !t.FailureAcknowledged {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// CountActiveAgents counts distinct agents holding leases in a campaign
func (ts *TaskStore) CountActiveAgents(ctx context.Context, campaignID int64) (int, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	agents := make(map[int]struct{})
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && t.State.Active() && t.AgentID != nil {
			agents[*t.AgentID] = struct{}{}
		}
	}
	return len(agents), nil
}

// Claim binds a pending task to an agent that holds no other lease
func (ts *TaskStore) Claim(ctx context.Context, id uuid.UUID, agentID int, leaseExpiresAt time.Time) (bool, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.State != models.TaskStatePending || t.AgentID != nil {
		return false, nil
	}
	for _, other := range s.tasks {
		if other.HeldBy(agentID) {
			return false, nil
		}
	}

	now := s.now()
	t.State = models.TaskStateAssigned
	t.AgentID = &agentID
	lease := leaseExpiresAt
	t.LeaseExpiresAt = &lease
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	t.UpdatedAt = now
	return true, nil
}

// RecordProgress raises progress monotonically and renews the lease
func (ts *TaskStore) RecordProgress(ctx context.Context, id uuid.UUID, agentID int, progress models.Keyspace, hashRate int64, leaseExpiresAt time.Time) (bool, error) {
	return ts.mutateHeld(id, agentID, func(t *models.Task) {
		t.Progress = t.Progress.Max(progress).Min(t.Size())
		t.HashRate = hashRate
		lease := leaseExpiresAt
		t.LeaseExpiresAt = &lease
		t.State = models.TaskStateRunning
	})
}

// RenewLease extends the lease of a held task
func (ts *TaskStore) RenewLease(ctx context.Context, id uuid.UUID, agentID int, leaseExpiresAt time.Time) (bool, error) {
	return ts.mutateHeld(id, agentID, func(t *models.Task) {
		lease := leaseExpiresAt
		t.LeaseExpiresAt = &lease
	})
}

// Complete marks a held task completed with full progress
func (ts *TaskStore) Complete(ctx context.Context, id uuid.UUID, agentID int) (bool, error) {
	return ts.mutateHeld(id, agentID, func(t *models.Task) {
		t.State = models.TaskStateCompleted
		t.Progress = t.Size()
		t.LeaseExpiresAt = nil
		now := ts.s.now()
		t.CompletedAt = &now
	})
}

// Reclaim requeues a held task or fails it once the retry budget is spent
func (ts *TaskStore) Reclaim(ctx context.Context, id uuid.UUID, agentID int, maxRetries int, reason string) (models.TaskState, bool, error) {
	var state models.TaskState
	ok, err := ts.mutateHeld(id, agentID, func(t *models.Task) {
		t.RetryCount++
		if t.RetryCount > maxRetries {
			t.State = models.TaskStateFailed
		} else {
			t.State = models.TaskStatePending
		}
		t.AgentID = nil
		t.LeaseExpiresAt = nil
		t.ErrorMessage = reason
		state = t.State
	})
	return state, ok, err
}

// Release returns a held task to pending keeping progress and retry count
func (ts *TaskStore) Release(ctx context.Context, id uuid.UUID, agentID int) (bool, error) {
	return ts.mutateHeld(id, agentID, func(t *models.Task) {
		t.State = models.TaskStatePending
		t.AgentID = nil
		t.LeaseExpiresAt = nil
	})
}

// Cancel cancels an unfinished task
func (ts *TaskStore) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || !cancellable(t.State) {
		return false, nil
	}
	t.State = models.TaskStateCancelled
	t.LeaseExpiresAt = nil
	t.UpdatedAt = s.now()
	return true, nil
}

// CancelByCampaign cancels every unfinished task of a campaign
func (ts *TaskStore) CancelByCampaign(ctx context.Context, campaignID int64) (int64, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now()
	for _, t := range s.tasks {
		if t.CampaignID == campaignID && cancellable(t.State) {
			t.State = models.TaskStateCancelled
			t.LeaseExpiresAt = nil
			t.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// AcknowledgeFailure records operator acknowledgement of a permanent failure
func (ts *TaskStore) AcknowledgeFailure(ctx context.Context, id uuid.UUID) (bool, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.State != models.TaskStateFailed || t.FailureAcknowledged {
		return false, nil
	}
	t.FailureAcknowledged = true
	t.UpdatedAt = s.now()
	return true, nil
}

// Retry returns a failed task to pending with a fresh retry budget
func (ts *TaskStore) Retry(ctx context.Context, id uuid.UUID) (bool, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.State != models.TaskStateFailed {
		return false, nil
	}
	t.State = models.TaskStatePending
	t.RetryCount = 0
	t.FailureAcknowledged = false
	t.AgentID = nil
	t.ErrorMessage = ""
	t.UpdatedAt = s.now()
	return true, nil
}

// ResetAttack deletes every task of an attack and rewinds its cursor
func (ts *TaskStore) ResetAttack(ctx context.Context, attackID int64) error {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attacks[attackID]
	if !ok {
		return fmt.Errorf("attack with ID %d not found: %w", attackID, repository.ErrNotFound)
	}
	for id, t := range s.tasks {
		if t.AttackID == attackID {
			delete(s.tasks, id)
			delete(s.taskOrder, id)
		}
	}
	a.ChunkCursor = models.Keyspace{}
	a.ProgressPercent = 0
	a.UpdatedAt = s.now()
	return nil
}

func (ts *TaskStore) mutateHeld(id uuid.UUID, agentID int, fn func(t *models.Task)) (bool, error) {
	s := ts.s
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || !t.HeldBy(agentID) {
		return false, nil
	}
	fn(t)
	t.UpdatedAt = s.now()
	return true, nil
}

func cancellable(state models.TaskState) bool {
	return state == models.TaskStatePending || state.Active()
}
