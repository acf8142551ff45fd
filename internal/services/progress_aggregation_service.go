package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/google/uuid"
)

// ProgressReport is a periodic status report for a running chunk.
// GuessesCompleted counts guesses inside the chunk, not absolute keyspace positions.
type ProgressReport struct {
	TaskID           uuid.UUID       `json:"task_id"`
	AgentID          int             `json:"agent_id"`
	GuessesCompleted models.Keyspace `json:"guesses_completed"`
	HashRate         int64           `json:"hash_rate"`
	Done             bool            `json:"done,omitempty"`
	Failed           bool            `json:"failed,omitempty"`
	Error            string          `json:"error,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// ProgressAck is returned for every accepted report
type ProgressAck struct {
	TaskID   uuid.UUID        `json:"task_id"`
	State    models.TaskState `json:"state"`
	Progress models.Keyspace  `json:"progress"`
	Stop     bool             `json:"stop,omitempty"`
}

// ProgressAggregationService applies progress reports and rolls them up to
// attack and campaign percentages.
type ProgressAggregationService struct {
	stores        Stores
	failures      *LeaseMonitorService
	events        eventPublisher
	leaseDuration time.Duration
	interval      time.Duration
	now           func() time.Time

	mu         sync.Mutex
	lastRecalc map[uuid.UUID]time.Time
}

// NewProgressAggregationService creates a new progress aggregation service
func NewProgressAggregationService(
	stores Stores,
	failures *LeaseMonitorService,
	sink EventSink,
	leaseDuration time.Duration,
	recalcInterval time.Duration,
	now func() time.Time,
) *ProgressAggregationService {
	if now == nil {
		now = time.Now
	}
	return &ProgressAggregationService{
		stores:        stores,
		failures:      failures,
		events:        newEventPublisher(sink),
		leaseDuration: leaseDuration,
		interval:      recalcInterval,
		now:           now,
		lastRecalc:    make(map[uuid.UUID]time.Time),
	}
}

// Report applies a progress report. Progress never decreases, so duplicate and
// reordered reports are harmless. Reaching the end of the chunk or an explicit
// done flag completes the task.
func (s *ProgressAggregationService) Report(ctx context.Context, report ProgressReport) (*ProgressAck, error) {
	task, err := s.stores.Tasks.GetByID(ctx, report.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", report.TaskID, err)
	}

	if task.State == models.TaskStateCompleted && task.AgentID != nil && *task.AgentID == report.AgentID {
		return &ProgressAck{TaskID: task.ID, State: task.State, Progress: task.Progress}, nil
	}
	if !task.HeldBy(report.AgentID) {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrTaskNotOwned)
	}

	if report.Failed {
		return s.reportFailure(ctx, task, report)
	}

	size := task.Size()
	progress := report.GuessesCompleted.Min(size)
	if progress.Sign() < 0 {
		progress = models.Keyspace{}
	}
	if report.Done {
		progress = size
	}

	lease := s.now().Add(s.leaseDuration)
	ok, err := s.stores.Tasks.RecordProgress(ctx, task.ID, report.AgentID, progress, report.HashRate, lease)
	if err != nil {
		return nil, fmt.Errorf("failed to record progress for task %s: %w", task.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrTaskNotOwned)
	}

	ack := &ProgressAck{TaskID: task.ID, State: models.TaskStateRunning, Progress: progress.Max(task.Progress)}
	if task.State == models.TaskStateAssigned {
		agentID := report.AgentID
		s.events.taskState(task, &agentID, models.TaskStateAssigned, models.TaskStateRunning, nil)
	}

	completed := progress.Cmp(size) >= 0
	if completed {
		done, err := s.stores.Tasks.Complete(ctx, task.ID, report.AgentID)
		if err != nil {
			return nil, fmt.Errorf("failed to complete task %s: %w", task.ID, err)
		}
		if done {
			ack.State = models.TaskStateCompleted
			agentID := report.AgentID
			s.events.taskState(task, &agentID, models.TaskStateRunning, models.TaskStateCompleted, nil)
			debug.Log("Task completed", map[string]interface{}{
				"task_id":   task.ID,
				"agent_id":  report.AgentID,
				"attack_id": task.AttackID,
				"size":      size.String(),
			})
		}
	}

	if s.recalcDue(task.ID, completed) {
		if _, err := s.RecalculateAttack(ctx, task.AttackID); err != nil {
			debug.Error("Failed to recalculate attack %d: %v", task.AttackID, err)
		}
		if _, err := s.RecalculateCampaign(ctx, task.CampaignID); err != nil {
			debug.Error("Failed to recalculate campaign %d: %v", task.CampaignID, err)
		}
	}

	campaign, err := s.stores.Campaigns.GetByID(ctx, task.CampaignID)
	if err == nil && !campaign.State.Schedulable() && ack.State != models.TaskStateCompleted {
		ack.Stop = true
	}
	return ack, nil
}

func (s *ProgressAggregationService) reportFailure(ctx context.Context, task *models.Task, report ProgressReport) (*ProgressAck, error) {
	reason := report.Error
	if reason == "" {
		reason = "agent reported failure"
	}

	state, err := s.failures.ReclaimTask(ctx, task, report.AgentID, reason)
	if err != nil {
		var permanent *PermanentTaskFailureError
		if !errors.As(err, &permanent) {
			return nil, err
		}
		debug.Warning("Agent %d failure report exhausted retries: %v", report.AgentID, permanent)
	}

	if _, err := s.RecalculateAttack(ctx, task.AttackID); err != nil {
		debug.Error("Failed to recalculate attack %d: %v", task.AttackID, err)
	}
	s.forget(task.ID)
	return &ProgressAck{TaskID: task.ID, State: state, Progress: task.Progress}, nil
}

// recalcDue rate limits recalculation per task. Completion always recalculates.
func (s *ProgressAggregationService) recalcDue(taskID uuid.UUID, completed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if completed {
		delete(s.lastRecalc, taskID)
		return true
	}
	if last, ok := s.lastRecalc[taskID]; ok && now.Sub(last) < s.interval {
		return false
	}
	s.lastRecalc[taskID] = now
	return true
}

func (s *ProgressAggregationService) forget(taskID uuid.UUID) {
	s.mu.Lock()
	delete(s.lastRecalc, taskID)
	s.mu.Unlock()
}

// RecalculateAttack recomputes the attack's progress as the sum of task
// progress over its keyspace and derives its state from its tasks.
func (s *ProgressAggregationService) RecalculateAttack(ctx context.Context, attackID int64) (*models.Attack, error) {
	attack, err := s.stores.Attacks.GetByID(ctx, attackID)
	if err != nil {
		return nil, err
	}

	sum, err := s.stores.Tasks.SumProgress(ctx, attackID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum progress: %w", err)
	}
	percent := sum.Ratio(attack.Keyspace)
	if err := s.stores.Attacks.UpdateProgress(ctx, attackID, percent); err != nil {
		return nil, fmt.Errorf("failed to update attack progress: %w", err)
	}
	attack.ProgressPercent = percent

	summaries, err := s.stores.Tasks.SummarizeByCampaign(ctx, attack.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize tasks: %w", err)
	}

	state := deriveAttackState(attack, summaries[attackID])
	if state != attack.State {
		if err := s.stores.Attacks.UpdateState(ctx, attackID, state); err != nil {
			return nil, fmt.Errorf("failed to update attack state: %w", err)
		}
		s.events.attackState(attack.CampaignID, attackID, attack.State, state)
		debug.Log("Attack state changed", map[string]interface{}{
			"attack_id": attackID,
			"old_state": attack.State,
			"new_state": state,
			"progress":  percent,
		})
		attack.State = state
	}
	return attack, nil
}

func deriveAttackState(attack *models.Attack, summary models.TaskSummary) models.AttackState {
	switch {
	case summary.UnacknowledgedFail > 0:
		return models.AttackStateFailed
	case AttackSettled(attack, summary) && summary.Total() > 0 && summary.AllCompleted():
		return models.AttackStateCompleted
	case AttackSettled(attack, summary) && summary.Counts[models.TaskStateFailed] > 0:
		return models.AttackStateFailed
	case summary.HasNonPending():
		return models.AttackStateRunning
	}
	return attack.State
}

// RecalculateCampaign recomputes the keyspace weighted campaign progress and
// completes the campaign once every attack is settled.
func (s *ProgressAggregationService) RecalculateCampaign(ctx context.Context, campaignID int64) (*models.Campaign, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	attacks, err := s.stores.Attacks.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attacks: %w", err)
	}
	summaries, err := s.stores.Tasks.SummarizeByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize tasks: %w", err)
	}

	var total, done models.Keyspace
	allSettled := len(attacks) > 0
	for i := range attacks {
		a := &attacks[i]
		sum, err := s.stores.Tasks.SumProgress(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to sum progress for attack %d: %w", a.ID, err)
		}
		total = total.Add(a.Keyspace)
		done = done.Add(sum.Min(a.Keyspace))
		if !AttackSettled(a, summaries[a.ID]) {
			allSettled = false
		}
	}

	percent := done.Ratio(total)
	if err := s.stores.Campaigns.UpdateProgress(ctx, campaignID, percent); err != nil {
		return nil, fmt.Errorf("failed to update campaign progress: %w", err)
	}
	campaign.ProgressPercent = percent

	if allSettled && campaign.State == models.CampaignStateActive {
		if _, err := finishCampaign(ctx, s.stores, s.events, campaign, "exhausted"); err != nil {
			return nil, err
		}
	}
	return campaign, nil
}
