package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/db"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TaskRepository handles database operations for tasks. State changes are
// conditional updates guarded on the current state and owner; a zero row
// count means another writer got there first.
type TaskRepository struct {
	db *db.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *db.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `
	id, attack_id, campaign_id, chunk_number, keyspace_offset, keyspace_limit, state,
	agent_id, lease_expires_at, retry_count, progress, hash_rate, failure_acknowledged,
	error_message, created_at, updated_at, started_at, completed_at`

// CreateNextChunk advances the attack's chunk cursor and inserts the task for [from, to)
func (r *TaskRepository) CreateNextChunk(ctx context.Context, attackID, campaignID int64, from, to models.Keyspace) (*models.Task, error) {
	task := &models.Task{
		ID:             uuid.New(),
		AttackID:       attackID,
		CampaignID:     campaignID,
		KeyspaceOffset: from,
		KeyspaceLimit:  to,
		State:          models.TaskStatePending,
	}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE attacks
			SET chunk_cursor = $3, updated_at = NOW()
			WHERE id = $1 AND chunk_cursor = $2
		`, attackID, from, to)
		if err != nil {
			return fmt.Errorf("failed to advance chunk cursor: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrConflict
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO tasks (
				id, attack_id, campaign_id, chunk_number, keyspace_offset, keyspace_limit, state
			) VALUES (
				$1, $2, $3, (SELECT COUNT(*) + 1 FROM tasks WHERE attack_id = $2), $4, $5, $6
			)
			RETURNING chunk_number, created_at, updated_at
		`,
			task.ID,
			task.AttackID,
			task.CampaignID,
			task.KeyspaceOffset,
			task.KeyspaceLimit,
			task.State,
		).Scan(&task.ChunkNumber, &task.CreatedAt, &task.UpdatedAt)
	})
	if errors.Is(err, ErrConflict) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk for attack %d: %w", attackID, err)
	}

	debug.Debug("Created chunk %d for attack %d: [%s, %s)", task.ChunkNumber, attackID, from, to)
	return task, nil
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task with ID %s not found: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// ListByAttack returns an attack's tasks in keyspace order
func (r *TaskRepository) ListByAttack(ctx context.Context, attackID int64) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE attack_id = $1 ORDER BY keyspace_offset ASC`
	return r.list(ctx, query, attackID)
}

// OldestPending returns the oldest pending task of an attack
func (r *TaskRepository) OldestPending(ctx context.Context, attackID int64) (*models.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE attack_id = $1 AND state = 'pending' AND agent_id IS NULL
		ORDER BY created_at ASC, chunk_number ASC
		LIMIT 1
	`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, attackID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no pending task for attack %d: %w", attackID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending task: %w", err)
	}
	return task, nil
}

// ActiveByAgent returns the task an agent currently holds a lease on
func (r *TaskRepository) ActiveByAgent(ctx context.Context, agentID int) (*models.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE agent_id = $1 AND state IN ('assigned', 'running')
	`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, agentID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %d holds no task: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active task for agent %d: %w", agentID, err)
	}
	return task, nil
}

// SummarizeByCampaign counts tasks per attack and state
func (r *TaskRepository) SummarizeByCampaign(ctx context.Context, campaignID int64) (map[int64]models.TaskSummary, error) {
	query := `
		SELECT attack_id, state, COUNT(*),
		       COUNT(*) FILTER (WHERE state = 'failed' AND NOT failure_acknowledged)
		FROM tasks
		WHERE campaign_id = $1
		GROUP BY attack_id, state
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize tasks: %w", err)
	}
	defer rows.Close()

	summaries := make(map[int64]models.TaskSummary)
	for rows.Next() {
		var (
			attackID    int64
			state       models.TaskState
			count       int
			unackFailed int
		)
		if err := rows.Scan(&attackID, &state, &count, &unackFailed); err != nil {
			return nil, fmt.Errorf("failed to scan task summary: %w", err)
		}
		summary, ok := summaries[attackID]
		if !ok {
			summary = models.TaskSummary{AttackID: attackID, Counts: make(map[models.TaskState]int)}
		}
		summary.Counts[state] = count
		summary.UnacknowledgedFail += unackFailed
		summaries[attackID] = summary
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task summaries: %w", err)
	}
	return summaries, nil
}

// SumProgress returns the total guesses completed across an attack's tasks
func (r *TaskRepository) SumProgress(ctx context.Context, attackID int64) (models.Keyspace, error) {
	var total models.Keyspace
	query := `SELECT COALESCE(SUM(progress), 0) FROM tasks WHERE attack_id = $1`
	if err := r.db.QueryRowContext(ctx, query, attackID).Scan(&total); err != nil {
		return models.Keyspace{}, fmt.Errorf("failed to sum progress for attack %d: %w", attackID, err)
	}
	return total, nil
}

// ListExpiredLeases returns active tasks whose lease expired before cutoff
func (r *TaskRepository) ListExpiredLeases(ctx context.Context, cutoff time.Time) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE state IN ('assigned', 'running') AND lease_expires_at < $1
		ORDER BY lease_expires_at ASC
	`
	return r.list(ctx, query, cutoff)
}

// ListBlocked returns permanently failed tasks awaiting operator action
func (r *TaskRepository) ListBlocked(ctx context.Context, campaignID int64) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE campaign_id = $1 AND state = 'failed' AND NOT failure_acknowledged
		ORDER BY updated_at ASC
	`
	return r.list(ctx, query, campaignID)
}

// CountActiveAgents counts distinct agents holding leases in a campaign
func (r *TaskRepository) CountActiveAgents(ctx context.Context, campaignID int64) (int, error) {
	var count int
	query := `
		SELECT COUNT(DISTINCT agent_id)
		FROM tasks
		WHERE campaign_id = $1 AND state IN ('assigned', 'running')
	`
	if err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active agents: %w", err)
	}
	return count, nil
}

// Claim binds a pending task to an agent. The partial unique index on active
// agent leases rejects a second active task for the same agent.
func (r *TaskRepository) Claim(ctx context.Context, id uuid.UUID, agentID int, leaseExpiresAt time.Time) (bool, error) {
	query := `
		UPDATE tasks
		SET state = 'assigned', agent_id = $2, lease_expires_at = $3,
		    started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND state = 'pending' AND agent_id IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, agentID, leaseExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			debug.Warning("Agent %d already holds an active task, claim of %s rejected", agentID, id)
			return false, nil
		}
		return false, fmt.Errorf("failed to claim task %s: %w", id, err)
	}
	return affectedOne(result)
}

// RecordProgress raises progress monotonically and renews the lease
func (r *TaskRepository) RecordProgress(ctx context.Context, id uuid.UUID, agentID int, progress models.Keyspace, hashRate int64, leaseExpiresAt time.Time) (bool, error) {
	query := `
		UPDATE tasks
		SET progress = LEAST(GREATEST(progress, $3), keyspace_limit - keyspace_offset),
		    hash_rate = $4,
		    lease_expires_at = $5,
		    state = 'running',
		    updated_at = NOW()
		WHERE id = $1 AND agent_id = $2 AND state IN ('assigned', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, id, agentID, progress, hashRate, leaseExpiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to record progress for task %s: %w", id, err)
	}
	return affectedOne(result)
}

// RenewLease extends the lease of an active task held by the agent
func (r *TaskRepository) RenewLease(ctx context.Context, id uuid.UUID, agentID int, leaseExpiresAt time.Time) (bool, error) {
	query := `
		UPDATE tasks
		SET lease_expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND agent_id = $2 AND state IN ('assigned', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, id, agentID, leaseExpiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to renew lease for task %s: %w", id, err)
	}
	return affectedOne(result)
}

// Complete marks an active task completed with full progress
func (r *TaskRepository) Complete(ctx context.Context, id uuid.UUID, agentID int) (bool, error) {
	query := `
		UPDATE tasks
		SET state = 'completed', progress = keyspace_limit - keyspace_offset,
		    lease_expires_at = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND agent_id = $2 AND state IN ('assigned', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, id, agentID)
	if err != nil {
		return false, fmt.Errorf("failed to complete task %s: %w", id, err)
	}
	return affectedOne(result)
}

// Reclaim takes a task away from an agent, requeueing it or failing it once
// the retry budget is spent
func (r *TaskRepository) Reclaim(ctx context.Context, id uuid.UUID, agentID int, maxRetries int, reason string) (models.TaskState, bool, error) {
	query := `
		UPDATE tasks
		SET retry_count = retry_count + 1,
		    state = CASE WHEN retry_count + 1 > $3 THEN 'failed' ELSE 'pending' END,
		    agent_id = NULL,
		    lease_expires_at = NULL,
		    error_message = $4,
		    updated_at = NOW()
		WHERE id = $1 AND agent_id = $2 AND state IN ('assigned', 'running')
		RETURNING state
	`

	var state models.TaskState
	err := r.db.QueryRowContext(ctx, query, id, agentID, maxRetries, reason).Scan(&state)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to reclaim task %s: %w", id, err)
	}
	return state, true, nil
}

// Release returns an active task to pending without counting a retry
func (r *TaskRepository) Release(ctx context.Context, id uuid.UUID, agentID int) (bool, error) {
	query := `
		UPDATE tasks
		SET state = 'pending', agent_id = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND agent_id = $2 AND state IN ('assigned', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, id, agentID)
	if err != nil {
		return false, fmt.Errorf("failed to release task %s: %w", id, err)
	}
	return affectedOne(result)
}

// Cancel cancels a task that has not finished
func (r *TaskRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET state = 'cancelled', lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state IN ('pending', 'assigned', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel task %s: %w", id, err)
	}
	return affectedOne(result)
}

// CancelByCampaign cancels every unfinished task of a campaign
func (r *TaskRepository) CancelByCampaign(ctx context.Context, campaignID int64) (int64, error) {
	query := `
		UPDATE tasks
		SET state = 'cancelled', lease_expires_at = NULL, updated_at = NOW()
		WHERE campaign_id = $1 AND state IN ('pending', 'assigned', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tasks for campaign %d: %w", campaignID, err)
	}
	return result.RowsAffected()
}

// AcknowledgeFailure records operator acknowledgement of a permanent failure
func (r *TaskRepository) AcknowledgeFailure(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET failure_acknowledged = TRUE, updated_at = NOW()
		WHERE id = $1 AND state = 'failed' AND NOT failure_acknowledged
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge task %s: %w", id, err)
	}
	return affectedOne(result)
}

// Retry returns a failed task to pending with a fresh retry budget
func (r *TaskRepository) Retry(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET state = 'pending', retry_count = 0, failure_acknowledged = FALSE,
		    agent_id = NULL, error_message = '', updated_at = NOW()
		WHERE id = $1 AND state = 'failed'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to retry task %s: %w", id, err)
	}
	return affectedOne(result)
}

// ResetAttack removes every task of an attack and rewinds its chunk cursor
func (r *TaskRepository) ResetAttack(ctx context.Context, attackID int64) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE attack_id = $1`, attackID); err != nil {
			return fmt.Errorf("failed to delete tasks for attack %d: %w", attackID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE attacks SET chunk_cursor = 0, progress_percent = 0, updated_at = NOW() WHERE id = $1
		`, attackID); err != nil {
			return fmt.Errorf("failed to reset chunk cursor for attack %d: %w", attackID, err)
		}
		return nil
	})
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var (
		agentID                           sql.NullInt64
		leaseExpiresAt, startedAt, doneAt sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.AttackID,
		&task.CampaignID,
		&task.ChunkNumber,
		&task.KeyspaceOffset,
		&task.KeyspaceLimit,
		&task.State,
		&agentID,
		&leaseExpiresAt,
		&task.RetryCount,
		&task.Progress,
		&task.HashRate,
		&task.FailureAcknowledged,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
		&startedAt,
		&doneAt,
	)
	if err != nil {
		return nil, err
	}

	if agentID.Valid {
		id := int(agentID.Int64)
		task.AgentID = &id
	}
	task.LeaseExpiresAt = timePtr(leaseExpiresAt)
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(doneAt)
	return task, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func affectedOne(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}
