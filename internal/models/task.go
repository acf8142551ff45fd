package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of a chunk
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateAssigned  TaskState = "assigned"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Active reports whether an agent lease is bound to the state
func (s TaskState) Active() bool {
	return s == TaskStateAssigned || s == TaskStateRunning
}

// Task is a contiguous [offset, limit) slice of an attack's keyspace
type Task struct {
	ID                  uuid.UUID  `json:"id"`
	AttackID            int64      `json:"attack_id"`
	CampaignID          int64      `json:"campaign_id"`
	ChunkNumber         int        `json:"chunk_number"`
	KeyspaceOffset      Keyspace   `json:"keyspace_offset"`
	KeyspaceLimit       Keyspace   `json:"keyspace_limit"` // exclusive
	State               TaskState  `json:"state"`
	AgentID             *int       `json:"agent_id,omitempty"`
	LeaseExpiresAt      *time.Time `json:"lease_expires_at,omitempty"`
	RetryCount          int        `json:"retry_count"`
	Progress            Keyspace   `json:"progress"` // guesses completed inside the chunk
	HashRate            int64      `json:"hash_rate"`
	FailureAcknowledged bool       `json:"failure_acknowledged"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// Size returns limit - offset
func (t *Task) Size() Keyspace {
	return t.KeyspaceLimit.Sub(t.KeyspaceOffset)
}

// IsTerminal reports whether the task no longer blocks later DAG phases.
// A failed task only counts once an operator has acknowledged it.
func (t *Task) IsTerminal() bool {
	switch t.State {
	case TaskStateCompleted, TaskStateCancelled:
		return true
	case TaskStateFailed:
		return t.FailureAcknowledged
	}
	return false
}

// HeldBy reports whether agentID currently holds the task lease
func (t *Task) HeldBy(agentID int) bool {
	return t.State.Active() && t.AgentID != nil && *t.AgentID == agentID
}

// TaskSummary counts an attack's tasks by state
type TaskSummary struct {
	AttackID           int64
	Counts             map[TaskState]int
	UnacknowledgedFail int
}

// Total returns the number of tasks in the summary
func (s TaskSummary) Total() int {
	total := 0
	for _, c := range s.Counts {
		total += c
	}
	return total
}

// AllTerminal reports whether no task of the attack blocks a later phase
func (s TaskSummary) AllTerminal() bool {
	return s.Counts[TaskStatePending] == 0 &&
		s.Counts[TaskStateAssigned] == 0 &&
		s.Counts[TaskStateRunning] == 0 &&
		s.UnacknowledgedFail == 0
}

// AllCompleted reports whether every task finished successfully
func (s TaskSummary) AllCompleted() bool {
	return s.Total() == s.Counts[TaskStateCompleted]
}

// HasNonPending reports whether any task left the pending state
func (s TaskSummary) HasNonPending() bool {
	return s.Total() > s.Counts[TaskStatePending]
}
