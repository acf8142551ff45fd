package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrCapabilityMismatch means no attack can run on the requesting agent
	ErrCapabilityMismatch = errors.New("no eligible attack for agent")
	// ErrAssignmentConflict means a concurrent request won the compare-and-swap
	ErrAssignmentConflict = errors.New("task assignment conflict")
	// ErrDependencyNotReady means the attack's DAG phase is blocked by an earlier phase
	ErrDependencyNotReady = errors.New("dependency phase not ready")
	ErrCampaignNotActive  = errors.New("campaign is not active")
	ErrHashNotInList      = errors.New("hash does not belong to the campaign hash list")
	ErrTaskNotOwned       = errors.New("task is not held by this agent")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrAttackExhausted    = errors.New("attack keyspace fully partitioned")
)

// ConfigurationError reports an attack or campaign configuration that cannot be used
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PermanentTaskFailureError is raised when a task exhausts its retry budget.
// The owning attack stays blocked until an operator acknowledges or retries it.
type PermanentTaskFailureError struct {
	TaskID     uuid.UUID
	RetryCount int
	Reason     string
}

func (e *PermanentTaskFailureError) Error() string {
	return fmt.Sprintf("task %s failed permanently after %d retries: %s", e.TaskID, e.RetryCount, e.Reason)
}
