package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/robfig/cron/v3"
)

// LeaseMonitorConfig controls lease expiry handling
type LeaseMonitorConfig struct {
	LeaseDuration time.Duration
	GraceFactor   float64 // a lease is reclaimed after LeaseDuration*GraceFactor without a heartbeat
	MaxRetries    int
	Schedule      string // robfig/cron spec, e.g. "@every 30s"
}

// LeaseMonitorService returns chunks from silent or failed agents to the pool
// and escalates chunks that exhaust their retry budget.
type LeaseMonitorService struct {
	stores Stores
	config LeaseMonitorConfig
	events eventPublisher
	now    func() time.Time

	cron    *cron.Cron
	running bool
	mu      sync.Mutex
}

// NewLeaseMonitorService creates a new lease monitor
func NewLeaseMonitorService(stores Stores, config LeaseMonitorConfig, sink EventSink, now func() time.Time) *LeaseMonitorService {
	if now == nil {
		now = time.Now
	}
	if config.GraceFactor < 1 {
		config.GraceFactor = 1
	}
	if config.Schedule == "" {
		config.Schedule = "@every 30s"
	}
	return &LeaseMonitorService{
		stores: stores,
		config: config,
		events: newEventPublisher(sink),
		now:    now,
	}
}

// Start schedules the periodic sweep
func (m *LeaseMonitorService) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("lease monitor already running")
	}

	c := cron.New()
	_, err := c.AddFunc(m.config.Schedule, func() {
		if _, err := m.Sweep(ctx); err != nil {
			debug.Error("Lease sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", m.config.Schedule, err)
	}

	c.Start()
	m.cron = c
	m.running = true

	debug.Info("Starting lease monitor (schedule %s, lease %v, grace %.2f, max retries %d)",
		m.config.Schedule, m.config.LeaseDuration, m.config.GraceFactor, m.config.MaxRetries)
	return nil
}

// Stop stops the periodic sweep and waits for a running sweep to finish
func (m *LeaseMonitorService) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.running = false

	debug.Info("Lease monitor stopped")
}

// expiryCutoff returns the time before which a stored lease expiry means the
// agent has been silent for longer than LeaseDuration*GraceFactor.
func (m *LeaseMonitorService) expiryCutoff() time.Time {
	extra := time.Duration(float64(m.config.LeaseDuration) * (m.config.GraceFactor - 1))
	return m.now().Add(-extra)
}

// Sweep reclaims every task whose lease expired beyond the grace period.
// Returns the number of tasks reclaimed.
func (m *LeaseMonitorService) Sweep(ctx context.Context) (int, error) {
	expired, err := m.stores.Tasks.ListExpiredLeases(ctx, m.expiryCutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to list expired leases: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	debug.Info("Found %d tasks with expired leases", len(expired))

	reclaimed := 0
	for i := range expired {
		task := &expired[i]
		if task.AgentID == nil {
			continue
		}
		_, err := m.ReclaimTask(ctx, task, *task.AgentID, "lease expired")
		var permanent *PermanentTaskFailureError
		switch {
		case err == nil, errors.As(err, &permanent):
			reclaimed++
		case errors.Is(err, ErrTaskNotOwned):
			// heartbeat or completion won the race
		default:
			debug.Error("Failed to reclaim task %s: %v", task.ID, err)
		}
	}
	return reclaimed, nil
}

// OnAgentOffline marks the agent offline and reclaims its lease immediately
func (m *LeaseMonitorService) OnAgentOffline(ctx context.Context, agentID int, reason string) error {
	if err := m.stores.Agents.UpdateState(ctx, agentID, models.AgentStateOffline); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to mark agent %d offline: %w", agentID, err)
	}

	task, err := m.stores.Tasks.ActiveByAgent(ctx, agentID)
	if errors.Is(err, repository.ErrNotFound) {
		debug.Log("Agent offline with no active task", map[string]interface{}{"agent_id": agentID})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up task for agent %d: %w", agentID, err)
	}

	if reason == "" {
		reason = "agent offline"
	}
	_, err = m.ReclaimTask(ctx, task, agentID, reason)
	var permanent *PermanentTaskFailureError
	if err != nil && !errors.As(err, &permanent) && !errors.Is(err, ErrTaskNotOwned) {
		return err
	}
	return nil
}

// ReclaimTask takes a chunk back from an agent, spending one retry. When the
// retry budget is exhausted the task fails permanently, the attack is marked
// failed and a *PermanentTaskFailureError is returned.
func (m *LeaseMonitorService) ReclaimTask(ctx context.Context, task *models.Task, agentID int, reason string) (models.TaskState, error) {
	state, ok, err := m.stores.Tasks.Reclaim(ctx, task.ID, agentID, m.config.MaxRetries, reason)
	if err != nil {
		return "", fmt.Errorf("failed to reclaim task %s: %w", task.ID, err)
	}
	if !ok {
		return "", fmt.Errorf("task %s: %w", task.ID, ErrTaskNotOwned)
	}

	retries := task.RetryCount + 1

	debug.Log("Task reclaimed", map[string]interface{}{
		"task_id":     task.ID,
		"agent_id":    agentID,
		"reason":      reason,
		"retry_count": retries,
		"new_state":   state,
		"progress":    task.Progress.String(),
	})

	if state != models.TaskStateFailed {
		m.events.taskState(task, &agentID, task.State, state, map[string]interface{}{"reason": reason})
		return state, nil
	}

	failure := &PermanentTaskFailureError{TaskID: task.ID, RetryCount: retries, Reason: reason}
	debug.Error("%v", failure)
	m.events.taskFailed(task, agentID, retries, reason)

	attack, err := m.stores.Attacks.GetByID(ctx, task.AttackID)
	if err != nil {
		debug.Warning("Failed to load attack %d after permanent failure: %v", task.AttackID, err)
		return state, failure
	}
	if attack.State != models.AttackStateFailed {
		if err := m.stores.Attacks.UpdateState(ctx, attack.ID, models.AttackStateFailed); err != nil {
			debug.Warning("Failed to mark attack %d failed: %v", attack.ID, err)
		} else {
			m.events.attackState(attack.CampaignID, attack.ID, attack.State, models.AttackStateFailed)
		}
	}
	return state, failure
}

// SetAgentEnabled toggles whether an agent may receive work. Disabling an agent
// returns its chunk to the pool without spending a retry.
func (m *LeaseMonitorService) SetAgentEnabled(ctx context.Context, agentID int, enabled bool) error {
	if err := m.stores.Agents.SetEnabled(ctx, agentID, enabled); err != nil {
		return fmt.Errorf("failed to update agent %d: %w", agentID, err)
	}
	if enabled {
		return nil
	}

	task, err := m.stores.Tasks.ActiveByAgent(ctx, agentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up task for agent %d: %w", agentID, err)
	}

	ok, err := m.stores.Tasks.Release(ctx, task.ID, agentID)
	if err != nil {
		return fmt.Errorf("failed to release task %s: %w", task.ID, err)
	}
	if ok {
		m.events.taskState(task, &agentID, task.State, models.TaskStatePending, map[string]interface{}{"reason": "agent disabled"})
		debug.Info("Released task %s from disabled agent %d", task.ID, agentID)
	}
	return nil
}
