package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/google/uuid"
)

// maxClaimAttempts bounds the compare-and-swap retries on a single attack
const maxClaimAttempts = 8

// CheckInAction tells the agent what to do after a check-in
type CheckInAction string

const (
	ActionNoWork   CheckInAction = "no_work"
	ActionAssign   CheckInAction = "assign"
	ActionContinue CheckInAction = "continue"
	ActionStop     CheckInAction = "stop"
)

// ActiveTaskStatus is the agent's view of the chunk it is working on
type ActiveTaskStatus struct {
	TaskID           uuid.UUID        `json:"task_id"`
	GuessesCompleted *models.Keyspace `json:"guesses_completed,omitempty"`
	HashRate         int64            `json:"hash_rate,omitempty"`
}

// CheckInRequest is an agent heartbeat
type CheckInRequest struct {
	AgentID      int                      `json:"agent_id"`
	Capabilities models.AgentCapabilities `json:"capabilities"`
	ActiveTask   *ActiveTaskStatus        `json:"active_task,omitempty"`
}

// ChunkDescriptor is everything an agent needs to run a chunk.
// Agents resume at ResumeFrom, which is past the offset when a chunk is reassigned.
type ChunkDescriptor struct {
	TaskID         uuid.UUID           `json:"task_id"`
	CampaignID     int64               `json:"campaign_id"`
	AttackID       int64               `json:"attack_id"`
	HashListID     int64               `json:"hash_list_id"`
	HashType       int                 `json:"hash_type"`
	Mode           models.AttackMode   `json:"attack_mode"`
	ChunkNumber    int                 `json:"chunk_number"`
	KeyspaceOffset models.Keyspace     `json:"keyspace_offset"`
	KeyspaceLimit  models.Keyspace     `json:"keyspace_limit"`
	ResumeFrom     models.Keyspace     `json:"resume_from"`
	Config         models.AttackConfig `json:"config"`
	Resources      map[string]string   `json:"resources,omitempty"`
	LeaseExpiresAt time.Time           `json:"lease_expires_at"`
}

// CheckInResponse is the scheduler's answer to a heartbeat
type CheckInResponse struct {
	Action         CheckInAction    `json:"action"`
	Chunk          *ChunkDescriptor `json:"chunk,omitempty"`
	TaskID         *uuid.UUID       `json:"task_id,omitempty"`
	LeaseExpiresAt *time.Time       `json:"lease_expires_at,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// TaskSchedulingService hands chunks to agents on check-in
type TaskSchedulingService struct {
	stores        Stores
	partitioner   *ChunkPartitionService
	matcher       *CapabilityMatcher
	dag           *DAGResolver
	progress      *ProgressAggregationService
	resources     ResourceResolver
	events        eventPublisher
	leaseDuration time.Duration
	now           func() time.Time
}

// NewTaskSchedulingService creates a new task scheduling service
func NewTaskSchedulingService(
	stores Stores,
	partitioner *ChunkPartitionService,
	matcher *CapabilityMatcher,
	dag *DAGResolver,
	progress *ProgressAggregationService,
	resources ResourceResolver,
	sink EventSink,
	leaseDuration time.Duration,
	now func() time.Time,
) *TaskSchedulingService {
	if now == nil {
		now = time.Now
	}
	return &TaskSchedulingService{
		stores:        stores,
		partitioner:   partitioner,
		matcher:       matcher,
		dag:           dag,
		progress:      progress,
		resources:     resources,
		events:        newEventPublisher(sink),
		leaseDuration: leaseDuration,
		now:           now,
	}
}

// CheckIn registers the agent's capabilities and decides its next action.
// An agent holding a lease is never given a second chunk.
func (s *TaskSchedulingService) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResponse, error) {
	agent, err := s.registerAgent(ctx, req)
	if err != nil {
		return nil, err
	}

	held, err := s.stores.Tasks.ActiveByAgent(ctx, agent.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up active task for agent %d: %w", agent.ID, err)
	}
	if held != nil {
		return s.handleHeld(ctx, agent, held, req.ActiveTask)
	}

	if req.ActiveTask != nil {
		// The lease was reclaimed while the agent kept working
		debug.Warning("Agent %d reports task %s it no longer holds", agent.ID, req.ActiveTask.TaskID)
		taskID := req.ActiveTask.TaskID
		return &CheckInResponse{Action: ActionStop, TaskID: &taskID, Reason: "lease no longer held"}, nil
	}

	return s.schedule(ctx, agent)
}

func (s *TaskSchedulingService) registerAgent(ctx context.Context, req CheckInRequest) (*models.Agent, error) {
	now := s.now()
	agent := &models.Agent{
		ID:         req.AgentID,
		Name:       req.Capabilities.Name,
		Enabled:    true,
		State:      models.AgentStateActive,
		Benchmarks: req.Capabilities.Benchmarks,
		Devices:    req.Capabilities.Devices,
		LastSeenAt: now,
	}

	existing, err := s.stores.Agents.GetByID(ctx, req.AgentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		debug.Info("Registering new agent %d", req.AgentID)
	case err != nil:
		return nil, fmt.Errorf("failed to load agent %d: %w", req.AgentID, err)
	default:
		agent.Enabled = existing.Enabled
		if existing.State != models.AgentStateOffline {
			agent.State = existing.State
		} else {
			debug.Info("Agent %d is back online", req.AgentID)
		}
		if agent.Benchmarks == nil {
			agent.Benchmarks = existing.Benchmarks
		}
		if agent.Devices == nil {
			agent.Devices = existing.Devices
		}
	}
	if agent.Benchmarks == nil {
		agent.Benchmarks = models.BenchmarkMap{}
	}

	if err := s.stores.Agents.Upsert(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to register agent %d: %w", req.AgentID, err)
	}
	return agent, nil
}

func (s *TaskSchedulingService) handleHeld(ctx context.Context, agent *models.Agent, held *models.Task, reported *ActiveTaskStatus) (*CheckInResponse, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, held.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign %d: %w", held.CampaignID, err)
	}

	if !campaign.State.Schedulable() {
		return s.stopHeld(ctx, agent, held, campaign)
	}

	if reported != nil && reported.TaskID == held.ID {
		if reported.GuessesCompleted != nil {
			return s.heartbeatProgress(ctx, agent, held, reported)
		}
		lease := s.now().Add(s.leaseDuration)
		ok, err := s.stores.Tasks.RenewLease(ctx, held.ID, agent.ID, lease)
		if err != nil {
			return nil, fmt.Errorf("failed to renew lease on task %s: %w", held.ID, err)
		}
		taskID := held.ID
		if !ok {
			return &CheckInResponse{Action: ActionStop, TaskID: &taskID, Reason: "lease no longer held"}, nil
		}
		return &CheckInResponse{Action: ActionContinue, TaskID: &taskID, LeaseExpiresAt: &lease}, nil
	}

	// A chunk whose progress already reached its limit is finished, not re-sent
	if held.Progress.Cmp(held.Size()) >= 0 {
		if _, err := s.progress.Report(ctx, ProgressReport{TaskID: held.ID, AgentID: agent.ID, Done: true, Timestamp: s.now()}); err != nil {
			return nil, fmt.Errorf("failed to complete task %s: %w", held.ID, err)
		}
		return s.schedule(ctx, agent)
	}

	// The agent lost track of its chunk (restart or reconnect): hand it back
	lease := s.now().Add(s.leaseDuration)
	ok, err := s.stores.Tasks.RenewLease(ctx, held.ID, agent.ID, lease)
	if err != nil {
		return nil, fmt.Errorf("failed to renew lease on task %s: %w", held.ID, err)
	}
	if !ok {
		return s.schedule(ctx, agent)
	}
	held.LeaseExpiresAt = &lease

	attack, err := s.stores.Attacks.GetByID(ctx, held.AttackID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attack %d: %w", held.AttackID, err)
	}
	debug.Info("Re-sending held task %s to agent %d", held.ID, agent.ID)
	return &CheckInResponse{Action: ActionAssign, Chunk: s.describe(ctx, held, attack, campaign)}, nil
}

// heartbeatProgress applies the progress carried by a heartbeat the same way a
// progress report is applied. A heartbeat that finishes the chunk gets the next one.
func (s *TaskSchedulingService) heartbeatProgress(ctx context.Context, agent *models.Agent, held *models.Task, reported *ActiveTaskStatus) (*CheckInResponse, error) {
	taskID := held.ID
	ack, err := s.progress.Report(ctx, ProgressReport{
		TaskID:           held.ID,
		AgentID:          agent.ID,
		GuessesCompleted: *reported.GuessesCompleted,
		HashRate:         reported.HashRate,
		Timestamp:        s.now(),
	})
	if errors.Is(err, ErrTaskNotOwned) {
		return &CheckInResponse{Action: ActionStop, TaskID: &taskID, Reason: "lease no longer held"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply heartbeat progress for task %s: %w", held.ID, err)
	}

	switch {
	case ack.State == models.TaskStateCompleted:
		debug.Info("Agent %d finished task %s on heartbeat", agent.ID, held.ID)
		return s.schedule(ctx, agent)
	case ack.Stop:
		return &CheckInResponse{Action: ActionStop, TaskID: &taskID, Reason: "campaign stopped"}, nil
	}
	lease := s.now().Add(s.leaseDuration)
	return &CheckInResponse{Action: ActionContinue, TaskID: &taskID, LeaseExpiresAt: &lease}, nil
}

// stopHeld takes a chunk back from an agent whose campaign stopped scheduling.
// Paused campaigns keep the chunk's progress for later, finished campaigns cancel it.
func (s *TaskSchedulingService) stopHeld(ctx context.Context, agent *models.Agent, held *models.Task, campaign *models.Campaign) (*CheckInResponse, error) {
	var (
		ok       bool
		err      error
		newState models.TaskState
	)
	switch campaign.State {
	case models.CampaignStateCompleted, models.CampaignStateArchived:
		ok, err = s.stores.Tasks.Cancel(ctx, held.ID)
		newState = models.TaskStateCancelled
	default:
		ok, err = s.stores.Tasks.Release(ctx, held.ID, agent.ID)
		newState = models.TaskStatePending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stop task %s: %w", held.ID, err)
	}
	if ok {
		agentID := agent.ID
		s.events.taskState(held, &agentID, held.State, newState, map[string]interface{}{"reason": "campaign " + string(campaign.State)})
	}

	debug.Log("Stopping task on heartbeat", map[string]interface{}{
		"task_id":        held.ID,
		"agent_id":       agent.ID,
		"campaign_id":    campaign.ID,
		"campaign_state": campaign.State,
		"new_state":      newState,
	})

	taskID := held.ID
	return &CheckInResponse{
		Action: ActionStop,
		TaskID: &taskID,
		Reason: fmt.Sprintf("campaign is %s", campaign.State),
	}, nil
}

func (s *TaskSchedulingService) schedule(ctx context.Context, agent *models.Agent) (*CheckInResponse, error) {
	if !agent.Enabled {
		return &CheckInResponse{Action: ActionNoWork, Reason: "agent is disabled"}, nil
	}
	if agent.State != models.AgentStateActive {
		return &CheckInResponse{Action: ActionNoWork, Reason: fmt.Sprintf("agent is %s", agent.State)}, nil
	}
	agent.CurrentTaskID = nil

	campaigns, err := s.stores.Campaigns.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}

	for i := range campaigns {
		campaign := &campaigns[i]
		task, attack, err := s.scheduleCampaign(ctx, campaign, agent)
		if err != nil {
			// scoped to the campaign, the next one may still have work
			debug.Error("Scheduling failed for campaign %d: %v", campaign.ID, err)
			continue
		}
		if task == nil {
			continue
		}

		if task.CampaignID != campaign.ID {
			if campaign, err = s.stores.Campaigns.GetByID(ctx, task.CampaignID); err != nil {
				return nil, fmt.Errorf("failed to load campaign %d: %w", task.CampaignID, err)
			}
		}
		return &CheckInResponse{Action: ActionAssign, Chunk: s.describe(ctx, task, attack, campaign)}, nil
	}

	return &CheckInResponse{Action: ActionNoWork, Reason: "no eligible work"}, nil
}

// scheduleCampaign tries the attacks of the campaign's ready phase in position order
func (s *TaskSchedulingService) scheduleCampaign(ctx context.Context, campaign *models.Campaign, agent *models.Agent) (*models.Task, *models.Attack, error) {
	attacks, err := s.stores.Attacks.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list attacks: %w", err)
	}
	summaries, err := s.stores.Tasks.SummarizeByCampaign(ctx, campaign.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to summarize tasks: %w", err)
	}

	phase, ok := s.dag.ReadyPhase(campaign, attacks, summaries)
	if !ok {
		return nil, nil, nil
	}

	candidates := make([]models.Attack, 0, len(attacks))
	for _, a := range attacks {
		if EffectivePhase(campaign, &a) != phase {
			if EffectivePhase(campaign, &a) > phase {
				debug.Debug("Attack %d skipped: %v (phase %d waiting on %d)", a.ID, ErrDependencyNotReady, a.Phase, phase)
			}
			continue
		}
		if a.State == models.AttackStateCompleted {
			continue
		}
		candidates = append(candidates, a)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Position < candidates[j].Position
	})

	for i := range candidates {
		attack := &candidates[i]
		if err := s.matcher.Check(agent, attack); err != nil {
			debug.Debug("Attack %d skipped for agent %d: %v", attack.ID, agent.ID, err)
			continue
		}

		task, err := s.claimFromAttack(ctx, agent, attack)
		if errors.Is(err, ErrAttackExhausted) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		if task.AttackID != attack.ID {
			if attack, err = s.stores.Attacks.GetByID(ctx, task.AttackID); err != nil {
				return nil, nil, fmt.Errorf("failed to load attack %d: %w", task.AttackID, err)
			}
			return task, attack, nil
		}

		s.markAttackRunning(ctx, attack)
		agentID := agent.ID
		s.events.taskState(task, &agentID, models.TaskStatePending, models.TaskStateAssigned, nil)
		return task, attack, nil
	}
	return nil, nil, nil
}

// claimFromAttack assigns the attack's oldest pending chunk to the agent,
// materializing a new chunk when none is pending.
func (s *TaskSchedulingService) claimFromAttack(ctx context.Context, agent *models.Agent, attack *models.Attack) (*models.Task, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		task, err := s.stores.Tasks.OldestPending(ctx, attack.ID)
		if errors.Is(err, repository.ErrNotFound) {
			if attack.FullyChunked() {
				return nil, ErrAttackExhausted
			}
			size := s.partitioner.ChunkSize(attack, agent)
			task, err = s.partitioner.NextChunk(ctx, attack, size)
			if errors.Is(err, ErrAssignmentConflict) {
				if rerr := s.reloadAttack(ctx, attack); rerr != nil {
					return nil, rerr
				}
				continue
			}
		}
		if err != nil {
			return nil, err
		}

		lease := s.now().Add(s.leaseDuration)
		won, err := s.stores.Tasks.Claim(ctx, task.ID, agent.ID, lease)
		if err != nil {
			return nil, fmt.Errorf("failed to claim task %s: %w", task.ID, err)
		}
		if won {
			agentID := agent.ID
			task.State = models.TaskStateAssigned
			task.AgentID = &agentID
			task.LeaseExpiresAt = &lease

			debug.Log("Task assigned", map[string]interface{}{
				"task_id":      task.ID,
				"agent_id":     agent.ID,
				"attack_id":    attack.ID,
				"chunk_number": task.ChunkNumber,
				"offset":       task.KeyspaceOffset.String(),
				"limit":        task.KeyspaceLimit.String(),
				"retry_count":  task.RetryCount,
			})
			return task, nil
		}

		// Lost the race. A concurrent check-in of the same agent may have won a task.
		if held, herr := s.stores.Tasks.ActiveByAgent(ctx, agent.ID); herr == nil {
			return held, nil
		}
		debug.Debug("Lost claim on task %s (attempt %d): %v", task.ID, attempt+1, ErrAssignmentConflict)
	}
	return nil, fmt.Errorf("attack %d: %w", attack.ID, ErrAssignmentConflict)
}

func (s *TaskSchedulingService) reloadAttack(ctx context.Context, attack *models.Attack) error {
	fresh, err := s.stores.Attacks.GetByID(ctx, attack.ID)
	if err != nil {
		return fmt.Errorf("failed to reload attack %d: %w", attack.ID, err)
	}
	*attack = *fresh
	return nil
}

func (s *TaskSchedulingService) markAttackRunning(ctx context.Context, attack *models.Attack) {
	if attack.State != models.AttackStatePending {
		return
	}
	if err := s.stores.Attacks.UpdateState(ctx, attack.ID, models.AttackStateRunning); err != nil {
		debug.Warning("Failed to mark attack %d running: %v", attack.ID, err)
		return
	}
	s.events.attackState(attack.CampaignID, attack.ID, attack.State, models.AttackStateRunning)
	attack.State = models.AttackStateRunning
}

func (s *TaskSchedulingService) describe(ctx context.Context, task *models.Task, attack *models.Attack, campaign *models.Campaign) *ChunkDescriptor {
	desc := &ChunkDescriptor{
		TaskID:         task.ID,
		CampaignID:     campaign.ID,
		AttackID:       attack.ID,
		HashListID:     campaign.HashListID,
		HashType:       attack.HashType,
		Mode:           attack.Mode,
		ChunkNumber:    task.ChunkNumber,
		KeyspaceOffset: task.KeyspaceOffset,
		KeyspaceLimit:  task.KeyspaceLimit,
		ResumeFrom:     task.KeyspaceOffset.Add(task.Progress),
		Config:         attack.Config,
	}
	if task.LeaseExpiresAt != nil {
		desc.LeaseExpiresAt = *task.LeaseExpiresAt
	}

	refs := attack.Config.ResourceRefs()
	if len(refs) > 0 {
		desc.Resources = make(map[string]string, len(refs))
		for _, ref := range refs {
			location := ref
			if s.resources != nil {
				loc, err := s.resources.Locate(ctx, ref)
				if err != nil {
					debug.Warning("Failed to locate resource %s for task %s: %v", ref, task.ID, err)
				} else {
					location = loc
				}
			}
			desc.Resources[ref] = location
		}
	}
	return desc
}
