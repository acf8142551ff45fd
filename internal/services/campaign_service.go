package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/google/uuid"
)

// CreateCampaignRequest holds the fields of a new campaign
type CreateCampaignRequest struct {
	ProjectID   int64  `json:"project_id"`
	HashListID  int64  `json:"hash_list_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority"`
	DAGEnabled  *bool  `json:"dag_enabled,omitempty"`
}

// UpdateCampaignRequest holds the campaign fields to change. Nil fields are left as they are.
type UpdateCampaignRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	DAGEnabled  *bool   `json:"dag_enabled,omitempty"`
}

// CreateAttackRequest holds the fields of a new attack
type CreateAttackRequest struct {
	Name     string              `json:"name"`
	Mode     models.AttackMode   `json:"mode"`
	HashType *int                `json:"hash_type,omitempty"` // defaults to the hash list type
	Phase    int                 `json:"phase"`
	Config   models.AttackConfig `json:"config"`
}

// UpdateAttackRequest edits an attack. Changing what the attack enumerates
// re-chunks it from scratch, which needs Confirm once work has started.
type UpdateAttackRequest struct {
	Name     *string              `json:"name,omitempty"`
	Mode     *models.AttackMode   `json:"mode,omitempty"`
	HashType *int                 `json:"hash_type,omitempty"`
	Config   *models.AttackConfig `json:"config,omitempty"`
	Confirm  bool                 `json:"confirm,omitempty"`
}

// AttackUpdateResult reports the outcome of an attack edit
type AttackUpdateResult struct {
	Attack               *models.Attack `json:"attack"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Restarted            bool           `json:"restarted"`
}

// CampaignService implements the operator facing campaign and attack lifecycle
type CampaignService struct {
	stores     Stores
	estimator  *KeyspaceEstimationService
	dag        *DAGResolver
	matcher    *CapabilityMatcher
	progress   *ProgressAggregationService
	events     eventPublisher
	dagDefault bool
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	stores Stores,
	estimator *KeyspaceEstimationService,
	dag *DAGResolver,
	matcher *CapabilityMatcher,
	progress *ProgressAggregationService,
	sink EventSink,
	dagDefault bool,
) *CampaignService {
	return &CampaignService{
		stores:     stores,
		estimator:  estimator,
		dag:        dag,
		matcher:    matcher,
		progress:   progress,
		events:     newEventPublisher(sink),
		dagDefault: dagDefault,
	}
}

// CreateCampaign creates a draft campaign targeting an existing hash list
func (s *CampaignService) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*models.Campaign, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, configErr("name", "campaign name is required")
	}
	if _, err := s.stores.Hashes.GetHashList(ctx, req.HashListID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, configErr("hash_list_id", "hash list %d not found", req.HashListID)
		}
		return nil, fmt.Errorf("failed to load hash list: %w", err)
	}

	campaign := &models.Campaign{
		ProjectID:   req.ProjectID,
		HashListID:  req.HashListID,
		Name:        name,
		Description: req.Description,
		Priority:    req.Priority,
		State:       models.CampaignStateDraft,
		DAGEnabled:  s.dagDefault,
	}
	if req.DAGEnabled != nil {
		campaign.DAGEnabled = *req.DAGEnabled
	}

	if err := s.stores.Campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	debug.Log("Campaign created", map[string]interface{}{
		"campaign_id":  campaign.ID,
		"hash_list_id": campaign.HashListID,
		"priority":     campaign.Priority,
		"dag_enabled":  campaign.DAGEnabled,
	})
	return campaign, nil
}

// UpdateCampaign edits campaign metadata. Disabling DAG flattens every attack to phase 0.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id int64, req UpdateCampaignRequest) (*models.Campaign, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, configErr("name", "campaign name is required")
		}
		campaign.Name = name
	}
	if req.Description != nil {
		campaign.Description = *req.Description
	}
	if req.Priority != nil {
		campaign.Priority = *req.Priority
	}

	flatten := false
	if req.DAGEnabled != nil && *req.DAGEnabled != campaign.DAGEnabled {
		flatten = !*req.DAGEnabled
		campaign.DAGEnabled = *req.DAGEnabled
	}

	if err := s.stores.Campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}

	if flatten {
		attacks, err := s.stores.Attacks.ListByCampaign(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to list attacks: %w", err)
		}
		for i, a := range attacks {
			if err := s.stores.Attacks.UpdatePlacement(ctx, a.ID, 0, i); err != nil {
				return nil, fmt.Errorf("failed to flatten attack %d: %w", a.ID, err)
			}
		}
	}
	return campaign, nil
}

// StartCampaign activates a draft campaign
func (s *CampaignService) StartCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	attacks, err := s.stores.Attacks.ListByCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list attacks: %w", err)
	}
	if len(attacks) == 0 {
		return nil, configErr("attacks", "campaign %d has no attacks", id)
	}
	if err := s.dag.Validate(campaign, attacks); err != nil {
		return nil, err
	}
	return s.transition(ctx, campaign, []models.CampaignState{models.CampaignStateDraft}, models.CampaignStateActive, nil)
}

// PauseCampaign stops new assignments. Running chunks are returned to the pool
// with their progress on the agents' next heartbeat.
func (s *CampaignService) PauseCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, campaign, []models.CampaignState{models.CampaignStateActive}, models.CampaignStatePaused, nil)
}

// ResumeCampaign reactivates a paused campaign
func (s *CampaignService) ResumeCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, campaign, []models.CampaignState{models.CampaignStatePaused}, models.CampaignStateActive, nil)
}

// CancelCampaign completes the campaign early and cancels its unfinished tasks
func (s *CampaignService) CancelCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if campaign.State == models.CampaignStateDraft {
		return s.transition(ctx, campaign, []models.CampaignState{models.CampaignStateDraft}, models.CampaignStateCompleted,
			map[string]interface{}{"reason": "cancelled"})
	}

	ok, err := finishCampaign(ctx, s.stores, s.events, campaign, "cancelled")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cannot cancel campaign %d in state %s: %w", id, campaign.State, ErrInvalidTransition)
	}
	return campaign, nil
}

// ArchiveCampaign archives a finished campaign
func (s *CampaignService) ArchiveCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := []models.CampaignState{models.CampaignStateCompleted, models.CampaignStateError, models.CampaignStateDraft}
	return s.transition(ctx, campaign, from, models.CampaignStateArchived, nil)
}

// RaisePriority moves the campaign ahead of every other active campaign
func (s *CampaignService) RaisePriority(ctx context.Context, id int64) (*models.Campaign, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := s.stores.Campaigns.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}

	highest := campaign.Priority
	for _, c := range active {
		if c.ID != id && c.Priority >= highest {
			highest = c.Priority + 1
		}
	}
	if highest == campaign.Priority {
		return campaign, nil
	}

	campaign.Priority = highest
	if err := s.stores.Campaigns.Update(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to raise priority: %w", err)
	}
	debug.Info("Campaign %d priority raised to %d", id, highest)
	return campaign, nil
}

func (s *CampaignService) transition(ctx context.Context, campaign *models.Campaign, from []models.CampaignState, to models.CampaignState, data map[string]interface{}) (*models.Campaign, error) {
	current := campaign.State
	ok, err := transitionCampaign(ctx, s.stores, s.events, campaign, from, to, data)
	if err != nil {
		return nil, fmt.Errorf("failed to transition campaign %d: %w", campaign.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("cannot move campaign %d from %s to %s: %w", campaign.ID, current, to, ErrInvalidTransition)
	}
	return campaign, nil
}

// CreateAttack estimates the attack's keyspace and appends it to the bottom of its phase
func (s *CampaignService) CreateAttack(ctx context.Context, campaignID int64, req CreateAttackRequest) (*models.Attack, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := requireEditable(campaign); err != nil {
		return nil, err
	}
	if !req.Mode.Valid() {
		return nil, configErr("mode", "unknown attack mode %q", req.Mode)
	}
	if req.Phase < 0 {
		return nil, configErr("phase", "phase must be non-negative, got %d", req.Phase)
	}
	if !campaign.DAGEnabled && req.Phase != 0 {
		return nil, configErr("phase", "campaign %d does not have DAG enabled", campaignID)
	}

	attack := &models.Attack{
		CampaignID: campaignID,
		Name:       strings.TrimSpace(req.Name),
		Mode:       req.Mode,
		Phase:      req.Phase,
		Config:     req.Config,
		State:      models.AttackStatePending,
	}
	if attack.Name == "" {
		attack.Name = string(req.Mode)
	}
	if req.HashType != nil {
		attack.HashType = *req.HashType
	} else {
		list, err := s.stores.Hashes.GetHashList(ctx, campaign.HashListID)
		if err != nil {
			return nil, fmt.Errorf("failed to load hash list: %w", err)
		}
		attack.HashType = list.HashTypeID
	}

	estimate, err := s.estimator.Estimate(ctx, attack)
	if err != nil {
		return nil, err
	}
	attack.Keyspace = estimate.Keyspace
	attack.ComplexityScore = estimate.ComplexityScore

	existing, err := s.stores.Attacks.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attacks: %w", err)
	}
	attack.Position = len(existing)

	if err := s.stores.Attacks.Create(ctx, attack); err != nil {
		return nil, fmt.Errorf("failed to create attack: %w", err)
	}
	if err := s.renumber(ctx, campaign); err != nil {
		return nil, err
	}

	debug.Log("Attack created", map[string]interface{}{
		"campaign_id": campaignID,
		"attack_id":   attack.ID,
		"mode":        attack.Mode,
		"phase":       attack.Phase,
		"keyspace":    attack.Keyspace.String(),
		"complexity":  attack.ComplexityScore,
	})
	return s.stores.Attacks.GetByID(ctx, attack.ID)
}

// UpdateAttack edits an attack. A change to what the attack enumerates
// re-estimates it and, once confirmed, discards its chunks and restarts it.
func (s *CampaignService) UpdateAttack(ctx context.Context, attackID int64, req UpdateAttackRequest) (*AttackUpdateResult, error) {
	attack, err := s.stores.Attacks.GetByID(ctx, attackID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.stores.Campaigns.GetByID(ctx, attack.CampaignID)
	if err != nil {
		return nil, err
	}
	if err := requireEditable(campaign); err != nil {
		return nil, err
	}

	updated := *attack
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}

	rechunk := req.Mode != nil || req.HashType != nil || req.Config != nil
	if req.Mode != nil {
		if !req.Mode.Valid() {
			return nil, configErr("mode", "unknown attack mode %q", *req.Mode)
		}
		updated.Mode = *req.Mode
	}
	if req.HashType != nil {
		updated.HashType = *req.HashType
	}
	if req.Config != nil {
		updated.Config = *req.Config
	}

	result := &AttackUpdateResult{Attack: attack}

	if rechunk {
		estimate, err := s.estimator.Estimate(ctx, &updated)
		if err != nil {
			return nil, err
		}
		updated.Keyspace = estimate.Keyspace
		updated.ComplexityScore = estimate.ComplexityScore

		summaries, err := s.stores.Tasks.SummarizeByCampaign(ctx, campaign.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize tasks: %w", err)
		}
		if summaries[attackID].HasNonPending() && !req.Confirm {
			result.RequiresConfirmation = true
			return result, nil
		}
		updated.State = models.AttackStatePending
		updated.ProgressPercent = 0
	}

	if err := s.stores.Attacks.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update attack: %w", err)
	}

	if rechunk {
		if err := s.stores.Tasks.ResetAttack(ctx, attackID); err != nil {
			return nil, fmt.Errorf("failed to reset attack: %w", err)
		}
		result.Restarted = true
		debug.Log("Attack re-chunked after edit", map[string]interface{}{
			"attack_id": attackID,
			"keyspace":  updated.Keyspace.String(),
		})
		if _, err := s.progress.RecalculateCampaign(ctx, campaign.ID); err != nil {
			debug.Warning("Failed to recalculate campaign %d: %v", campaign.ID, err)
		}
	}

	fresh, err := s.stores.Attacks.GetByID(ctx, attackID)
	if err != nil {
		return nil, err
	}
	result.Attack = fresh
	return result, nil
}

// ReorderAttack moves an attack. A move touching an attack with started work is
// only applied with Confirm; Restart also re-chunks the moved attack.
func (s *CampaignService) ReorderAttack(ctx context.Context, campaignID int64, req ReorderRequest) (*ReorderResult, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := requireEditable(campaign); err != nil {
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

	result, err := s.dag.Reorder(campaign, attacks, req, summaries)
	if err != nil {
		return nil, err
	}
	if result.RequiresConfirmation && !req.Confirm {
		return result, nil
	}

	for _, a := range result.Attacks {
		if err := s.stores.Attacks.UpdatePlacement(ctx, a.ID, a.Phase, a.Position); err != nil {
			return nil, fmt.Errorf("failed to update placement of attack %d: %w", a.ID, err)
		}
	}
	result.Applied = true

	if result.RequiresConfirmation && req.Restart {
		if err := s.stores.Tasks.ResetAttack(ctx, req.AttackID); err != nil {
			return nil, fmt.Errorf("failed to reset attack: %w", err)
		}
		if err := s.stores.Attacks.UpdateState(ctx, req.AttackID, models.AttackStatePending); err != nil {
			return nil, fmt.Errorf("failed to reset attack state: %w", err)
		}
	}

	debug.Log("Attack reordered", map[string]interface{}{
		"campaign_id": campaignID,
		"attack_id":   req.AttackID,
		"move":        req.Move,
		"changed":     len(result.Changed),
		"restarted":   result.RequiresConfirmation && req.Restart,
	})
	return result, nil
}

// RemoveAttack deletes an attack and its tasks. An attack with started work
// is only removed with confirm. Returns true when the attack was removed.
func (s *CampaignService) RemoveAttack(ctx context.Context, attackID int64, confirm bool) (bool, error) {
	attack, err := s.stores.Attacks.GetByID(ctx, attackID)
	if err != nil {
		return false, err
	}
	campaign, err := s.stores.Campaigns.GetByID(ctx, attack.CampaignID)
	if err != nil {
		return false, err
	}
	if err := requireEditable(campaign); err != nil {
		return false, err
	}

	summaries, err := s.stores.Tasks.SummarizeByCampaign(ctx, campaign.ID)
	if err != nil {
		return false, fmt.Errorf("failed to summarize tasks: %w", err)
	}
	if summaries[attackID].HasNonPending() && !confirm {
		return false, nil
	}

	if err := s.stores.Attacks.Delete(ctx, attackID); err != nil {
		return false, fmt.Errorf("failed to delete attack: %w", err)
	}
	if err := s.renumber(ctx, campaign); err != nil {
		return true, err
	}
	if _, err := s.progress.RecalculateCampaign(ctx, campaign.ID); err != nil {
		debug.Warning("Failed to recalculate campaign %d: %v", campaign.ID, err)
	}

	debug.Info("Attack %d removed from campaign %d", attackID, campaign.ID)
	return true, nil
}

// renumber rewrites positions 0..n-1 in (phase, position) order
func (s *CampaignService) renumber(ctx context.Context, campaign *models.Campaign) error {
	attacks, err := s.stores.Attacks.ListByCampaign(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to list attacks: %w", err)
	}
	sortByPlacement(campaign, attacks)
	for i, a := range attacks {
		if a.Position == i {
			continue
		}
		if err := s.stores.Attacks.UpdatePlacement(ctx, a.ID, a.Phase, i); err != nil {
			return fmt.Errorf("failed to renumber attack %d: %w", a.ID, err)
		}
	}
	return nil
}

// AcknowledgeTaskFailure accepts a permanently failed task so later phases may proceed
func (s *CampaignService) AcknowledgeTaskFailure(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.stores.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := s.stores.Tasks.AcknowledgeFailure(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge task %s: %w", taskID, err)
	}
	if !ok {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.State, ErrInvalidTransition)
	}

	debug.Info("Permanent failure of task %s acknowledged", taskID)
	s.recalculate(ctx, task)
	return s.stores.Tasks.GetByID(ctx, taskID)
}

// RetryTask returns a permanently failed task to the pool with a fresh retry budget
func (s *CampaignService) RetryTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.stores.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := s.stores.Tasks.Retry(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to retry task %s: %w", taskID, err)
	}
	if !ok {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.State, ErrInvalidTransition)
	}

	s.events.taskState(task, nil, models.TaskStateFailed, models.TaskStatePending, map[string]interface{}{"reason": "operator retry"})
	debug.Info("Task %s requeued by operator", taskID)
	s.recalculate(ctx, task)
	return s.stores.Tasks.GetByID(ctx, taskID)
}

func (s *CampaignService) recalculate(ctx context.Context, task *models.Task) {
	if _, err := s.progress.RecalculateAttack(ctx, task.AttackID); err != nil {
		debug.Warning("Failed to recalculate attack %d: %v", task.AttackID, err)
	}
	if _, err := s.progress.RecalculateCampaign(ctx, task.CampaignID); err != nil {
		debug.Warning("Failed to recalculate campaign %d: %v", task.CampaignID, err)
	}
}

// GetCampaignProgress returns a snapshot of the stored aggregates
func (s *CampaignService) GetCampaignProgress(ctx context.Context, id int64) (*models.CampaignProgress, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	attacks, err := s.stores.Attacks.ListByCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list attacks: %w", err)
	}
	summaries, err := s.stores.Tasks.SummarizeByCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize tasks: %w", err)
	}
	blocked, err := s.stores.Tasks.ListBlocked(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocked tasks: %w", err)
	}
	activeAgents, err := s.stores.Tasks.CountActiveAgents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count active agents: %w", err)
	}

	snapshot := &models.CampaignProgress{
		CampaignID:      campaign.ID,
		State:           campaign.State,
		ProgressPercent: campaign.ProgressPercent,
		CrackedCount:    campaign.CrackedCount,
		ActiveAgents:    activeAgents,
		Attacks:         make([]models.AttackProgress, 0, len(attacks)),
		TaskCounts:      make(map[models.TaskState]int),
	}

	if list, err := s.stores.Hashes.GetHashList(ctx, campaign.HashListID); err == nil {
		snapshot.TotalHashes = list.TotalHashes
	} else {
		debug.Warning("Failed to load hash list %d for campaign %d: %v", campaign.HashListID, id, err)
	}

	for _, a := range attacks {
		snapshot.Attacks = append(snapshot.Attacks, models.AttackProgress{
			AttackID:        a.ID,
			Name:            a.Name,
			Phase:           a.Phase,
			Position:        a.Position,
			State:           a.State,
			Keyspace:        a.Keyspace,
			ProgressPercent: a.ProgressPercent,
		})
	}
	for _, summary := range summaries {
		for state, n := range summary.Counts {
			snapshot.TaskCounts[state] += n
			snapshot.TotalTasks += n
		}
	}
	for _, t := range blocked {
		snapshot.BlockedTasks = append(snapshot.BlockedTasks, models.BlockedTaskEntry{
			TaskID:     t.ID.String(),
			AttackID:   t.AttackID,
			RetryCount: t.RetryCount,
			Error:      t.ErrorMessage,
		})
	}
	return snapshot, nil
}

// EligibleAgents ranks the agents that could run the attack right now
func (s *CampaignService) EligibleAgents(ctx context.Context, attackID int64) ([]models.Agent, error) {
	attack, err := s.stores.Attacks.GetByID(ctx, attackID)
	if err != nil {
		return nil, err
	}
	agents, err := s.stores.Agents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	for i := range agents {
		held, err := s.stores.Tasks.ActiveByAgent(ctx, agents[i].ID)
		if err == nil {
			id := held.ID
			agents[i].CurrentTaskID = &id
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up task for agent %d: %w", agents[i].ID, err)
		}
	}
	return s.matcher.Rank(agents, attack), nil
}

func requireEditable(campaign *models.Campaign) error {
	switch campaign.State {
	case models.CampaignStateCompleted, models.CampaignStateArchived:
		return fmt.Errorf("campaign %d is %s: %w", campaign.ID, campaign.State, ErrInvalidTransition)
	}
	return nil
}

// GetCampaign returns a campaign
func (s *CampaignService) GetCampaign(ctx context.Context, id int64) (*models.Campaign, error) {
	return s.stores.Campaigns.GetByID(ctx, id)
}

// ListAttacks returns the campaign's attacks in scheduling order
func (s *CampaignService) ListAttacks(ctx context.Context, campaignID int64) ([]models.Attack, error) {
	campaign, err := s.stores.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	attacks, err := s.stores.Attacks.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attacks: %w", err)
	}
	sortByPlacement(campaign, attacks)
	return attacks, nil
}

// ListTasks returns the chunks of an attack
func (s *CampaignService) ListTasks(ctx context.Context, attackID int64) ([]models.Task, error) {
	if _, err := s.stores.Attacks.GetByID(ctx, attackID); err != nil {
		return nil, err
	}
	return s.stores.Tasks.ListByAttack(ctx, attackID)
}

// ListAgents returns every registered agent
func (s *CampaignService) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return s.stores.Agents.List(ctx)
}
