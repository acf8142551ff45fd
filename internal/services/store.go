package services

import (
	"context"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/google/uuid"
)

// CampaignStore persists campaigns
type CampaignStore interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id int64) (*models.Campaign, error)
	Update(ctx context.Context, campaign *models.Campaign) error
	// TransitionState moves the campaign to `to` only if it is currently in one of `from`
	TransitionState(ctx context.Context, id int64, from []models.CampaignState, to models.CampaignState) (bool, error)
	UpdateProgress(ctx context.Context, id int64, percent float64) error
	IncrementCracked(ctx context.Context, id int64, delta int64) error
	// ListActive returns active campaigns by priority desc, then creation time asc
	ListActive(ctx context.Context) ([]models.Campaign, error)
	ListByHashList(ctx context.Context, hashListID int64) ([]models.Campaign, error)
}

// AttackStore persists attacks
type AttackStore interface {
	Create(ctx context.Context, attack *models.Attack) error
	GetByID(ctx context.Context, id int64) (*models.Attack, error)
	// ListByCampaign returns attacks ordered by phase, position, id
	ListByCampaign(ctx context.Context, campaignID int64) ([]models.Attack, error)
	Update(ctx context.Context, attack *models.Attack) error
	UpdatePlacement(ctx context.Context, id int64, phase, position int) error
	UpdateState(ctx context.Context, id int64, state models.AttackState) error
	UpdateProgress(ctx context.Context, id int64, percent float64) error
	Delete(ctx context.Context, id int64) error
}

// TaskStore persists tasks. Every state change is a conditional update that
// reports false when the row was not in the expected state.
type TaskStore interface {
	// CreateNextChunk advances the attack cursor from `from` to `to` and inserts
	// the pending task for [from, to). Returns repository.ErrConflict when the
	// cursor has moved.
	CreateNextChunk(ctx context.Context, attackID, campaignID int64, from, to models.Keyspace) (*models.Task, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByAttack(ctx context.Context, attackID int64) ([]models.Task, error)
	// OldestPending returns repository.ErrNotFound when the attack has no pending task
	OldestPending(ctx context.Context, attackID int64) (*models.Task, error)
	// ActiveByAgent returns repository.ErrNotFound when the agent holds no lease
	ActiveByAgent(ctx context.Context, agentID int) (*models.Task, error)
	SummarizeByCampaign(ctx context.Context, campaignID int64) (map[int64]models.TaskSummary, error)
	SumProgress(ctx context.Context, attackID int64) (models.Keyspace, error)
	ListExpiredLeases(ctx context.Context, cutoff time.Time) ([]models.Task, error)
	ListBlocked(ctx context.Context, campaignID int64) ([]models.Task, error)
	CountActiveAgents(ctx context.Context, campaignID int64) (int, error)

	// Claim binds a pending, unowned task to the agent
	Claim(ctx context.Context, id uuid.UUID, agentID int, leaseExpiresAt time.Time) (bool, error)
	// RecordProgress raises progress monotonically, renews the lease and moves Assigned to Running
	RecordProgress(ctx context.Context, id uuid.UUID, agentID int, progress models.Keyspace, hashRate int64, leaseExpiresAt time.Time) (bool, error)
	RenewLease(ctx context.Context, id uuid.UUID, agentID int, leaseExpiresAt time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, agentID int) (bool, error)
	// Reclaim returns an active task to Pending with retry_count+1, or to Failed
	// once retry_count exceeds maxRetries. The resulting state is returned.
	Reclaim(ctx context.Context, id uuid.UUID, agentID int, maxRetries int, reason string) (models.TaskState, bool, error)
	// Release returns an active task to Pending keeping its progress and retry count
	Release(ctx context.Context, id uuid.UUID, agentID int) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	CancelByCampaign(ctx context.Context, campaignID int64) (int64, error)
	AcknowledgeFailure(ctx context.Context, id uuid.UUID) (bool, error)
	Retry(ctx context.Context, id uuid.UUID) (bool, error)
	// ResetAttack deletes all tasks of the attack and rewinds its cursor to zero
	ResetAttack(ctx context.Context, attackID int64) error
}

// AgentStore persists agents
type AgentStore interface {
	GetByID(ctx context.Context, id int) (*models.Agent, error)
	// Upsert registers the agent or refreshes its capabilities and last_seen_at
	Upsert(ctx context.Context, agent *models.Agent) error
	List(ctx context.Context) ([]models.Agent, error)
	UpdateState(ctx context.Context, id int, state models.AgentState) error
	SetEnabled(ctx context.Context, id int, enabled bool) error
	Touch(ctx context.Context, id int, seenAt time.Time) error
}

// HashStore persists hash lists and their items
type HashStore interface {
	CreateHashList(ctx context.Context, list *models.HashList, hashes []string) error
	GetHashList(ctx context.Context, id int64) (*models.HashList, error)
	ListHashValues(ctx context.Context, hashListID int64) ([]string, error)
	GetItem(ctx context.Context, hashListID int64, hashValue string) (*models.HashItem, error)
	// MarkCracked flips cracked false->true exactly once and bumps the list counter
	MarkCracked(ctx context.Context, hashListID int64, hashValue, plaintext string, by models.CrackedBy, at time.Time) (bool, error)
	CountUncracked(ctx context.Context, hashListID int64) (int64, error)
}

// ResourceResolver is the resource store collaborator
type ResourceResolver interface {
	// Count returns the line count of a wordlist or rule file
	Count(ctx context.Context, ref string) (int64, error)
	// Locate returns an access location for the agent, opaque to the engine
	Locate(ctx context.Context, ref string) (string, error)
}

// EventSink receives fire-and-forget state change notifications
type EventSink interface {
	Publish(event models.Event)
}

// Stores groups the persistence dependencies of the engine
type Stores struct {
	Campaigns CampaignStore
	Attacks   AttackStore
	Tasks     TaskStore
	Agents    AgentStore
	Hashes    HashStore
}

type nopSink struct{}

func (nopSink) Publish(models.Event) {}
