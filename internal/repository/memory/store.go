// Package memory is an in-process store with the same conditional update
// semantics as the Postgres repositories. A single mutex serializes every
// operation, so each method is atomic.
package memory

import (
	"sync"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/google/uuid"
)

// Store holds all engine state in memory
type Store struct {
	mu sync.Mutex

	now func() time.Time

	campaigns    map[int64]*models.Campaign
	attacks      map[int64]*models.Attack
	tasks        map[uuid.UUID]*models.Task
	agents       map[int]*models.Agent
	hashLists    map[int64]*models.HashList
	hashItems    map[int64]map[string]*models.HashItem
	nextCampaign int64
	nextAttack   int64
	nextHashList int64
	nextHashItem int64
	taskSeq      int64
	taskOrder    map[uuid.UUID]int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		now:       time.Now,
		campaigns: make(map[int64]*models.Campaign),
		attacks:   make(map[int64]*models.Attack),
		tasks:     make(map[uuid.UUID]*models.Task),
		agents:    make(map[int]*models.Agent),
		hashLists: make(map[int64]*models.HashList),
		hashItems: make(map[int64]map[string]*models.HashItem),
		taskOrder: make(map[uuid.UUID]int64),
	}
}

// SetClock replaces the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Campaigns returns the campaign view of the store
func (s *Store) Campaigns() *CampaignStore { return &CampaignStore{s: s} }

// Attacks returns the attack view of the store
func (s *Store) Attacks() *AttackStore { return &AttackStore{s: s} }

// Tasks returns the task view of the store
func (s *Store) Tasks() *TaskStore { return &TaskStore{s: s} }

// Agents returns the agent view of the store
func (s *Store) Agents() *AgentStore { return &AgentStore{s: s} }

// Hashes returns the hash list view of the store
func (s *Store) Hashes() *HashStore { return &HashStore{s: s} }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
