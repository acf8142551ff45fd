package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
)

const (
	// maxHashListFilters bounds the number of cached membership filters
	maxHashListFilters = 64
	bloomFalsePositive = 0.001
)

// CrackResult is a cracked hash reported by an agent
type CrackResult struct {
	TaskID    uuid.UUID `json:"task_id"`
	AgentID   int       `json:"agent_id"`
	HashValue string    `json:"hash_value"`
	Plaintext string    `json:"plaintext"`
	Timestamp time.Time `json:"timestamp"`
}

// IngestOutcome describes what a crack result changed
type IngestOutcome struct {
	HashValue         string `json:"hash_value"`
	NewlyCracked      bool   `json:"newly_cracked"`
	Duplicate         bool   `json:"duplicate"`
	HashListCompleted bool   `json:"hash_list_completed,omitempty"`
}

// hashListFilter holds a membership filter and its last access time for LRU eviction
type hashListFilter struct {
	filter     *bloom.BloomFilter
	lastAccess time.Time
}

// ResultIngestionService records cracked hashes exactly once
type ResultIngestionService struct {
	stores Stores
	events eventPublisher
	now    func() time.Time

	mu      sync.Mutex
	filters map[int64]*hashListFilter
}

// NewResultIngestionService creates a new result ingestion service
func NewResultIngestionService(stores Stores, sink EventSink, now func() time.Time) *ResultIngestionService {
	if now == nil {
		now = time.Now
	}
	return &ResultIngestionService{
		stores:  stores,
		events:  newEventPublisher(sink),
		now:     now,
		filters: make(map[int64]*hashListFilter),
	}
}

// NormalizeHash trims whitespace and lowercases hex digests so that agents and
// uploads agree on a single representation. Salted and structured formats are
// left as they are apart from trimming.
func NormalizeHash(value string) string {
	value = strings.TrimSpace(value)
	for i := 0; i < len(value); i++ {
		c := value[i]
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return value
		}
	}
	return strings.ToLower(value)
}

// CreateHashList normalizes and stores a hash list
func (s *ResultIngestionService) CreateHashList(ctx context.Context, list *models.HashList, hashes []string) error {
	normalized := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if n := NormalizeHash(h); n != "" {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return configErr("hashes", "hash list %q has no hashes", list.Name)
	}

	if err := s.stores.Hashes.CreateHashList(ctx, list, normalized); err != nil {
		return fmt.Errorf("failed to create hash list: %w", err)
	}
	debug.Info("Created hash list %d (%s) with %d hashes", list.ID, list.Name, list.TotalHashes)
	return nil
}

// Ingest records a crack. A hash that is already cracked is acknowledged
// without any change so agent retries are never treated as errors. Cracks for
// a task held by another agent are rejected with ErrTaskNotOwned.
func (s *ResultIngestionService) Ingest(ctx context.Context, result CrackResult) (*IngestOutcome, error) {
	task, err := s.stores.Tasks.GetByID(ctx, result.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", result.TaskID, err)
	}
	// a released task has no agent, so late cracks from its previous holder still count
	if result.AgentID != 0 && task.AgentID != nil && *task.AgentID != result.AgentID {
		return nil, fmt.Errorf("task %s: %w", task.ID, ErrTaskNotOwned)
	}
	campaign, err := s.stores.Campaigns.GetByID(ctx, task.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign %d: %w", task.CampaignID, err)
	}

	hashValue := NormalizeHash(result.HashValue)
	outcome := &IngestOutcome{HashValue: hashValue}

	member, err := s.mightContain(ctx, campaign.HashListID, hashValue)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, fmt.Errorf("hash %q: %w", hashValue, ErrHashNotInList)
	}

	item, err := s.stores.Hashes.GetItem(ctx, campaign.HashListID, hashValue)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("hash %q: %w", hashValue, ErrHashNotInList)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load hash: %w", err)
	}
	if item.Cracked {
		outcome.Duplicate = true
		return outcome, nil
	}

	agentID := result.AgentID
	if agentID == 0 && task.AgentID != nil {
		agentID = *task.AgentID
	}
	crackedAt := result.Timestamp
	if crackedAt.IsZero() {
		crackedAt = s.now()
	}
	by := models.CrackedBy{AttackID: task.AttackID, TaskID: task.ID, AgentID: agentID}

	first, err := s.stores.Hashes.MarkCracked(ctx, campaign.HashListID, hashValue, result.Plaintext, by, crackedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mark hash cracked: %w", err)
	}
	if !first {
		outcome.Duplicate = true
		return outcome, nil
	}
	outcome.NewlyCracked = true

	if err := s.stores.Campaigns.IncrementCracked(ctx, campaign.ID, 1); err != nil {
		return nil, fmt.Errorf("failed to increment cracked count: %w", err)
	}
	s.events.hashCracked(campaign.ID, task.AttackID, task.ID, agentID, hashValue)

	debug.Log("Hash cracked", map[string]interface{}{
		"campaign_id":  campaign.ID,
		"hash_list_id": campaign.HashListID,
		"task_id":      task.ID,
		"agent_id":     agentID,
	})

	remaining, err := s.stores.Hashes.CountUncracked(ctx, campaign.HashListID)
	if err != nil {
		return nil, fmt.Errorf("failed to count uncracked hashes: %w", err)
	}
	if remaining == 0 {
		outcome.HashListCompleted = true
		if err := s.completeHashList(ctx, campaign.HashListID); err != nil {
			debug.Error("Failed to complete campaigns for hash list %d: %v", campaign.HashListID, err)
		}
	}
	return outcome, nil
}

// CrackedHash is one entry of a crack batch
type CrackedHash struct {
	HashValue string    `json:"hash_value"`
	Plaintext string    `json:"plaintext"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CrackBatch is a group of cracks an agent found for one task
type CrackBatch struct {
	TaskID  uuid.UUID     `json:"task_id"`
	AgentID int           `json:"agent_id"`
	Cracks  []CrackedHash `json:"cracks"`
}

// CrackBatchResult summarizes an ingested batch
type CrackBatchResult struct {
	TaskID            uuid.UUID `json:"task_id"`
	NewlyCracked      int       `json:"newly_cracked"`
	Duplicates        int       `json:"duplicates"`
	Rejected          []string  `json:"rejected,omitempty"`
	HashListCompleted bool      `json:"hash_list_completed,omitempty"`
}

// IngestBatch ingests every crack of the batch. Hashes outside the campaign's
// hash list are rejected individually without failing the batch.
func (s *ResultIngestionService) IngestBatch(ctx context.Context, batch CrackBatch) (*CrackBatchResult, error) {
	result := &CrackBatchResult{TaskID: batch.TaskID}
	for _, c := range batch.Cracks {
		outcome, err := s.Ingest(ctx, CrackResult{
			TaskID:    batch.TaskID,
			AgentID:   batch.AgentID,
			HashValue: c.HashValue,
			Plaintext: c.Plaintext,
			Timestamp: c.Timestamp,
		})
		if errors.Is(err, ErrHashNotInList) {
			result.Rejected = append(result.Rejected, c.HashValue)
			continue
		}
		if err != nil {
			return result, err
		}
		if outcome.NewlyCracked {
			result.NewlyCracked++
		}
		if outcome.Duplicate {
			result.Duplicates++
		}
		if outcome.HashListCompleted {
			result.HashListCompleted = true
		}
	}

	if len(result.Rejected) > 0 {
		debug.Warning("Task %s: rejected %d cracks for hashes outside the hash list", batch.TaskID, len(result.Rejected))
	}
	return result, nil
}

// completeHashList completes every unfinished campaign that targets a fully cracked hash list
func (s *ResultIngestionService) completeHashList(ctx context.Context, hashListID int64) error {
	debug.Info("Hash list %d fully cracked", hashListID)

	campaigns, err := s.stores.Campaigns.ListByHashList(ctx, hashListID)
	if err != nil {
		return fmt.Errorf("failed to list campaigns for hash list: %w", err)
	}

	completed := 0
	for i := range campaigns {
		c := &campaigns[i]
		if c.State != models.CampaignStateActive && c.State != models.CampaignStatePaused {
			continue
		}
		ok, err := finishCampaign(ctx, s.stores, s.events, c, "hash_list_cracked")
		if err != nil {
			debug.Error("Failed to complete campaign %d: %v", c.ID, err)
			continue
		}
		if ok {
			completed++
		}
	}

	s.dropFilter(hashListID)
	debug.Info("Completed %d campaigns for fully cracked hash list %d", completed, hashListID)
	return nil
}

// mightContain checks the hash list's bloom filter, building it on first use
func (s *ResultIngestionService) mightContain(ctx context.Context, hashListID int64, hashValue string) (bool, error) {
	s.mu.Lock()
	entry, ok := s.filters[hashListID]
	if ok {
		entry.lastAccess = s.now()
		found := entry.filter.TestString(hashValue)
		s.mu.Unlock()
		return found, nil
	}
	s.mu.Unlock()

	values, err := s.stores.Hashes.ListHashValues(ctx, hashListID)
	if err != nil {
		return false, fmt.Errorf("failed to load hash list %d: %w", hashListID, err)
	}

	n := uint(len(values))
	if n == 0 {
		n = 1
	}
	filter := bloom.NewWithEstimates(n, bloomFalsePositive)
	for _, v := range values {
		filter.AddString(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters[hashListID] = &hashListFilter{filter: filter, lastAccess: s.now()}
	s.evictFilters()

	debug.Debug("Loaded bloom filter for hash list %d with %d hashes", hashListID, len(values))
	return filter.TestString(hashValue), nil
}

// evictFilters drops the least recently used filters over the cap. Caller holds mu.
func (s *ResultIngestionService) evictFilters() {
	if len(s.filters) <= maxHashListFilters {
		return
	}
	ids := make([]int64, 0, len(s.filters))
	for id := range s.filters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.filters[ids[i]].lastAccess.Before(s.filters[ids[j]].lastAccess)
	})
	for _, id := range ids[:len(ids)-maxHashListFilters] {
		delete(s.filters, id)
	}
}

func (s *ResultIngestionService) dropFilter(hashListID int64) {
	s.mu.Lock()
	delete(s.filters, hashListID)
	s.mu.Unlock()
}
