package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
)

// HashStore is the in-memory hash list store
type HashStore struct {
	s *Store
}

// CreateHashList inserts a hash list and its items, storing duplicates once
func (hs *HashStore) CreateHashList(ctx context.Context, list *models.HashList, hashes []string) error {
	s := hs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHashList++
	list.ID = s.nextHashList
	now := s.now()
	list.CreatedAt = now
	list.UpdatedAt = now

	items := make(map[string]*models.HashItem, len(hashes))
	for _, h := range hashes {
		if _, dup := items[h]; dup {
			continue
		}
		s.nextHashItem++
		items[h] = &models.HashItem{ID: s.nextHashItem, HashListID: list.ID, HashValue: h}
	}
	list.TotalHashes = int64(len(items))
	list.CrackedHashes = 0

	stored := *list
	s.hashLists[list.ID] = &stored
	s.hashItems[list.ID] = items
	return nil
}

// GetHashList returns a copy of a hash list
func (hs *HashStore) GetHashList(ctx context.Context, id int64) (*models.HashList, error) {
	s := hs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.hashLists[id]
	if !ok {
		return nil, fmt.Errorf("hash list with ID %d not found: %w", id, repository.ErrNotFound)
	}
	out := *l
	return &out, nil
}

// ListHashValues returns every hash value of a list
func (hs *HashStore) ListHashValues(ctx context.Context, hashListID int64) ([]string, error) {
	s := hs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.hashItems[hashListID]
	values := make([]string, 0, len(items))
	for v := range items {
		values = append(values, v)
	}
	return values, nil
}

// GetItem returns a copy of a hash item
func (hs *HashStore) GetItem(ctx context.Context, hashListID int64, hashValue string) (*models.HashItem, error) {
	s := hs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.hashItems[hashListID][hashValue]
	if !ok {
		return nil, fmt.Errorf("hash %q not in list %d: %w", hashValue, hashListID, repository.ErrNotFound)
	}
	out := *item
	if item.Plaintext != nil {
		p := *item.Plaintext
		out.Plaintext = &p
	}
	if item.CrackedBy != nil {
		by := *item.CrackedBy
		out.CrackedBy = &by
	}
	out.CrackedAt = copyTime(item.CrackedAt)
	return &out, nil
}

// MarkCracked flips cracked false->true once and bumps the list counter
func (hs *HashStore) MarkCracked(ctx context.Context, hashListID int64, hashValue, plaintext string, by models.CrackedBy, at time.Time) (bool, error) {
	s := hs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.hashItems[hashListID][hashValue]
	if !ok || item.Cracked {
		return false, nil
	}
	item.Cracked = true
	item.Plaintext = &plaintext
	item.CrackedBy = &by
	item.CrackedAt = &at
	if l, ok := s.hashLists[hashListID]; ok {
		l.CrackedHashes++
		l.UpdatedAt = s.now()
	}
	return true, nil
}

// CountUncracked returns how many hashes of a list are still uncracked
func (hs *HashStore) CountUncracked(ctx context.Context, hashListID int64) (int64, error) {
	s := hs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, item := range s.hashItems[hashListID] {
		if !item.Cracked {
			n++
		}
	}
	return n, nil
}
