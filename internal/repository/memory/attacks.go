package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
)

// AttackStore is the in-memory attack store
type AttackStore struct {
	s *Store
}

func cloneAttack(a *models.Attack) *models.Attack {
	out := *a
	out.CompletedAt = copyTime(a.CompletedAt)
	out.Config.Masks = append([]string(nil), a.Config.Masks...)
	out.Config.RequiredDeviceTypes = append([]string(nil), a.Config.RequiredDeviceTypes...)
	if a.Config.CustomCharsets != nil {
		out.Config.CustomCharsets = make(map[string]string, len(a.Config.CustomCharsets))
		for k, v := range a.Config.CustomCharsets {
			out.Config.CustomCharsets[k] = v
		}
	}
	if a.Config.ChunkSize != nil {
		cs := *a.Config.ChunkSize
		out.Config.ChunkSize = &cs
	}
	return &out
}

// Create inserts an attack
func (as *AttackStore) Create(ctx context.Context, attack *models.Attack) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[attack.CampaignID]; !ok {
		return fmt.Errorf("campaign with ID %d not found: %w", attack.CampaignID, repository.ErrNotFound)
	}
	s.nextAttack++
	attack.ID = s.nextAttack
	if attack.State == "" {
		attack.State = models.AttackStatePending
	}
	attack.ChunkCursor = models.Keyspace{}
	now := s.now()
	attack.CreatedAt = now
	attack.UpdatedAt = now
	s.attacks[attack.ID] = cloneAttack(attack)
	return nil
}

// GetByID returns a copy of an attack
func (as *AttackStore) GetByID(ctx context.Context, id int64) (*models.Attack, error) {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attacks[id]
	if !ok {
		return nil, fmt.Errorf("attack with ID %d not found: %w", id, repository.ErrNotFound)
	}
	return cloneAttack(a), nil
}

// ListByCampaign returns a campaign's attacks ordered by phase, position, id
func (as *AttackStore) ListByCampaign(ctx context.Context, campaignID int64) ([]models.Attack, error) {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Attack
	for _, a := range s.attacks {
		if a.CampaignID == campaignID {
			out = append(out, *cloneAttack(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Phase != out[j].Phase {
			return out[i].Phase < out[j].Phase
		}
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update stores an edited attack definition. The chunk cursor is owned by the task store.
func (as *AttackStore) Update(ctx context.Context, attack *models.Attack) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attacks[attack.ID]
	if !ok {
		return fmt.Errorf("attack with ID %d not found for update: %w", attack.ID, repository.ErrNotFound)
	}
	updated := cloneAttack(attack)
	updated.ChunkCursor = a.ChunkCursor
	updated.CreatedAt = a.CreatedAt
	updated.CompletedAt = copyTime(a.CompletedAt)
	updated.UpdatedAt = s.now()
	s.attacks[attack.ID] = updated
	attack.UpdatedAt = updated.UpdatedAt
	return nil
}

// UpdatePlacement stores a new phase and position
func (as *AttackStore) UpdatePlacement(ctx context.Context, id int64, phase, position int) error {
	return as.mutate(id, func(a *models.Attack) {
		a.Phase = phase
		a.Position = position
	})
}

// UpdateState changes the attack state
func (as *AttackStore) UpdateState(ctx context.Context, id int64, state models.AttackState) error {
	return as.mutate(id, func(a *models.Attack) {
		a.State = state
		a.CompletedAt = nil
		if state == models.AttackStateCompleted {
			t := as.s.now()
			a.CompletedAt = &t
		}
	})
}

// UpdateProgress stores the aggregated progress
func (as *AttackStore) UpdateProgress(ctx context.Context, id int64, percent float64) error {
	return as.mutate(id, func(a *models.Attack) {
		a.ProgressPercent = percent
	})
}

// Delete removes an attack and its tasks
func (as *AttackStore) Delete(ctx context.Context, id int64) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attacks[id]; !ok {
		return fmt.Errorf("attack with ID %d not found: %w", id, repository.ErrNotFound)
	}
	delete(s.attacks, id)
	for tid, t := range s.tasks {
		if t.AttackID == id {
			delete(s.tasks, tid)
			delete(s.taskOrder, tid)
		}
	}
	return nil
}

func (as *AttackStore) mutate(id int64, fn func(a *models.Attack)) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attacks[id]
	if !ok {
		return fmt.Errorf("attack with ID %d not found: %w", id, repository.ErrNotFound)
	}
	fn(a)
	a.UpdatedAt = s.now()
	return nil
}
