package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
)

// CampaignStore is the in-memory campaign store
type CampaignStore struct {
	s *Store
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	out := *c
	out.CompletedAt = copyTime(c.CompletedAt)
	return &out
}

// Create inserts a campaign
func (cs *CampaignStore) Create(ctx context.Context, campaign *models.Campaign) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCampaign++
	campaign.ID = s.nextCampaign
	if campaign.State == "" {
		campaign.State = models.CampaignStateDraft
	}
	now := s.now()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now
	s.campaigns[campaign.ID] = cloneCampaign(campaign)
	return nil
}

// GetByID returns a copy of a campaign
func (cs *CampaignStore) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign with ID %d not found: %w", id, repository.ErrNotFound)
	}
	return cloneCampaign(c), nil
}

// Update stores the operator editable fields
func (cs *CampaignStore) Update(ctx context.Context, campaign *models.Campaign) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaign.ID]
	if !ok {
		return fmt.Errorf("campaign with ID %d not found for update: %w", campaign.ID, repository.ErrNotFound)
	}
	c.Name = campaign.Name
	c.Description = campaign.Description
	c.Priority = campaign.Priority
	c.DAGEnabled = campaign.DAGEnabled
	c.UpdatedAt = s.now()
	campaign.UpdatedAt = c.UpdatedAt
	return nil
}

// TransitionState moves the campaign to `to` if it is in one of `from`
func (cs *CampaignStore) TransitionState(ctx context.Context, id int64, from []models.CampaignState, to models.CampaignState) (bool, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if c.State == st {
			c.State = to
			c.UpdatedAt = s.now()
			if to == models.CampaignStateCompleted {
				t := c.UpdatedAt
				c.CompletedAt = &t
			}
			return true, nil
		}
	}
	return false, nil
}

// UpdateProgress stores the aggregated progress
func (cs *CampaignStore) UpdateProgress(ctx context.Context, id int64, percent float64) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.campaigns[id]; ok {
		c.ProgressPercent = percent
	}
	return nil
}

// IncrementCracked adds delta to the cracked counter
func (cs *CampaignStore) IncrementCracked(ctx context.Context, id int64, delta int64) error {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.campaigns[id]; ok {
		c.CrackedCount += delta
	}
	return nil
}

// ListActive returns active campaigns in scheduling order
func (cs *CampaignStore) ListActive(ctx context.Context) ([]models.Campaign, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Campaign
	for _, c := range s.campaigns {
		if c.State == models.CampaignStateActive {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListByHashList returns campaigns targeting a hash list
func (cs *CampaignStore) ListByHashList(ctx context.Context, hashListID int64) ([]models.Campaign, error) {
	s := cs.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Campaign
	for _, c := range s.campaigns {
		if c.HashListID == hashListID {
			out = append(out, *cloneCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
