package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
)

// AgentStore is the in-memory agent store
type AgentStore struct {
	s *Store
}

func cloneAgent(a *models.Agent) *models.Agent {
	out := *a
	out.Benchmarks = make(models.BenchmarkMap, len(a.Benchmarks))
	for k, v := range a.Benchmarks {
		out.Benchmarks[k] = v
	}
	out.Devices = append(models.AgentDevices(nil), a.Devices...)
	out.CurrentTaskID = nil
	return &out
}

// GetByID returns a copy of an agent
func (as *AgentStore) GetByID(ctx context.Context, id int) (*models.Agent, error) {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent with ID %d not found: %w", id, repository.ErrNotFound)
	}
	return cloneAgent(a), nil
}

// Upsert registers an agent or refreshes its reported capabilities.
// The enabled flag of an existing agent is operator owned and kept.
func (as *AgentStore) Upsert(ctx context.Context, agent *models.Agent) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if agent.LastSeenAt.IsZero() {
		agent.LastSeenAt = now
	}
	existing, ok := s.agents[agent.ID]
	if ok {
		agent.Enabled = existing.Enabled
		agent.CreatedAt = existing.CreatedAt
		if agent.Name == "" {
			agent.Name = existing.Name
		}
	} else {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

// List returns all agents ordered by ID
func (as *AgentStore) List(ctx context.Context) ([]models.Agent, error) {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateState changes the agent state
func (as *AgentStore) UpdateState(ctx context.Context, id int, state models.AgentState) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent with ID %d not found: %w", id, repository.ErrNotFound)
	}
	a.State = state
	a.UpdatedAt = s.now()
	return nil
}

// Touch records that the agent was seen
func (as *AgentStore) Touch(ctx context.Context, id int, seenAt time.Time) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.agents[id]; ok {
		a.LastSeenAt = seenAt
	}
	return nil
}

// SetEnabled toggles the operator controlled enabled flag
func (as *AgentStore) SetEnabled(ctx context.Context, id int, enabled bool) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent with ID %d not found: %w", id, repository.ErrNotFound)
	}
	a.Enabled = enabled
	return nil
}
