package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
)

// CapabilityMatcher decides which agents may run an attack
type CapabilityMatcher struct{}

// NewCapabilityMatcher creates a new capability matcher
func NewCapabilityMatcher() *CapabilityMatcher {
	return &CapabilityMatcher{}
}

// Check returns nil when the agent may run the attack, otherwise an error
// wrapping ErrCapabilityMismatch that names the first unmet requirement.
func (m *CapabilityMatcher) Check(agent *models.Agent, attack *models.Attack) error {
	if !agent.Enabled {
		return fmt.Errorf("agent %d is disabled: %w", agent.ID, ErrCapabilityMismatch)
	}
	if agent.State != models.AgentStateActive {
		return fmt.Errorf("agent %d is %s: %w", agent.ID, agent.State, ErrCapabilityMismatch)
	}
	if agent.CurrentTaskID != nil {
		return fmt.Errorf("agent %d already holds task %s: %w", agent.ID, agent.CurrentTaskID, ErrCapabilityMismatch)
	}
	if _, ok := agent.Benchmarks.Speed(attack.HashType); !ok {
		return fmt.Errorf("agent %d has no benchmark for hash type %d: %w", agent.ID, attack.HashType, ErrCapabilityMismatch)
	}

	if len(attack.Config.RequiredDeviceTypes) > 0 {
		available := agent.EnabledDeviceTypes()
		for _, required := range attack.Config.RequiredDeviceTypes {
			if !available[strings.ToLower(strings.TrimSpace(required))] {
				return fmt.Errorf("agent %d has no enabled %s device: %w", agent.ID, required, ErrCapabilityMismatch)
			}
		}
	}
	return nil
}

// IsEligible reports whether the agent may run the attack
func (m *CapabilityMatcher) IsEligible(agent *models.Agent, attack *models.Attack) bool {
	return m.Check(agent, attack) == nil
}

// Rank returns the eligible agents ordered by benchmarked speed for the
// attack's hash type, fastest first, ties broken by ascending agent id.
func (m *CapabilityMatcher) Rank(agents []models.Agent, attack *models.Attack) []models.Agent {
	eligible := make([]models.Agent, 0, len(agents))
	for i := range agents {
		if m.IsEligible(&agents[i], attack) {
			eligible = append(eligible, agents[i])
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		si, _ := eligible[i].Benchmarks.Speed(attack.HashType)
		sj, _ := eligible[j].Benchmarks.Speed(attack.HashType)
		if si != sj {
			return si > sj
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible
}
