package services

import (
	"errors"
	"testing"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func matcherAgent(id int, speed int64) models.Agent {
	return models.Agent{
		ID:         id,
		Enabled:    true,
		State:      models.AgentStateActive,
		Benchmarks: models.BenchmarkMap{1000: speed},
		Devices:    models.AgentDevices{{DeviceType: "GPU", Enabled: true}},
	}
}

func TestCapabilityMatcherCheck(t *testing.T) {
	attack := &models.Attack{HashType: 1000}
	held := uuid.New()

	tests := []struct {
		name     string
		mutate   func(a *models.Agent, at *models.Attack)
		eligible bool
	}{
		{name: "eligible", mutate: func(a *models.Agent, at *models.Attack) {}, eligible: true},
		{name: "disabled", mutate: func(a *models.Agent, at *models.Attack) { a.Enabled = false }},
		{name: "offline", mutate: func(a *models.Agent, at *models.Attack) { a.State = models.AgentStateOffline }},
		{name: "holds a lease", mutate: func(a *models.Agent, at *models.Attack) { a.CurrentTaskID = &held }},
		{name: "no benchmark", mutate: func(a *models.Agent, at *models.Attack) { at.HashType = 22000 }},
		{name: "required device present", mutate: func(a *models.Agent, at *models.Attack) {
			at.Config.RequiredDeviceTypes = []string{"gpu"}
		}, eligible: true},
		{name: "required device missing", mutate: func(a *models.Agent, at *models.Attack) {
			at.Config.RequiredDeviceTypes = []string{"cpu"}
		}},
		{name: "required device disabled", mutate: func(a *models.Agent, at *models.Attack) {
			at.Config.RequiredDeviceTypes = []string{"gpu"}
			a.Devices[0].Enabled = false
		}},
	}

	m := NewCapabilityMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := matcherAgent(1, 100)
			at := *attack
			tt.mutate(&agent, &at)

			err := m.Check(&agent, &at)
			if tt.eligible {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrCapabilityMismatch), "got %v", err)
			}
			assert.Equal(t, tt.eligible, m.IsEligible(&agent, &at))
		})
	}
}

func TestCapabilityMatcherRank(t *testing.T) {
	attack := &models.Attack{HashType: 1000}
	disabled := matcherAgent(2, 900)
	disabled.Enabled = false

	agents := []models.Agent{
		matcherAgent(5, 100),
		disabled,
		matcherAgent(3, 500),
		matcherAgent(1, 100),
		matcherAgent(4, 500),
	}

	ranked := NewCapabilityMatcher().Rank(agents, attack)

	ids := make([]int, len(ranked))
	for i, a := range ranked {
		ids[i] = a.ID
	}
	assert.Equal(t, []int{3, 4, 1, 5}, ids)
}
