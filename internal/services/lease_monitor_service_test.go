package services

import (
	"testing"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseMonitorStartStop(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.engine.Leases.Start(env.ctx))
	assert.Error(t, env.engine.Leases.Start(env.ctx), "second start must fail")

	env.engine.Leases.Stop()
	env.engine.Leases.Stop()

	require.NoError(t, env.engine.Leases.Start(env.ctx))
	env.engine.Leases.Stop()
}

func TestLeaseMonitorRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t, func(c *EngineConfig) { c.SweepSchedule = "every now and then" })
	assert.ErrorContains(t, env.engine.Leases.Start(env.ctx), "invalid sweep schedule")
}

func TestSweepWithNoLeases(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.engine.Leases.Sweep(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDisablingAgentReleasesChunkWithoutRetry(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 400)
	env.start(t, campaign.ID)

	chunk := env.checkIn(t, 1).Chunk
	require.NotNil(t, chunk)
	report(t, env, 1, chunk, 100)

	before := env.sink.count(models.EventTaskStateChanged)
	require.NoError(t, env.engine.Leases.SetAgentEnabled(env.ctx, 1, false))
	assert.Equal(t, before+1, env.sink.count(models.EventTaskStateChanged))

	task, err := env.stores.Tasks.GetByID(env.ctx, chunk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatePending, task.State)
	assert.Zero(t, task.RetryCount)
	assert.Nil(t, task.AgentID)
	assert.Equal(t, "100", task.Progress.String())

	// another agent resumes where the first stopped
	next := env.checkIn(t, 2).Chunk
	require.NotNil(t, next)
	assert.Equal(t, chunk.TaskID, next.TaskID)
	assert.Equal(t, "100", next.ResumeFrom.String())

	// once re-enabled the agent gets a fresh chunk, not the released one
	require.NoError(t, env.engine.Leases.SetAgentEnabled(env.ctx, 1, true))
	fresh := env.checkIn(t, 1).Chunk
	require.NotNil(t, fresh)
	assert.NotEqual(t, chunk.TaskID, fresh.TaskID)
	assert.Equal(t, "400", fresh.KeyspaceOffset.String())
}

func TestOfflineUnknownAgentIsHarmless(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.engine.Leases.OnAgentOffline(env.ctx, 404, ""))
}
