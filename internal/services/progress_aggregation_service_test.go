package services

import (
	"testing"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(t *testing.T, env *testEnv, agentID int, chunk *ChunkDescriptor, guesses int64) *ProgressAck {
	t.Helper()
	ack, err := env.engine.Progress.Report(env.ctx, ProgressReport{
		TaskID:           chunk.TaskID,
		AgentID:          agentID,
		GuessesCompleted: models.NewKeyspace(guesses),
		HashRate:         1_000_000,
	})
	require.NoError(t, err)
	return ack
}

func TestProgressNeverDecreases(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	attack := env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 1000)
	env.start(t, campaign.ID)

	chunk := env.checkIn(t, 1).Chunk
	require.NotNil(t, chunk)

	ack := report(t, env, 1, chunk, 500)
	assert.Equal(t, models.TaskStateRunning, ack.State)
	assert.Equal(t, "500", ack.Progress.String())

	// a late, stale report
	ack = report(t, env, 1, chunk, 300)
	assert.Equal(t, "500", ack.Progress.String())

	task, err := env.stores.Tasks.GetByID(env.ctx, chunk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "500", task.Progress.String())

	// overshoot is clamped to the chunk and completes it
	ack = report(t, env, 1, chunk, 5000)
	assert.Equal(t, models.TaskStateCompleted, ack.State)
	assert.False(t, ack.Stop)

	got, err := env.stores.Attacks.GetByID(env.ctx, attack.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttackStateCompleted, got.State)
	assert.InDelta(t, 100.0, got.ProgressPercent, 0.001)

	c, err := env.stores.Campaigns.GetByID(env.ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStateCompleted, c.State)
	assert.InDelta(t, 100.0, c.ProgressPercent, 0.001)
}

func TestProgressRecalculationIsRateLimited(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	attack := env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 1000)
	env.start(t, campaign.ID)

	chunk := env.checkIn(t, 1).Chunk
	require.NotNil(t, chunk)

	percent := func() float64 {
		got, err := env.stores.Attacks.GetByID(env.ctx, attack.ID)
		require.NoError(t, err)
		return got.ProgressPercent
	}

	report(t, env, 1, chunk, 100)
	assert.InDelta(t, 10.0, percent(), 0.001)

	report(t, env, 1, chunk, 200)
	assert.InDelta(t, 10.0, percent(), 0.001)

	env.clock.Advance(2 * time.Second)
	report(t, env, 1, chunk, 300)
	assert.InDelta(t, 30.0, percent(), 0.001)
}

func TestDuplicateCompletionReportIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 400)
	env.start(t, campaign.ID)

	chunk := env.checkIn(t, 1).Chunk
	require.NotNil(t, chunk)

	first := env.finish(t, 1, chunk)
	require.Equal(t, models.TaskStateCompleted, first.State)

	second := env.finish(t, 1, chunk)
	assert.Equal(t, models.TaskStateCompleted, second.State)
	assert.Equal(t, "400", second.Progress.String())
}

func TestFailureReportSpendsRetry(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 400)
	env.start(t, campaign.ID)

	chunk := env.checkIn(t, 1).Chunk
	require.NotNil(t, chunk)
	report(t, env, 1, chunk, 40)

	ack, err := env.engine.Progress.Report(env.ctx, ProgressReport{
		TaskID:  chunk.TaskID,
		AgentID: 1,
		Failed:  true,
		Error:   "hashcat exited with status 255",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatePending, ack.State)

	task, err := env.stores.Tasks.GetByID(env.ctx, chunk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, "hashcat exited with status 255", task.ErrorMessage)
	assert.Equal(t, "40", task.Progress.String())
}
