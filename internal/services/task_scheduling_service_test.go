package services

import (
	"sync"
	"testing"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDictionaryAttackRunsInTenChunks(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)

	attack, err := env.engine.Campaigns.CreateAttack(env.ctx, campaign.ID, CreateAttackRequest{
		Mode: models.AttackModeDictionary,
		Config: models.AttackConfig{
			WordlistRef: "rockyou.txt",
			ChunkSize:   keyspacePtr(100_000),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "1000000", attack.Keyspace.String())
	env.start(t, campaign.ID)

	next := models.NewKeyspace(0)
	chunks := 0
	for {
		resp := env.checkIn(t, 1)
		if resp.Action == ActionNoWork {
			break
		}
		require.Equal(t, ActionAssign, resp.Action)
		require.Equal(t, 0, resp.Chunk.KeyspaceOffset.Cmp(next), "chunks must be contiguous")
		assert.Equal(t, "/data/rockyou.txt", resp.Chunk.Resources["rockyou.txt"])

		env.finish(t, 1, resp.Chunk)
		next = resp.Chunk.KeyspaceLimit
		chunks++
		require.LessOrEqual(t, chunks, 10)
	}

	assert.Equal(t, 10, chunks)
	assert.Equal(t, "1000000", next.String())

	stored, err := env.stores.Attacks.GetByID(env.ctx, attack.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.ProgressPercent)
	assert.Equal(t, models.AttackStateCompleted, stored.State)

	c, err := env.stores.Campaigns.GetByID(env.ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStateCompleted, c.State)
	assert.Equal(t, 100.0, c.ProgressPercent)
}

func TestConcurrentCheckInsAssignChunkOnce(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d", 100)
	env.start(t, campaign.ID)

	const agents = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		assigned []uuid.UUID
	)
	for i := 1; i <= agents; i++ {
		wg.Add(1)
		go func(agentID int) {
			defer wg.Done()
			resp, err := env.engine.Scheduler.CheckIn(env.ctx, checkInRequest(agentID))
			assert.NoError(t, err)
			if err == nil && resp.Action == ActionAssign {
				mu.Lock()
				assigned = append(assigned, resp.Chunk.TaskID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, assigned, 1)
	tasks, err := env.stores.Tasks.ListByAttack(env.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestAgentNeverHoldsTwoChunks(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 100)
	env.start(t, campaign.ID)

	first := env.checkIn(t, 7)
	require.Equal(t, ActionAssign, first.Action)

	// the agent forgot its chunk and checks in idle: it gets the same chunk back
	again := env.checkIn(t, 7)
	require.Equal(t, ActionAssign, again.Action)
	assert.Equal(t, first.Chunk.TaskID, again.Chunk.TaskID)

	req := checkInRequest(7)
	req.ActiveTask = &ActiveTaskStatus{TaskID: first.Chunk.TaskID}
	resp, err := env.engine.Scheduler.CheckIn(env.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, resp.Action)

	tasks, err := env.stores.Tasks.ListByAttack(env.ctx, first.Chunk.AttackID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestDAGBlocksLaterPhaseUntilEarlierIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, true)
	a := env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 500)
	b := env.addMaskAttack(t, campaign.ID, 1, "?l", 26)
	env.start(t, campaign.ID)

	first := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, first.Action)
	assert.Equal(t, a.ID, first.Chunk.AttackID)

	second := env.checkIn(t, 2)
	require.Equal(t, ActionAssign, second.Action)
	assert.Equal(t, a.ID, second.Chunk.AttackID)

	// phase 0 is fully chunked but still running
	idle := env.checkIn(t, 3)
	assert.Equal(t, ActionNoWork, idle.Action)

	ready, err := env.engine.DAG.IsPhaseReady(env.ctx, campaign, 1)
	require.NoError(t, err)
	assert.False(t, ready)

	env.finish(t, 1, first.Chunk)
	assert.Equal(t, ActionNoWork, env.checkIn(t, 3).Action)

	env.finish(t, 2, second.Chunk)
	resp := env.checkIn(t, 3)
	require.Equal(t, ActionAssign, resp.Action)
	assert.Equal(t, b.ID, resp.Chunk.AttackID)
}

func TestExpiredLeaseIsReassigned(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 1000)
	env.start(t, campaign.ID)

	first := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, first.Action)

	_, err := env.engine.Progress.Report(env.ctx, ProgressReport{
		TaskID:           first.Chunk.TaskID,
		AgentID:          1,
		GuessesCompleted: models.NewKeyspace(250),
	})
	require.NoError(t, err)

	// within lease_duration * grace_factor nothing happens
	env.clock.Advance(6 * time.Minute)
	n, err := env.engine.Leases.Sweep(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.clock.Advance(2 * time.Minute)
	n, err = env.engine.Leases.Sweep(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := env.stores.Tasks.GetByID(env.ctx, first.Chunk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatePending, task.State)
	assert.Equal(t, 1, task.RetryCount)
	assert.Nil(t, task.AgentID)

	second := env.checkIn(t, 2)
	require.Equal(t, ActionAssign, second.Action)
	assert.Equal(t, first.Chunk.TaskID, second.Chunk.TaskID)
	assert.Equal(t, "250", second.Chunk.ResumeFrom.String())

	// the silent agent comes back and is told to stop
	req := checkInRequest(1)
	req.ActiveTask = &ActiveTaskStatus{TaskID: first.Chunk.TaskID}
	resp, err := env.engine.Scheduler.CheckIn(env.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionStop, resp.Action)
}

func TestRetryBudgetExhaustionBlocksUntilAcknowledged(t *testing.T) {
	env := newTestEnv(t, func(c *EngineConfig) { c.MaxTaskRetries = 1 })
	campaign := env.seedCampaign(t, true)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d", 100)
	b := env.addMaskAttack(t, campaign.ID, 1, "?l", 26)
	env.start(t, campaign.ID)

	var taskID uuid.UUID
	for i := 0; i < 2; i++ {
		resp := env.checkIn(t, 1)
		require.Equal(t, ActionAssign, resp.Action)
		taskID = resp.Chunk.TaskID

		_, err := env.engine.Progress.Report(env.ctx, ProgressReport{
			TaskID:  taskID,
			AgentID: 1,
			Failed:  true,
			Error:   "hashcat exited with code 255",
		})
		require.NoError(t, err)
	}

	task, err := env.stores.Tasks.GetByID(env.ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateFailed, task.State)
	assert.Equal(t, 1, env.sink.count(models.EventTaskFailedPermanent))

	assert.Equal(t, ActionNoWork, env.checkIn(t, 1).Action)

	snapshot, err := env.engine.Campaigns.GetCampaignProgress(env.ctx, campaign.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.BlockedTasks, 1)
	assert.Equal(t, taskID.String(), snapshot.BlockedTasks[0].TaskID)

	_, err = env.engine.Campaigns.AcknowledgeTaskFailure(env.ctx, taskID)
	require.NoError(t, err)

	resp := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, resp.Action)
	assert.Equal(t, b.ID, resp.Chunk.AttackID)
}

func TestPausedCampaignStopsAgentAndKeepsProgress(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 1000)
	env.start(t, campaign.ID)

	first := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, first.Action)

	progress := models.NewKeyspace(400)
	req := checkInRequest(1)
	req.ActiveTask = &ActiveTaskStatus{TaskID: first.Chunk.TaskID, GuessesCompleted: &progress}
	resp, err := env.engine.Scheduler.CheckIn(env.ctx, req)
	require.NoError(t, err)
	require.Equal(t, ActionContinue, resp.Action)

	_, err = env.engine.Campaigns.PauseCampaign(env.ctx, campaign.ID)
	require.NoError(t, err)

	resp, err = env.engine.Scheduler.CheckIn(env.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionStop, resp.Action)

	task, err := env.stores.Tasks.GetByID(env.ctx, first.Chunk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatePending, task.State)
	assert.Equal(t, "400", task.Progress.String())
	assert.Equal(t, 0, task.RetryCount)

	assert.Equal(t, ActionNoWork, env.checkIn(t, 2).Action)

	_, err = env.engine.Campaigns.ResumeCampaign(env.ctx, campaign.ID)
	require.NoError(t, err)

	again := env.checkIn(t, 2)
	require.Equal(t, ActionAssign, again.Action)
	assert.Equal(t, first.Chunk.TaskID, again.Chunk.TaskID)
	assert.Equal(t, "400", again.Chunk.ResumeFrom.String())
}

func TestHeartbeatReachingChunkEndCompletesTask(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	attack := env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 500)
	env.start(t, campaign.ID)

	first := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, first.Action)

	heartbeat := func(chunk *ChunkDescriptor, guesses int64) *CheckInResponse {
		done := models.NewKeyspace(guesses)
		req := checkInRequest(1)
		req.ActiveTask = &ActiveTaskStatus{TaskID: chunk.TaskID, GuessesCompleted: &done}
		resp, err := env.engine.Scheduler.CheckIn(env.ctx, req)
		require.NoError(t, err)
		return resp
	}

	// finishing the first chunk on a heartbeat hands out the second one
	second := heartbeat(first.Chunk, 500)
	require.Equal(t, ActionAssign, second.Action)
	assert.NotEqual(t, first.Chunk.TaskID, second.Chunk.TaskID)
	assert.Equal(t, "500", second.Chunk.KeyspaceOffset.String())

	task, err := env.stores.Tasks.GetByID(env.ctx, first.Chunk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateCompleted, task.State)

	got, err := env.stores.Attacks.GetByID(env.ctx, attack.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, got.ProgressPercent, 0.001)

	assert.Equal(t, ActionNoWork, heartbeat(second.Chunk, 500).Action)

	got, err = env.stores.Attacks.GetByID(env.ctx, attack.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttackStateCompleted, got.State)
	assert.InDelta(t, 100.0, got.ProgressPercent, 0.001)

	c, err := env.stores.Campaigns.GetByID(env.ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStateCompleted, c.State)
}

func TestIdleCheckInDoesNotResendExhaustedChunk(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d?d", 500)
	env.start(t, campaign.ID)

	first := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, first.Action)

	lease := env.clock.Now().Add(time.Minute)
	ok, err := env.stores.Tasks.RecordProgress(env.ctx, first.Chunk.TaskID, 1, models.NewKeyspace(500), 0, lease)
	require.NoError(t, err)
	require.True(t, ok)

	next := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, next.Action)
	assert.NotEqual(t, first.Chunk.TaskID, next.Chunk.TaskID)

	task, err := env.stores.Tasks.GetByID(env.ctx, first.Chunk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStateCompleted, task.State)
}

func TestHigherPriorityCampaignIsScheduledFirst(t *testing.T) {
	env := newTestEnv(t)
	low := env.seedCampaign(t, false)
	env.addMaskAttack(t, low.ID, 0, "?d?d", 100)
	env.start(t, low.ID)

	high := env.seedCampaign(t, false, "098f6bcd4621d373cade4e832627b4f6")
	env.addMaskAttack(t, high.ID, 0, "?d?d", 100)
	env.start(t, high.ID)

	_, err := env.engine.Campaigns.RaisePriority(env.ctx, high.ID)
	require.NoError(t, err)

	resp := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, resp.Action)
	assert.Equal(t, high.ID, resp.Chunk.CampaignID)
}

func TestOfflineAgentLosesLeaseImmediately(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d", 100)
	env.start(t, campaign.ID)

	first := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, first.Action)

	require.NoError(t, env.engine.Leases.OnAgentOffline(env.ctx, 1, ""))

	agent, err := env.stores.Agents.GetByID(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateOffline, agent.State)

	resp := env.checkIn(t, 2)
	require.Equal(t, ActionAssign, resp.Action)
	assert.Equal(t, first.Chunk.TaskID, resp.Chunk.TaskID)

	// reconnecting brings the agent back to active
	env.checkIn(t, 1)
	agent, err = env.stores.Agents.GetByID(env.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStateActive, agent.State)
}

func TestDisabledAgentGetsNoWork(t *testing.T) {
	env := newTestEnv(t)
	campaign := env.seedCampaign(t, false)
	env.addMaskAttack(t, campaign.ID, 0, "?d?d", 100)
	env.start(t, campaign.ID)

	first := env.checkIn(t, 1)
	require.Equal(t, ActionAssign, first.Action)

	require.NoError(t, env.engine.Leases.SetAgentEnabled(env.ctx, 1, false))

	resp := env.checkIn(t, 1)
	assert.Equal(t, ActionNoWork, resp.Action)

	task, err := env.stores.Tasks.GetByID(env.ctx, first.Chunk.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatePending, task.State)
	assert.Equal(t, 0, task.RetryCount)
}
