package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeResources map[string]int64

func (f fakeResources) Count(ctx context.Context, ref string) (int64, error) {
	n, ok := f[ref]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return n, nil
}

func (f fakeResources) Locate(ctx context.Context, ref string) (string, error) {
	return "/data/" + ref, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingSink) Publish(e models.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type testEnv struct {
	ctx    context.Context
	store  *memory.Store
	stores Stores
	clock  *fakeClock
	sink   *recordingSink
	engine *Engine
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		LeaseDuration:          5 * time.Minute,
		LeaseGraceFactor:       1.5,
		MaxTaskRetries:         3,
		SweepSchedule:          "@every 30s",
		ChunkDuration:          20 * time.Minute,
		FallbackChunkSize:      models.NewKeyspace(1_000_000),
		ChunkFluctuationPct:    20,
		ProgressRecalcInterval: time.Second,
	}
}

func newTestEnv(t *testing.T, mutate ...func(*EngineConfig)) *testEnv {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	store.SetClock(clock.Now)

	cfg := testEngineConfig()
	cfg.Now = clock.Now
	for _, m := range mutate {
		m(&cfg)
	}

	stores := Stores{
		Campaigns: store.Campaigns(),
		Attacks:   store.Attacks(),
		Tasks:     store.Tasks(),
		Agents:    store.Agents(),
		Hashes:    store.Hashes(),
	}
	sink := &recordingSink{}
	resources := fakeResources{"rockyou.txt": 1_000_000, "small.txt": 10, "best64.rule": 64}

	return &testEnv{
		ctx:    context.Background(),
		store:  store,
		stores: stores,
		clock:  clock,
		sink:   sink,
		engine: NewEngine(stores, resources, sink, cfg),
	}
}

// seedCampaign creates a hash list of the given hashes and a campaign over it
func (e *testEnv) seedCampaign(t *testing.T, dag bool, hashes ...string) *models.Campaign {
	t.Helper()
	if len(hashes) == 0 {
		hashes = []string{"5f4dcc3b5aa765d61d8327deb882cf99"}
	}
	list := &models.HashList{Name: "targets", HashTypeID: 0}
	require.NoError(t, e.engine.Results.CreateHashList(e.ctx, list, hashes))

	campaign, err := e.engine.Campaigns.CreateCampaign(e.ctx, CreateCampaignRequest{
		HashListID: list.ID,
		Name:       "audit",
		DAGEnabled: &dag,
	})
	require.NoError(t, err)
	return campaign
}

func keyspacePtr(v int64) *models.Keyspace {
	k := models.NewKeyspace(v)
	return &k
}

// addMaskAttack adds a mask attack with a fixed chunk size
func (e *testEnv) addMaskAttack(t *testing.T, campaignID int64, phase int, mask string, chunk int64) *models.Attack {
	t.Helper()
	attack, err := e.engine.Campaigns.CreateAttack(e.ctx, campaignID, CreateAttackRequest{
		Name:  mask,
		Mode:  models.AttackModeMask,
		Phase: phase,
		Config: models.AttackConfig{
			Masks:     []string{mask},
			ChunkSize: keyspacePtr(chunk),
		},
	})
	require.NoError(t, err)
	return attack
}

func (e *testEnv) start(t *testing.T, campaignID int64) {
	t.Helper()
	_, err := e.engine.Campaigns.StartCampaign(e.ctx, campaignID)
	require.NoError(t, err)
}

func checkInRequest(agentID int) CheckInRequest {
	return CheckInRequest{
		AgentID: agentID,
		Capabilities: models.AgentCapabilities{
			Benchmarks: models.BenchmarkMap{0: 1_000_000},
			Devices:    models.AgentDevices{{DeviceID: 0, DeviceName: "RTX 4090", DeviceType: "GPU", Enabled: true}},
		},
	}
}

func (e *testEnv) checkIn(t *testing.T, agentID int) *CheckInResponse {
	t.Helper()
	resp, err := e.engine.Scheduler.CheckIn(e.ctx, checkInRequest(agentID))
	require.NoError(t, err)
	return resp
}

// finish reports the whole chunk done
func (e *testEnv) finish(t *testing.T, agentID int, chunk *ChunkDescriptor) *ProgressAck {
	t.Helper()
	ack, err := e.engine.Progress.Report(e.ctx, ProgressReport{
		TaskID:           chunk.TaskID,
		AgentID:          agentID,
		GuessesCompleted: chunk.KeyspaceLimit.Sub(chunk.KeyspaceOffset),
	})
	require.NoError(t, err)
	return ack
}
