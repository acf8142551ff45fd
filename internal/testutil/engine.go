// Package testutil builds in-memory engines for handler and adapter tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository/memory"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	"github.com/stretchr/testify/require"
)

// Clock is a manually advanced clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Resources resolves resource refs to fixed line counts
type Resources map[string]int64

func (r Resources) Count(ctx context.Context, ref string) (int64, error) {
	n, ok := r[ref]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return n, nil
}

func (r Resources) Locate(ctx context.Context, ref string) (string, error) {
	return "/data/" + ref, nil
}

// Sink records published events
type Sink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *Sink) Publish(e models.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Events returns a copy of everything published so far
func (s *Sink) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

// Env is an engine over a memory store
type Env struct {
	Ctx    context.Context
	Store  *memory.Store
	Clock  *Clock
	Sink   *Sink
	Engine *services.Engine
}

// NewEnv creates an engine with a five minute lease and three retries
func NewEnv(t *testing.T) *Env {
	t.Helper()

	clock := &Clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	store.SetClock(clock.Now)

	stores := services.Stores{
		Campaigns: store.Campaigns(),
		Attacks:   store.Attacks(),
		Tasks:     store.Tasks(),
		Agents:    store.Agents(),
		Hashes:    store.Hashes(),
	}
	sink := &Sink{}
	resources := Resources{"rockyou.txt": 1_000_000, "best64.rule": 64}

	engine := services.NewEngine(stores, resources, sink, services.EngineConfig{
		LeaseDuration:          5 * time.Minute,
		LeaseGraceFactor:       1.5,
		MaxTaskRetries:         3,
		SweepSchedule:          "@every 30s",
		ChunkDuration:          20 * time.Minute,
		FallbackChunkSize:      models.NewKeyspace(1_000_000),
		ChunkFluctuationPct:    20,
		ProgressRecalcInterval: time.Second,
		Now:                    clock.Now,
	})

	return &Env{
		Ctx:    context.Background(),
		Store:  store,
		Clock:  clock,
		Sink:   sink,
		Engine: engine,
	}
}

// SeedMaskCampaign creates a hash list, a campaign with one ?d?d?d mask attack
// split into chunks of chunkSize, and starts it
func (e *Env) SeedMaskCampaign(t *testing.T, chunkSize int64, hashes ...string) (*models.Campaign, *models.Attack) {
	t.Helper()
	if len(hashes) == 0 {
		hashes = []string{"5f4dcc3b5aa765d61d8327deb882cf99"}
	}

	list := &models.HashList{Name: "targets", HashTypeID: 0}
	require.NoError(t, e.Engine.Results.CreateHashList(e.Ctx, list, hashes))

	campaign, err := e.Engine.Campaigns.CreateCampaign(e.Ctx, services.CreateCampaignRequest{
		HashListID: list.ID,
		Name:       "audit",
	})
	require.NoError(t, err)

	size := models.NewKeyspace(chunkSize)
	attack, err := e.Engine.Campaigns.CreateAttack(e.Ctx, campaign.ID, services.CreateAttackRequest{
		Name: "three digits",
		Mode: models.AttackModeMask,
		Config: models.AttackConfig{
			Masks:     []string{"?d?d?d"},
			ChunkSize: &size,
		},
	})
	require.NoError(t, err)

	_, err = e.Engine.Campaigns.StartCampaign(e.Ctx, campaign.ID)
	require.NoError(t, err)
	return campaign, attack
}

// CheckIn is a heartbeat from an idle agent with one GPU
func CheckIn(agentID int) services.CheckInRequest {
	return services.CheckInRequest{
		AgentID: agentID,
		Capabilities: models.AgentCapabilities{
			Benchmarks: models.BenchmarkMap{0: 1_000_000},
			Devices:    models.AgentDevices{{DeviceID: 0, DeviceName: "RTX 4090", DeviceType: "GPU", Enabled: true}},
		},
	}
}
