package services

import (
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
)

// EngineConfig holds the tunables shared by the engine services
type EngineConfig struct {
	LeaseDuration          time.Duration
	LeaseGraceFactor       float64
	MaxTaskRetries         int
	SweepSchedule          string
	ChunkDuration          time.Duration
	FallbackChunkSize      models.Keyspace
	ChunkFluctuationPct    int
	ProgressRecalcInterval time.Duration
	DAGEnabledByDefault    bool

	// Now overrides the clock, used by tests
	Now func() time.Time
}

// Engine wires the scheduling services together over one set of stores
type Engine struct {
	Estimator   *KeyspaceEstimationService
	Partitioner *ChunkPartitionService
	Matcher     *CapabilityMatcher
	DAG         *DAGResolver
	Scheduler   *TaskSchedulingService
	Leases      *LeaseMonitorService
	Progress    *ProgressAggregationService
	Results     *ResultIngestionService
	Campaigns   *CampaignService
}

// NewEngine creates every engine service
func NewEngine(stores Stores, resources ResourceResolver, sink EventSink, cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{}
	e.Estimator = NewKeyspaceEstimationService(resources)
	e.Partitioner = NewChunkPartitionService(stores.Tasks, ChunkPartitionConfig{
		ChunkDuration:      cfg.ChunkDuration,
		FallbackChunkSize:  cfg.FallbackChunkSize,
		FluctuationPercent: cfg.ChunkFluctuationPct,
	})
	e.Matcher = NewCapabilityMatcher()
	e.DAG = NewDAGResolver(stores.Attacks, stores.Tasks)
	e.Leases = NewLeaseMonitorService(stores, LeaseMonitorConfig{
		LeaseDuration: cfg.LeaseDuration,
		GraceFactor:   cfg.LeaseGraceFactor,
		MaxRetries:    cfg.MaxTaskRetries,
		Schedule:      cfg.SweepSchedule,
	}, sink, now)
	e.Progress = NewProgressAggregationService(stores, e.Leases, sink, cfg.LeaseDuration, cfg.ProgressRecalcInterval, now)
	e.Scheduler = NewTaskSchedulingService(stores, e.Partitioner, e.Matcher, e.DAG, e.Progress, resources, sink, cfg.LeaseDuration, now)
	e.Results = NewResultIngestionService(stores, sink, now)
	e.Campaigns = NewCampaignService(stores, e.Estimator, e.DAG, e.Matcher, e.Progress, sink, cfg.DAGEnabledByDefault)
	return e
}
