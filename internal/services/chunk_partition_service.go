package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// ChunkPartitionConfig controls how keyspaces are cut into tasks
type ChunkPartitionConfig struct {
	ChunkDuration      time.Duration   // target wall time per chunk
	FallbackChunkSize  models.Keyspace // used when no benchmark is known
	FluctuationPercent int             // a final remainder this small is merged into the previous chunk
}

// ChunkPartitionService lazily divides attack keyspaces into contiguous tasks.
// The partition cursor lives on the attack row so partitioning survives restarts.
type ChunkPartitionService struct {
	tasks  TaskStore
	config ChunkPartitionConfig
}

// NewChunkPartitionService creates a new chunk partition service
func NewChunkPartitionService(tasks TaskStore, config ChunkPartitionConfig) *ChunkPartitionService {
	if config.FallbackChunkSize.Sign() <= 0 {
		config.FallbackChunkSize = models.NewKeyspace(1_000_000)
	}
	if config.FluctuationPercent < 0 {
		config.FluctuationPercent = 0
	}
	return &ChunkPartitionService{tasks: tasks, config: config}
}

// ChunkSize returns the target chunk size for an agent working on an attack.
// An explicit chunk size on the attack wins, then benchmark speed times the
// target duration, then the fallback size.
func (s *ChunkPartitionService) ChunkSize(attack *models.Attack, agent *models.Agent) models.Keyspace {
	if override := attack.Config.ChunkSize; override != nil && override.Sign() > 0 {
		return *override
	}

	if agent != nil && s.config.ChunkDuration > 0 {
		if speed, ok := agent.Benchmarks.Speed(attack.HashType); ok && speed > 0 {
			seconds := int64(s.config.ChunkDuration / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			size := new(big.Int).Mul(big.NewInt(speed), big.NewInt(seconds))
			return models.KeyspaceFromBig(size)
		}
		debug.Log("No usable benchmark, using fallback chunk size", map[string]interface{}{
			"agent_id":  agent.ID,
			"hash_type": attack.HashType,
			"fallback":  s.config.FallbackChunkSize.String(),
		})
	}
	return s.config.FallbackChunkSize
}

// PlanRange computes the limit of the next chunk starting at cursor. The limit
// is clamped to the keyspace and a small final remainder is merged in.
func (s *ChunkPartitionService) PlanRange(cursor, keyspace, size models.Keyspace) (models.Keyspace, error) {
	if cursor.Cmp(keyspace) >= 0 {
		return models.Keyspace{}, ErrAttackExhausted
	}
	if size.Sign() <= 0 {
		return models.Keyspace{}, fmt.Errorf("chunk size must be positive, got %s", size)
	}

	limit := cursor.Add(size)
	if limit.Cmp(keyspace) >= 0 {
		return keyspace, nil
	}

	// remainder*100 <= size*fluctuation
	remainder := keyspace.Sub(limit)
	lhs := remainder.Mul(models.NewKeyspace(100))
	rhs := size.Mul(models.NewKeyspace(int64(s.config.FluctuationPercent)))
	if lhs.Cmp(rhs) <= 0 {
		debug.Log("Merging final chunk to avoid small remainder", map[string]interface{}{
			"remaining_after_chunk": remainder.String(),
			"chunk_size":            size.String(),
			"fluctuation_percent":   s.config.FluctuationPercent,
		})
		return keyspace, nil
	}
	return limit, nil
}

// NextChunk materializes the next pending task of the attack and advances its
// cursor. The attack's ChunkCursor is updated in place on success.
// Returns ErrAssignmentConflict when another request advanced the cursor first.
func (s *ChunkPartitionService) NextChunk(ctx context.Context, attack *models.Attack, size models.Keyspace) (*models.Task, error) {
	limit, err := s.PlanRange(attack.ChunkCursor, attack.Keyspace, size)
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.CreateNextChunk(ctx, attack.ID, attack.CampaignID, attack.ChunkCursor, limit)
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrAssignmentConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create next chunk: %w", err)
	}

	attack.ChunkCursor = limit

	debug.Log("Chunk created", map[string]interface{}{
		"attack_id":    attack.ID,
		"task_id":      task.ID,
		"chunk_number": task.ChunkNumber,
		"offset":       task.KeyspaceOffset.String(),
		"limit":        task.KeyspaceLimit.String(),
		"is_last":      limit.Cmp(attack.Keyspace) == 0,
	})
	return task, nil
}
