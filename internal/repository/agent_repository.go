package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/db"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
)

// AgentRepository handles database operations for agents
type AgentRepository struct {
	db *db.DB
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *db.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

const agentColumns = `id, name, enabled, state, benchmarks, devices, last_seen_at, created_at, updated_at`

// GetByID retrieves an agent by ID
func (r *AgentRepository) GetByID(ctx context.Context, id int) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	agent, err := scanAgent(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent with ID %d not found: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %d: %w", id, err)
	}
	return agent, nil
}

// Upsert registers an agent or refreshes the capabilities it reported
func (r *AgentRepository) Upsert(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (id, name, enabled, state, benchmarks, devices, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = CASE WHEN EXCLUDED.name = '' THEN agents.name ELSE EXCLUDED.name END,
		    state = EXCLUDED.state,
		    benchmarks = EXCLUDED.benchmarks,
		    devices = EXCLUDED.devices,
		    last_seen_at = EXCLUDED.last_seen_at,
		    updated_at = NOW()
		RETURNING enabled, created_at, updated_at
	`

	if agent.LastSeenAt.IsZero() {
		agent.LastSeenAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.Enabled,
		agent.State,
		agent.Benchmarks,
		agent.Devices,
		agent.LastSeenAt,
	).Scan(&agent.Enabled, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert agent %d: %w", agent.ID, err)
	}
	return nil
}

// List returns all agents ordered by ID
func (r *AgentRepository) List(ctx context.Context) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

// UpdateState changes the agent state
func (r *AgentRepository) UpdateState(ctx context.Context, id int, state models.AgentState) error {
	query := `UPDATE agents SET state = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, state)
	if err != nil {
		return fmt.Errorf("failed to update agent state: %w", err)
	}
	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("agent with ID %d not found: %w", id, ErrNotFound)
	}
	return nil
}

// SetEnabled toggles the operator controlled enabled flag
func (r *AgentRepository) SetEnabled(ctx context.Context, id int, enabled bool) error {
	query := `UPDATE agents SET enabled = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update agent enabled flag: %w", err)
	}
	ok, err := affectedOne(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("agent with ID %d not found: %w", id, ErrNotFound)
	}
	return nil
}

// Touch records that the agent was seen
func (r *AgentRepository) Touch(ctx context.Context, id int, seenAt time.Time) error {
	query := `UPDATE agents SET last_seen_at = $2 WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, seenAt); err != nil {
		return fmt.Errorf("failed to update agent last seen: %w", err)
	}
	return nil
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	agent := &models.Agent{}
	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Enabled,
		&agent.State,
		&agent.Benchmarks,
		&agent.Devices,
		&agent.LastSeenAt,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return agent, nil
}
