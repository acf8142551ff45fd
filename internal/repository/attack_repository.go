package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/db"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
)

// AttackRepository handles database operations for attacks
type AttackRepository struct {
	db *db.DB
}

// NewAttackRepository creates a new attack repository
func NewAttackRepository(db *db.DB) *AttackRepository {
	return &AttackRepository{db: db}
}

const attackColumns = `
	id, campaign_id, name, mode, hash_type, phase, position, config, keyspace,
	complexity_score, chunk_cursor, state, progress_percent, created_at, updated_at, completed_at`

// Create inserts a new attack
func (r *AttackRepository) Create(ctx context.Context, attack *models.Attack) error {
	query := `
		INSERT INTO attacks (
			campaign_id, name, mode, hash_type, phase, position, config,
			keyspace, complexity_score, state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, chunk_cursor, created_at, updated_at
	`

	if attack.State == "" {
		attack.State = models.AttackStatePending
	}

	err := r.db.QueryRowContext(ctx, query,
		attack.CampaignID,
		attack.Name,
		attack.Mode,
		attack.HashType,
		attack.Phase,
		attack.Position,
		attack.Config,
		attack.Keyspace,
		attack.ComplexityScore,
		attack.State,
	).Scan(&attack.ID, &attack.ChunkCursor, &attack.CreatedAt, &attack.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create attack: %w", err)
	}
	return nil
}

// GetByID retrieves an attack by ID
func (r *AttackRepository) GetByID(ctx context.Context, id int64) (*models.Attack, error) {
	query := `SELECT ` + attackColumns + ` FROM attacks WHERE id = $1`

	attack, err := scanAttack(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attack with ID %d not found: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attack %d: %w", id, err)
	}
	return attack, nil
}

// ListByCampaign returns a campaign's attacks in phase/position order
func (r *AttackRepository) ListByCampaign(ctx context.Context, campaignID int64) ([]models.Attack, error) {
	query := `SELECT ` + attackColumns + `
		FROM attacks
		WHERE campaign_id = $1
		ORDER BY phase ASC, position ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attacks for campaign %d: %w", campaignID, err)
	}
	defer rows.Close()

	var attacks []models.Attack
	for rows.Next() {
		attack, err := scanAttack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attack: %w", err)
		}
		attacks = append(attacks, *attack)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attacks: %w", err)
	}
	return attacks, nil
}

// Update stores an edited attack definition
func (r *AttackRepository) Update(ctx context.Context, attack *models.Attack) error {
	query := `
		UPDATE attacks
		SET name = $2, mode = $3, hash_type = $4, config = $5, keyspace = $6,
		    complexity_score = $7, phase = $8, position = $9, state = $10,
		    progress_percent = $11, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		attack.ID,
		attack.Name,
		attack.Mode,
		attack.HashType,
		attack.Config,
		attack.Keyspace,
		attack.ComplexityScore,
		attack.Phase,
		attack.Position,
		attack.State,
		attack.ProgressPercent,
	).Scan(&attack.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("attack with ID %d not found for update: %w", attack.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update attack %d: %w", attack.ID, err)
	}
	return nil
}

// UpdatePlacement stores a new phase and position for an attack
func (r *AttackRepository) UpdatePlacement(ctx context.Context, id int64, phase, position int) error {
	query := `UPDATE attacks SET phase = $2, position = $3, updated_at = NOW() WHERE id = $1`
	return r.execExpectOne(ctx, query, "update placement of", id, phase, position)
}

// UpdateState changes the attack state
func (r *AttackRepository) UpdateState(ctx context.Context, id int64, state models.AttackState) error {
	query := `
		UPDATE attacks
		SET state = $2,
		    updated_at = NOW(),
		    completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE NULL END
		WHERE id = $1
	`
	return r.execExpectOne(ctx, query, "update state of", id, state)
}

// UpdateProgress stores the aggregated progress percentage
func (r *AttackRepository) UpdateProgress(ctx context.Context, id int64, percent float64) error {
	query := `UPDATE attacks SET progress_percent = $2, updated_at = NOW() WHERE id = $1`
	return r.execExpectOne(ctx, query, "update progress of", id, percent)
}

// Delete removes an attack and, through the foreign key, its tasks
func (r *AttackRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM attacks WHERE id = $1`
	return r.execExpectOne(ctx, query, "delete", id)
}

func (r *AttackRepository) execExpectOne(ctx context.Context, query, action string, id int64, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to %s attack %d: %w", action, id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("attack with ID %d not found: %w", id, ErrNotFound)
	}
	return nil
}

func scanAttack(row rowScanner) (*models.Attack, error) {
	attack := &models.Attack{}
	var completedAt sql.NullTime

	err := row.Scan(
		&attack.ID,
		&attack.CampaignID,
		&attack.Name,
		&attack.Mode,
		&attack.HashType,
		&attack.Phase,
		&attack.Position,
		&attack.Config,
		&attack.Keyspace,
		&attack.ComplexityScore,
		&attack.ChunkCursor,
		&attack.State,
		&attack.ProgressPercent,
		&attack.CreatedAt,
		&attack.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		attack.CompletedAt = &t
	}
	return attack, nil
}
