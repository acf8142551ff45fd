package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/db"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/lib/pq"
)

// CampaignRepository handles database operations for campaigns
type CampaignRepository struct {
	db *db.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *db.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `
	id, project_id, hash_list_id, name, description, priority, state,
	dag_enabled, cracked_count, progress_percent, created_at, updated_at, completed_at`

// Create inserts a new campaign
func (r *CampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	query := `
		INSERT INTO campaigns (
			project_id, hash_list_id, name, description, priority, state, dag_enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	if campaign.State == "" {
		campaign.State = models.CampaignStateDraft
	}

	err := r.db.QueryRowContext(ctx, query,
		campaign.ProjectID,
		campaign.HashListID,
		campaign.Name,
		campaign.Description,
		campaign.Priority,
		campaign.State,
		campaign.DAGEnabled,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	campaign, err := scanCampaign(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("campaign with ID %d not found: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign %d: %w", id, err)
	}
	return campaign, nil
}

// Update stores the operator editable fields of a campaign
func (r *CampaignRepository) Update(ctx context.Context, campaign *models.Campaign) error {
	query := `
		UPDATE campaigns
		SET name = $2, description = $3, priority = $4, dag_enabled = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		campaign.ID,
		campaign.Name,
		campaign.Description,
		campaign.Priority,
		campaign.DAGEnabled,
	).Scan(&campaign.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("campaign with ID %d not found for update: %w", campaign.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update campaign %d: %w", campaign.ID, err)
	}
	return nil
}

// TransitionState moves a campaign to a new state if it is currently in one of the allowed states
func (r *CampaignRepository) TransitionState(ctx context.Context, id int64, from []models.CampaignState, to models.CampaignState) (bool, error) {
	query := `
		UPDATE campaigns
		SET state = $2,
		    updated_at = NOW(),
		    completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $1 AND state = ANY($3)
	`

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	result, err := r.db.ExecContext(ctx, query, id, to, pq.Array(states))
	if err != nil {
		return false, fmt.Errorf("failed to transition campaign %d to %s: %w", id, to, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// UpdateProgress stores the aggregated progress percentage
func (r *CampaignRepository) UpdateProgress(ctx context.Context, id int64, percent float64) error {
	query := `UPDATE campaigns SET progress_percent = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, percent); err != nil {
		return fmt.Errorf("failed to update campaign progress: %w", err)
	}
	return nil
}

// IncrementCracked adds delta to the campaign's cracked counter
func (r *CampaignRepository) IncrementCracked(ctx context.Context, id int64, delta int64) error {
	query := `UPDATE campaigns SET cracked_count = cracked_count + $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, delta); err != nil {
		return fmt.Errorf("failed to increment cracked count: %w", err)
	}
	return nil
}

// ListActive returns schedulable campaigns in scheduling order
func (r *CampaignRepository) ListActive(ctx context.Context) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE state = 'active'
		ORDER BY priority DESC, created_at ASC, id ASC
	`
	return r.list(ctx, query)
}

// ListByHashList returns every campaign targeting a hash list
func (r *CampaignRepository) ListByHashList(ctx context.Context, hashListID int64) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE hash_list_id = $1
		ORDER BY id ASC
	`
	return r.list(ctx, query, hashListID)
}

func (r *CampaignRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, *campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaigns: %w", err)
	}
	return campaigns, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	campaign := &models.Campaign{}
	var completedAt sql.NullTime

	err := row.Scan(
		&campaign.ID,
		&campaign.ProjectID,
		&campaign.HashListID,
		&campaign.Name,
		&campaign.Description,
		&campaign.Priority,
		&campaign.State,
		&campaign.DAGEnabled,
		&campaign.CrackedCount,
		&campaign.ProgressPercent,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		campaign.CompletedAt = &t
	}
	return campaign, nil
}
