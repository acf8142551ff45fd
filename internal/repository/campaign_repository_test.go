package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignRepository_TransitionState(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewCampaignRepository(database)

	mock.ExpectExec("UPDATE campaigns\\s+SET state = \\$2").
		WithArgs(int64(3), models.CampaignStatePaused, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns\\s+SET state = \\$2").
		WithArgs(int64(3), models.CampaignStatePaused, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TransitionState(context.Background(), 3,
		[]models.CampaignState{models.CampaignStateActive}, models.CampaignStatePaused)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.TransitionState(context.Background(), 3,
		[]models.CampaignState{models.CampaignStateActive}, models.CampaignStatePaused)
	require.NoError(t, err)
	assert.False(t, ok, "second transition finds the campaign already paused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_GetByIDNotFound(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewCampaignRepository(database)

	mock.ExpectQuery("SELECT .+ FROM campaigns WHERE id = \\$1").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 99)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCampaignRepository_ListActiveOrdering(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewCampaignRepository(database)

	mock.ExpectQuery("WHERE state = 'active'\\s+ORDER BY priority DESC, created_at ASC, id ASC").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "project_id", "hash_list_id", "name", "description", "priority", "state",
			"dag_enabled", "cracked_count", "progress_percent", "created_at", "updated_at", "completed_at",
		}))

	campaigns, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, campaigns)
	assert.NoError(t, mock.ExpectationsWereMet())
}
