package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/db"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*db.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db.New(sqlDB), mock
}

func TestTaskRepository_CreateNextChunk(t *testing.T) {
	t.Run("advances cursor and inserts task", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewTaskRepository(database)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE attacks\\s+SET chunk_cursor").
			WithArgs(int64(7), "0", "100000").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO tasks").
			WithArgs(sqlmock.AnyArg(), int64(7), int64(3), "0", "100000", models.TaskStatePending).
			WillReturnRows(sqlmock.NewRows([]string{"chunk_number", "created_at", "updated_at"}).AddRow(1, now, now))
		mock.ExpectCommit()

		task, err := repo.CreateNextChunk(context.Background(), 7, 3, models.NewKeyspace(0), models.NewKeyspace(100000))
		require.NoError(t, err)
		assert.Equal(t, 1, task.ChunkNumber)
		assert.Equal(t, "100000", task.KeyspaceLimit.String())
		assert.Equal(t, models.TaskStatePending, task.State)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("moved cursor is a conflict", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewTaskRepository(database)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE attacks\\s+SET chunk_cursor").
			WithArgs(int64(7), "0", "100000").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		task, err := repo.CreateNextChunk(context.Background(), 7, 3, models.NewKeyspace(0), models.NewKeyspace(100000))
		assert.Nil(t, task)
		assert.True(t, errors.Is(err, ErrConflict))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepository_Claim(t *testing.T) {
	id := uuid.New()
	lease := time.Now().Add(time.Minute)

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		want    bool
		wantErr bool
	}{
		{
			name: "wins the swap",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE tasks\\s+SET state = 'assigned'").
					WithArgs(id, 4, lease).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			want: true,
		},
		{
			name: "already taken",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE tasks\\s+SET state = 'assigned'").
					WithArgs(id, 4, lease).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			want: false,
		},
		{
			name: "agent already holds a lease",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE tasks\\s+SET state = 'assigned'").
					WithArgs(id, 4, lease).
					WillReturnError(&pq.Error{Code: "23505"})
			},
			want: false,
		},
		{
			name: "database failure",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE tasks\\s+SET state = 'assigned'").
					WithArgs(id, 4, lease).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database, mock := newMockDB(t)
			repo := NewTaskRepository(database)
			tt.setup(mock)

			got, err := repo.Claim(context.Background(), id, 4, lease)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTaskRepository_Reclaim(t *testing.T) {
	id := uuid.New()

	t.Run("returns resulting state", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewTaskRepository(database)

		mock.ExpectQuery("UPDATE tasks\\s+SET retry_count = retry_count \\+ 1").
			WithArgs(id, 2, 3, "lease expired").
			WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("failed"))

		state, ok, err := repo.Reclaim(context.Background(), id, 2, 3, "lease expired")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, models.TaskStateFailed, state)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no longer held", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewTaskRepository(database)

		mock.ExpectQuery("UPDATE tasks\\s+SET retry_count = retry_count \\+ 1").
			WithArgs(id, 2, 3, "lease expired").
			WillReturnRows(sqlmock.NewRows([]string{"state"}))

		_, ok, err := repo.Reclaim(context.Background(), id, 2, 3, "lease expired")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepository_RecordProgressIsMonotonic(t *testing.T) {
	database, mock := newMockDB(t)
	repo := NewTaskRepository(database)
	id := uuid.New()
	lease := time.Now().Add(time.Minute)

	mock.ExpectExec("SET progress = LEAST\\(GREATEST\\(progress, \\$3\\)").
		WithArgs(id, 9, "5000", int64(1200), lease).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.RecordProgress(context.Background(), id, 9, models.NewKeyspace(5000), 1200, lease)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_GetByID(t *testing.T) {
	id := uuid.New()
	columns := []string{
		"id", "attack_id", "campaign_id", "chunk_number", "keyspace_offset", "keyspace_limit", "state",
		"agent_id", "lease_expires_at", "retry_count", "progress", "hash_rate", "failure_acknowledged",
		"error_message", "created_at", "updated_at", "started_at", "completed_at",
	}

	t.Run("scans numeric and nullable columns", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewTaskRepository(database)
		now := time.Now()

		mock.ExpectQuery("SELECT .+ FROM tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(
				id.String(), 1, 2, 3, []byte("200000000000000000000"), []byte("300000000000000000000"), "running",
				5, now, 1, []byte("42"), 1000, false,
				"", now, now, now, nil,
			))

		task, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "200000000000000000000", task.KeyspaceOffset.String())
		assert.Equal(t, "100000000000000000000", task.Size().String())
		require.NotNil(t, task.AgentID)
		assert.Equal(t, 5, *task.AgentID)
		assert.Nil(t, task.CompletedAt)
		assert.Equal(t, models.TaskStateRunning, task.State)
	})

	t.Run("not found", func(t *testing.T) {
		database, mock := newMockDB(t)
		repo := NewTaskRepository(database)

		mock.ExpectQuery("SELECT .+ FROM tasks WHERE id = \\$1").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := repo.GetByID(context.Background(), id)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}
