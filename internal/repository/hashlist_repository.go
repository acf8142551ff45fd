package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/db"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// insertBatchSize bounds the number of rows per multi-row INSERT
const insertBatchSize = 1000

// HashListRepository handles database operations for hash lists and their items.
type HashListRepository struct {
	db *db.DB
}

// NewHashListRepository creates a new instance of HashListRepository.
func NewHashListRepository(database *db.DB) *HashListRepository {
	return &HashListRepository{db: database}
}

// CreateHashList inserts a hash list and its items. Duplicate hash values are stored once.
func (r *HashListRepository) CreateHashList(ctx context.Context, list *models.HashList, hashes []string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO hash_lists (name, hash_type_id)
			VALUES ($1, $2)
			RETURNING id, created_at, updated_at
		`, list.Name, list.HashTypeID).Scan(&list.ID, &list.CreatedAt, &list.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create hash list: %w", err)
		}

		for start := 0; start < len(hashes); start += insertBatchSize {
			end := start + insertBatchSize
			if end > len(hashes) {
				end = len(hashes)
			}
			if err := insertHashItems(ctx, tx, list.ID, hashes[start:end]); err != nil {
				return err
			}
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE hash_lists
			SET total_hashes = (SELECT COUNT(*) FROM hash_items WHERE hash_list_id = $1)
			WHERE id = $1
			RETURNING total_hashes
		`, list.ID).Scan(&list.TotalHashes)
		if err != nil {
			return fmt.Errorf("failed to update hash list totals: %w", err)
		}

		debug.Info("Created hash list %d with %d hashes", list.ID, list.TotalHashes)
		return nil
	})
}

func insertHashItems(ctx context.Context, tx *sql.Tx, hashListID int64, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO hash_items (hash_list_id, hash_value) VALUES `)
	args := make([]interface{}, 0, len(hashes)+1)
	args = append(args, hashListID)
	for i, h := range hashes {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($1, $%d)", i+2)
		args = append(args, h)
	}
	sb.WriteString(` ON CONFLICT (hash_list_id, hash_value) DO NOTHING`)

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert hash items: %w", err)
	}
	return nil
}

// GetHashList retrieves a hash list by ID
func (r *HashListRepository) GetHashList(ctx context.Context, id int64) (*models.HashList, error) {
	query := `
		SELECT id, name, hash_type_id, total_hashes, cracked_hashes, created_at, updated_at
		FROM hash_lists
		WHERE id = $1
	`

	list := &models.HashList{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&list.ID,
		&list.Name,
		&list.HashTypeID,
		&list.TotalHashes,
		&list.CrackedHashes,
		&list.CreatedAt,
		&list.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hash list with ID %d not found: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hash list %d: %w", id, err)
	}
	return list, nil
}

// ListHashValues returns every hash value of a list
func (r *HashListRepository) ListHashValues(ctx context.Context, hashListID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT hash_value FROM hash_items WHERE hash_list_id = $1`, hashListID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hash values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan hash value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hash values: %w", err)
	}
	return values, nil
}

// GetItem retrieves a single hash item
func (r *HashListRepository) GetItem(ctx context.Context, hashListID int64, hashValue string) (*models.HashItem, error) {
	query := `
		SELECT id, hash_list_id, hash_value, cracked, plaintext,
		       cracked_by_attack_id, cracked_by_task_id, cracked_by_agent_id, cracked_at
		FROM hash_items
		WHERE hash_list_id = $1 AND hash_value = $2
	`

	item := &models.HashItem{}
	var (
		plaintext sql.NullString
		attackID  sql.NullInt64
		taskID    sql.NullString
		agentID   sql.NullInt64
		crackedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, hashListID, hashValue).Scan(
		&item.ID,
		&item.HashListID,
		&item.HashValue,
		&item.Cracked,
		&plaintext,
		&attackID,
		&taskID,
		&agentID,
		&crackedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hash %q not in list %d: %w", hashValue, hashListID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hash item: %w", err)
	}

	if plaintext.Valid {
		item.Plaintext = &plaintext.String
	}
	if attackID.Valid && taskID.Valid && agentID.Valid {
		by := &models.CrackedBy{AttackID: attackID.Int64, AgentID: int(agentID.Int64)}
		if err := by.TaskID.UnmarshalText([]byte(taskID.String)); err != nil {
			return nil, fmt.Errorf("failed to parse cracking task id: %w", err)
		}
		item.CrackedBy = by
	}
	item.CrackedAt = timePtr(crackedAt)
	return item, nil
}

// MarkCracked records the first crack of a hash. Returns false if it was already cracked.
func (r *HashListRepository) MarkCracked(ctx context.Context, hashListID int64, hashValue, plaintext string, by models.CrackedBy, at time.Time) (bool, error) {
	var cracked bool
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE hash_items
			SET cracked = TRUE, plaintext = $3, cracked_by_attack_id = $4,
			    cracked_by_task_id = $5, cracked_by_agent_id = $6, cracked_at = $7
			WHERE hash_list_id = $1 AND hash_value = $2 AND cracked = FALSE
		`, hashListID, hashValue, plaintext, by.AttackID, by.TaskID, by.AgentID, at)
		if err != nil {
			return fmt.Errorf("failed to mark hash cracked: %w", err)
		}
		cracked, err = affectedOne(result)
		if err != nil || !cracked {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE hash_lists SET cracked_hashes = cracked_hashes + 1, updated_at = NOW() WHERE id = $1
		`, hashListID); err != nil {
			return fmt.Errorf("failed to update hash list cracked count: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return cracked, nil
}

// CountUncracked returns how many hashes of a list are still uncracked
func (r *HashListRepository) CountUncracked(ctx context.Context, hashListID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM hash_items WHERE hash_list_id = $1 AND cracked = FALSE`
	if err := r.db.QueryRowContext(ctx, query, hashListID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count uncracked hashes: %w", err)
	}
	return count, nil
}
