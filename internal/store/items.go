package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"bulk-import-pipeline/internal/models"
)

// AppendItems batch-inserts pending items, one per parsed row. Row numbers
// are unique per job; a conflicting insert means another processor already
// claimed the job and is reported as ErrStaleTransition.
func (s *Store) AppendItems(ctx context.Context, jobID string, items []models.ImportJobItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		rawJSON, err := json.Marshal(it.Raw)
		if err != nil {
			return fmt.Errorf("marshal raw row %d: %w", it.RowNumber, err)
		}
		batch.Queue(`
			INSERT INTO import_job_items (id, job_id, row_number, entity_type, entity_key, status, raw)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), jobID, it.RowNumber, it.EntityType, it.EntityKey, models.ItemPending, rawJSON)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range items {
		if _, err := br.Exec(); err != nil {
			if isUniqueViolation(err) {
				return ErrStaleTransition
			}
			return fmt.Errorf("insert job item: %w", err)
		}
	}
	return nil
}

// RowCommit is one row's atomic write unit: the destination entity
// create/update plus the item outcome plus the job counters, one
// transaction. A failure anywhere rolls back the whole row.
type RowCommit struct {
	JobID      string
	TenantID   string
	RowNumber  int
	Action     models.ItemAction
	EntityID   string // known id for update; the linked id for skip
	NaturalKey string
	Record     models.EntityRecord // nil for skip
}

// CommitRow applies one row. It returns the destination entity id the item
// ended up linked to.
func (s *Store) CommitRow(ctx context.Context, c RowCommit) (string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entityID := c.EntityID
	switch c.Action {
	case models.ActionCreate:
		entityID, err = s.createEntity(ctx, tx, c.TenantID, c.NaturalKey, c.Record)
		if err != nil {
			return "", fmt.Errorf("create entity: %w", err)
		}
	case models.ActionUpdate:
		if err := s.updateEntity(ctx, tx, c.TenantID, c.EntityID, c.Record); err != nil {
			return "", fmt.Errorf("update entity: %w", err)
		}
	case models.ActionSkip:
		// No destination write; the item links to the entity the earlier
		// duplicate row resolved.
	default:
		return "", fmt.Errorf("unknown row action %q", c.Action)
	}

	now := time.Now().UTC()
	var idParam any
	if entityID != "" {
		idParam = entityID
	}
	tag, err := tx.Exec(ctx, `
		UPDATE import_job_items
		SET entity_id = $3::uuid, action = $4, status = $5, processed_at = $6
		WHERE job_id = $1 AND row_number = $2 AND status = $7
	`, c.JobID, c.RowNumber, idParam, c.Action, models.ItemSuccess, now, models.ItemPending)
	if err != nil {
		return "", fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("item %d already processed: %w", c.RowNumber, ErrStaleTransition)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE import_jobs
		SET processed_rows = processed_rows + 1, success_rows = success_rows + 1, updated_at = NOW()
		WHERE id = $1
	`, c.JobID); err != nil {
		return "", fmt.Errorf("update job counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit row: %w", err)
	}
	return entityID, nil
}

// MarkRowError records a failed row: item error plus counters, one
// transaction, leaving every other row untouched.
func (s *Store) MarkRowError(ctx context.Context, jobID string, rowNumber int, message string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE import_job_items
		SET status = $3, error_message = $4, processed_at = NOW()
		WHERE job_id = $1 AND row_number = $2 AND status = $5
	`, jobID, rowNumber, models.ItemError, message, models.ItemPending)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d already processed: %w", rowNumber, ErrStaleTransition)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE import_jobs
		SET processed_rows = processed_rows + 1, error_rows = error_rows + 1, updated_at = NOW()
		WHERE id = $1
	`, jobID); err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}

	return tx.Commit(ctx)
}

// ItemFilter narrows and pages ListItems.
type ItemFilter struct {
	Status     models.ItemStatus
	EntityType models.EntityType
	Page       int
	Limit      int
}

// ListItems returns a page of a job's items in row order plus the total
// count matching the filter.
func (s *Store) ListItems(ctx context.Context, jobID string, f ItemFilter) ([]models.ImportJobItem, int, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM import_job_items
		WHERE job_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR entity_type = $3)
	`, jobID, string(f.Status), string(f.EntityType)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, row_number, entity_type, entity_key, entity_id, action, status, error_message, raw, processed_at
		FROM import_job_items
		WHERE job_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR entity_type = $3)
		ORDER BY row_number
		LIMIT $4 OFFSET $5
	`, jobID, string(f.Status), string(f.EntityType), f.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []models.ImportJobItem
	for rows.Next() {
		var it models.ImportJobItem
		var entityID, action, errMsg pgtype.Text
		var rawJSON []byte
		var processedAt pgtype.Timestamptz
		if err := rows.Scan(&it.ID, &it.JobID, &it.RowNumber, &it.EntityType, &it.EntityKey,
			&entityID, &action, &it.Status, &errMsg, &rawJSON, &processedAt); err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		it.EntityID = textPtr(entityID)
		if action.Valid {
			it.Action = models.ItemAction(action.String)
		}
		it.ErrorMessage = textPtr(errMsg)
		if len(rawJSON) > 0 {
			_ = json.Unmarshal(rawJSON, &it.Raw)
		}
		if processedAt.Valid {
			t := processedAt.Time
			it.ProcessedAt = &t
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// CountItems returns how many items exist for a job regardless of state.
func (s *Store) CountItems(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_job_items WHERE job_id = $1`, jobID).Scan(&n)
	return n, err
}
