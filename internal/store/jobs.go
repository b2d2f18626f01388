package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"bulk-import-pipeline/internal/models"
)

// CreateJobParams collects inputs required to insert an import job.
type CreateJobParams struct {
	TenantID       string
	SubmitterID    string
	Filename       string
	ContentType    string
	SizeBytes      int64
	ObjectPath     string
	EntityType     models.EntityType
	Override       bool
	Metadata       map[string]string
	IdempotencyKey string
	IdempotencyTTL time.Duration
}

// CreateJob inserts a job in the pending state, honoring idempotency if a
// key is provided. It returns the job and whether an existing job was
// reused via the idempotency key.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.ImportJob, bool, error) {
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	p.Metadata["entity_type"] = string(p.EntityType)

	// If the idempotency key already exists, short-circuit before creating
	// anything.
	if p.IdempotencyKey != "" {
		if existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
			return models.ImportJob{}, false, err
		} else if found {
			return existing, true, nil
		}
	}

	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return models.ImportJob{}, false, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.ImportJob{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO import_jobs (id, tenant_id, submitter_id, filename, content_type, size_bytes, object_path, entity_type, status, override, metadata, started_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $12)
	`, id, p.TenantID, p.SubmitterID, p.Filename, p.ContentType, p.SizeBytes, p.ObjectPath, p.EntityType, models.JobPending, p.Override, metaJSON, now)
	if err != nil {
		return models.ImportJob{}, false, fmt.Errorf("insert job: %w", err)
	}

	if p.IdempotencyKey != "" {
		expires := now.Add(p.IdempotencyTTL)
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, job_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING
		`, p.IdempotencyKey, id, expires)
		if err != nil {
			return models.ImportJob{}, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Someone else claimed the key after our initial check.
			if err := tx.Rollback(ctx); err != nil {
				return models.ImportJob{}, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
			}
			existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if err != nil {
				return models.ImportJob{}, false, err
			}
			if !found {
				return models.ImportJob{}, false, errors.New("idempotency conflict but no existing job found")
			}
			return existing, true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.ImportJob{}, false, fmt.Errorf("commit: %w", err)
	}

	return models.ImportJob{
		ID:          id,
		TenantID:    p.TenantID,
		SubmitterID: p.SubmitterID,
		Filename:    p.Filename,
		ContentType: p.ContentType,
		SizeBytes:   p.SizeBytes,
		ObjectPath:  p.ObjectPath,
		EntityType:  p.EntityType,
		Status:      models.JobPending,
		Override:    p.Override,
		Metadata:    p.Metadata,
		StartedAt:   now,
	}, false, nil
}

// FindByIdempotencyKey returns the job mapped to the key if present and unexpired.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.ImportJob, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT job_id FROM idempotency_keys WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ImportJob{}, false, nil
	}
	if err != nil {
		return models.ImportJob{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return models.ImportJob{}, false, err
	}
	return job, true, nil
}

const jobColumns = `id, tenant_id, submitter_id, filename, content_type, size_bytes, object_path, entity_type, status, override, total_rows, processed_rows, success_rows, error_rows, error_summary, metadata, started_at, completed_at`

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.ImportJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ImportJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.ImportJob{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// GetJobStatus reads only the persisted status. The row processor polls it
// between rows to observe external failure marks.
func (s *Store) GetJobStatus(ctx context.Context, id string) (models.JobStatus, error) {
	var status models.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM import_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query job status: %w", err)
	}
	return status, nil
}

// Transition moves a job from one status to another with compare-and-swap
// semantics: if the persisted status no longer matches from, no write
// happens and ErrStaleTransition is returned.
func (s *Store) Transition(ctx context.Context, id string, from, to models.JobStatus) error {
	var completedAt any
	if to.Terminal() {
		completedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = $3, completed_at = COALESCE($4::timestamptz, completed_at), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, completedAt)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJobStatus(ctx, id); errors.Is(err, ErrJobNotFound) {
			return ErrJobNotFound
		}
		return ErrStaleTransition
	}
	return nil
}

// SetTotals records the parsed row count once validation has run.
func (s *Store) SetTotals(ctx context.Context, id string, totalRows int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_jobs SET total_rows = $2, updated_at = NOW() WHERE id = $1
	`, id, totalRows)
	return err
}

// FailJob moves a job to failed via CAS and records the error summary.
// Already-committed rows stay committed.
func (s *Store) FailJob(ctx context.Context, id string, from models.JobStatus, summary map[string]any) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal error summary: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = $3, error_summary = $4, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, models.JobFailed, summaryJSON)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkFailed force-marks a non-terminal job failed, regardless of its
// current non-terminal status. Used for external cancellation.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	summaryJSON, _ := json.Marshal(map[string]any{"reason": reason})
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = $2, error_summary = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($4, $5, $6)
	`, id, models.JobFailed, summaryJSON, models.JobCompleted, models.JobCompletedWithErrors, models.JobFailed)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ListRecentJobs returns the most recently started jobs for a tenant.
// Empty tenant lists across tenants (metrics use).
func (s *Store) ListRecentJobs(ctx context.Context, tenantID string, limit int) ([]models.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM import_jobs
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (models.ImportJob, error) {
	var job models.ImportJob
	var summaryJSON, metaJSON []byte
	var submitter pgtype.Text
	var completedAt pgtype.Timestamptz

	err := row.Scan(
		&job.ID, &job.TenantID, &submitter, &job.Filename, &job.ContentType,
		&job.SizeBytes, &job.ObjectPath, &job.EntityType, &job.Status, &job.Override,
		&job.TotalRows, &job.ProcessedRows, &job.SuccessRows, &job.ErrorRows,
		&summaryJSON, &metaJSON, &job.StartedAt, &completedAt,
	)
	if err != nil {
		return models.ImportJob{}, err
	}
	if submitter.Valid {
		job.SubmitterID = submitter.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	if len(summaryJSON) > 0 {
		_ = json.Unmarshal(summaryJSON, &job.ErrorSummary)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &job.Metadata)
	}
	return job, nil
}
