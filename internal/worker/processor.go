package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bulk-import-pipeline/internal/config"
	"bulk-import-pipeline/internal/models"
	"bulk-import-pipeline/internal/schema"
	"bulk-import-pipeline/internal/store"
	"bulk-import-pipeline/internal/telemetry"
	"bulk-import-pipeline/internal/validate"
)

// statusCheckEvery is how many rows pass between external-cancel checks.
const statusCheckEvery = 25

// leaseExtendEvery is how many rows pass between visibility lease renewals.
const leaseExtendEvery = 100

// JobStore is the slice of the job & item store the processor drives.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.ImportJob, error)
	GetJobStatus(ctx context.Context, id string) (models.JobStatus, error)
	Transition(ctx context.Context, id string, from, to models.JobStatus) error
	SetTotals(ctx context.Context, id string, totalRows int) error
	FailJob(ctx context.Context, id string, from models.JobStatus, summary map[string]any) error
	MarkFailed(ctx context.Context, id, reason string) error
	AppendItems(ctx context.Context, jobID string, items []models.ImportJobItem) error
	CommitRow(ctx context.Context, c store.RowCommit) (string, error)
	MarkRowError(ctx context.Context, jobID string, rowNumber int, message string) error
	FindEntityID(ctx context.Context, tenantID string, entityType models.EntityType, naturalKey string) (string, bool, error)
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// Dispatch is the slice of the queue the processor consumes.
type Dispatch interface {
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, jobID string) error
	ExtendLease(ctx context.Context, jobID string, extension time.Duration) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
	InflightCount(ctx context.Context) (int64, error)
}

// Downloader fetches the uploaded file for a job.
type Downloader interface {
	Download(ctx context.Context, objectPath string) ([]byte, error)
}

// Validator runs the preview & validation pass over a payload.
type Validator interface {
	Validate(ctx context.Context, caller validate.Caller, entityType models.EntityType, data []byte, contentType string) (*validate.Result, error)
}

// Processor drives the worker loop: claim a job, validate the file, commit
// rows one transaction at a time. Redelivery after a lease expiry is safe
// because every state transition is a compare-and-set against the store.
type Processor struct {
	cfg      config.Config
	queue    Dispatch
	store    JobStore
	files    Downloader
	engine   Validator
	workerID string
}

func NewProcessor(cfg config.Config, q Dispatch, st JobStore, files Downloader, engine Validator) *Processor {
	return NewProcessorWithID(cfg, q, st, files, engine, "")
}

// NewProcessorWithID creates a processor with a specific worker ID for audit
// trails.
func NewProcessorWithID(cfg config.Config, q Dispatch, st JobStore, files Downloader, engine Validator, workerID string) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		files:    files,
		engine:   engine,
		workerID: workerID,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			log.Printf("reclaimed %d expired leases", len(reclaimed))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
		// The inflight zset is the one source of truth for the gauge;
		// counting deliveries here drifts once another worker reclaims
		// this worker's expired lease.
		if inflight, err := p.queue.InflightCount(ctx); err == nil {
			telemetry.InFlightGauge.Set(float64(inflight))
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		if err := p.ProcessJob(ctx, jobID); err != nil {
			// Leave the lease in place: after it expires the job is
			// redelivered and the stale-claim path settles its state.
			log.Printf("job %s: %v", jobID, err)
		} else {
			_ = p.queue.Ack(ctx, jobID)
		}
	}
}

// ProcessJob runs one job end to end. A second delivery of the same job is a
// no-op: the pending->validating compare-and-set admits exactly one claim.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}

	if err := p.store.Transition(ctx, job.ID, models.JobPending, models.JobValidating); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			return p.settleAbandoned(ctx, job.ID)
		}
		return fmt.Errorf("claim job: %w", err)
	}
	_ = p.store.AppendAudit(ctx, job.ID, "validating", p.auditDetail("download and validation started"))

	data, err := p.files.Download(ctx, job.ObjectPath)
	if err != nil {
		return p.failValidation(ctx, job.ID, map[string]any{
			"code":   "file_unreadable",
			"reason": err.Error(),
		})
	}

	caller := validate.Caller{
		TenantID: job.TenantID,
		UserID:   job.SubmitterID,
		Role:     job.Metadata["submitter_role"],
	}
	res, err := p.engine.Validate(ctx, caller, job.EntityType, data, job.ContentType)
	if err != nil {
		return p.failValidation(ctx, job.ID, map[string]any{
			"code":   "validation_error",
			"reason": err.Error(),
		})
	}
	if err := p.store.SetTotals(ctx, job.ID, res.Summary.TotalRows); err != nil {
		return fmt.Errorf("set totals: %w", err)
	}

	if res.FileBlocked() || (res.Summary.ErrorCount > 0 && !job.Override) {
		return p.failValidation(ctx, job.ID, summaryFromResult(res))
	}

	if err := p.store.Transition(ctx, job.ID, models.JobValidating, models.JobProcessing); err != nil {
		return fmt.Errorf("start processing: %w", err)
	}
	_ = p.store.AppendAudit(ctx, job.ID, "processing",
		p.auditDetail(fmt.Sprintf("total_rows=%d override=%t", res.Summary.TotalRows, job.Override)))

	return p.commitRows(ctx, job, res)
}

// commitRows walks the validated rows in file order. Each row commits or
// records its error independently; a bad row never stops its neighbors.
func (p *Processor) commitRows(ctx context.Context, job models.ImportJob, res *validate.Result) error {
	items := make([]models.ImportJobItem, 0, len(res.Rows))
	keys := make(map[int]string, len(res.Rows))
	for _, row := range res.Rows {
		key, err := schema.NaturalKey(job.EntityType, row.Cells)
		if err != nil {
			key = ""
		}
		keys[row.Number] = key
		items = append(items, models.ImportJobItem{
			JobID:      job.ID,
			RowNumber:  row.Number,
			EntityType: job.EntityType,
			EntityKey:  key,
			Status:     models.ItemPending,
			Raw:        row.Cells,
		})
	}
	if err := p.store.AppendItems(ctx, job.ID, items); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			return nil
		}
		return fmt.Errorf("stage items: %w", err)
	}

	blocked := res.BlockingRows()
	rowErrors := firstErrorByRow(res.Issues)
	committed := make(map[string]string) // natural key -> entity id from this job
	errRows := 0

	for i, row := range res.Rows {
		if i > 0 && i%statusCheckEvery == 0 {
			status, err := p.store.GetJobStatus(ctx, job.ID)
			if err == nil && status != models.JobProcessing {
				_ = p.store.AppendAudit(ctx, job.ID, "halted",
					p.auditDetail(fmt.Sprintf("status changed to %s after %d rows", status, i)))
				return nil
			}
		}
		if i > 0 && i%leaseExtendEvery == 0 {
			_ = p.queue.ExtendLease(ctx, job.ID, p.cfg.VisibilityTimeout)
		}

		if blocked[row.Number] {
			p.recordRowError(ctx, job.ID, row.Number, rowErrors[row.Number], &errRows)
			continue
		}

		key := keys[row.Number]
		if priorID, ok := committed[key]; ok {
			_, err := p.store.CommitRow(ctx, store.RowCommit{
				JobID:      job.ID,
				TenantID:   job.TenantID,
				RowNumber:  row.Number,
				Action:     models.ActionSkip,
				EntityID:   priorID,
				NaturalKey: key,
			})
			if err != nil {
				p.recordRowError(ctx, job.ID, row.Number, err.Error(), &errRows)
				continue
			}
			telemetry.RowsSucceeded.Inc()
			continue
		}

		rec, err := schema.Decode(job.EntityType, row)
		if err != nil {
			p.recordRowError(ctx, job.ID, row.Number, err.Error(), &errRows)
			continue
		}

		commit := store.RowCommit{
			JobID:      job.ID,
			TenantID:   job.TenantID,
			RowNumber:  row.Number,
			Action:     models.ActionCreate,
			NaturalKey: key,
			Record:     rec,
		}
		if existingID, found, err := p.store.FindEntityID(ctx, job.TenantID, job.EntityType, key); err != nil {
			p.recordRowError(ctx, job.ID, row.Number, err.Error(), &errRows)
			continue
		} else if found {
			commit.Action = models.ActionUpdate
			commit.EntityID = existingID
		}

		entityID, err := p.store.CommitRow(ctx, commit)
		if err != nil {
			p.recordRowError(ctx, job.ID, row.Number, err.Error(), &errRows)
			continue
		}
		committed[key] = entityID
		telemetry.RowsSucceeded.Inc()
	}

	to := models.JobCompleted
	if errRows > 0 {
		to = models.JobCompletedWithErrors
	}
	if err := p.store.Transition(ctx, job.ID, models.JobProcessing, to); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			return nil
		}
		return fmt.Errorf("finish job: %w", err)
	}
	if to == models.JobCompleted {
		telemetry.JobsCompleted.Inc()
	} else {
		telemetry.JobsCompletedErrs.Inc()
	}
	_ = p.store.AppendAudit(ctx, job.ID, string(to),
		p.auditDetail(fmt.Sprintf("rows=%d errors=%d", len(res.Rows), errRows)))
	return nil
}

// settleAbandoned handles a redelivery whose claim failed. The queue hands
// a job to one worker at a time, so a stale claim on a non-terminal job
// means the previous run's lease expired mid-flight. The job is marked
// failed; committed rows stay committed and a re-run is a new job.
func (p *Processor) settleAbandoned(ctx context.Context, jobID string) error {
	status, err := p.store.GetJobStatus(ctx, jobID)
	if err != nil || status.Terminal() {
		return nil
	}
	if err := p.store.MarkFailed(ctx, jobID, "processing interrupted; worker lease expired"); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			return nil
		}
		return fmt.Errorf("settle abandoned job: %w", err)
	}
	telemetry.JobsFailed.Inc()
	_ = p.store.AppendAudit(ctx, jobID, "failed", p.auditDetail("abandoned run settled after lease expiry"))
	return nil
}

func (p *Processor) recordRowError(ctx context.Context, jobID string, rowNumber int, message string, errRows *int) {
	if message == "" {
		message = "row rejected during validation"
	}
	if err := p.store.MarkRowError(ctx, jobID, rowNumber, message); err != nil {
		log.Printf("job %s row %d: record error: %v", jobID, rowNumber, err)
		return
	}
	*errRows++
	telemetry.RowsFailed.Inc()
}

func (p *Processor) failValidation(ctx context.Context, jobID string, summary map[string]any) error {
	if err := p.store.FailJob(ctx, jobID, models.JobValidating, summary); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			return nil
		}
		return fmt.Errorf("fail job: %w", err)
	}
	telemetry.JobsFailed.Inc()
	_ = p.store.AppendAudit(ctx, jobID, "failed", p.auditDetail(fmt.Sprintf("%v", summary["code"])))
	return nil
}

func (p *Processor) auditDetail(msg string) string {
	if p.workerID == "" {
		return msg
	}
	return fmt.Sprintf("worker=%s %s", p.workerID, msg)
}

// summaryFromResult flattens a validation result into the error_summary
// stored on a failed job.
func summaryFromResult(res *validate.Result) map[string]any {
	codes := make(map[string]int)
	for _, is := range res.Issues {
		if is.Severity == models.SeverityError {
			codes[is.Code]++
		}
	}
	return map[string]any{
		"code":             "validation_failed",
		"total_rows":       res.Summary.TotalRows,
		"error_count":      res.Summary.ErrorCount,
		"warning_count":    res.Summary.WarningCount,
		"rows_with_errors": res.Summary.RowsWithErrors,
		"codes":            codes,
	}
}

// firstErrorByRow picks each row's first error-severity message for the
// item's error_message column.
func firstErrorByRow(issues []models.ValidationIssue) map[int]string {
	out := make(map[int]string)
	for _, is := range issues {
		if is.Severity != models.SeverityError || is.RowNumber == 0 {
			continue
		}
		if _, ok := out[is.RowNumber]; !ok {
			if is.Field != "" {
				out[is.RowNumber] = fmt.Sprintf("%s: %s", is.Field, is.Message)
			} else {
				out[is.RowNumber] = is.Message
			}
		}
	}
	return out
}
