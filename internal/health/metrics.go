package health

import (
	"context"
	"time"

	"bulk-import-pipeline/internal/models"
)

// JobSource is the slice of the job store the metrics reader needs.
type JobSource interface {
	GetJob(ctx context.Context, id string) (models.ImportJob, error)
	ListRecentJobs(ctx context.Context, tenantID string, limit int) ([]models.ImportJob, error)
}

// JobMetrics is the derived throughput view of one import job.
type JobMetrics struct {
	JobID         string            `json:"job_id"`
	EntityType    models.EntityType `json:"entity_type"`
	Status        models.JobStatus  `json:"status"`
	TotalRows     int               `json:"total_rows"`
	ProcessedRows int               `json:"processed_rows"`
	SuccessRows   int               `json:"success_rows"`
	ErrorRows     int               `json:"error_rows"`
	RowsPerSecond float64           `json:"rows_per_second"`
	ErrorRate     float64           `json:"error_rate"`
	DurationMs    int64             `json:"duration_ms"`
}

// AggregateMetrics summarizes recent jobs.
type AggregateMetrics struct {
	Jobs          int          `json:"jobs"`
	TotalRows     int          `json:"total_rows"`
	ErrorRows     int          `json:"error_rows"`
	ErrorRate     float64      `json:"error_rate"`
	RowsPerSecond float64      `json:"rows_per_second"`
	PerJob        []JobMetrics `json:"per_job"`
}

// JobMetricsFrom derives throughput figures from a job record.
func JobMetricsFrom(job models.ImportJob) JobMetrics {
	m := JobMetrics{
		JobID:         job.ID,
		EntityType:    job.EntityType,
		Status:        job.Status,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		SuccessRows:   job.SuccessRows,
		ErrorRows:     job.ErrorRows,
	}
	if !job.StartedAt.IsZero() {
		end := time.Now().UTC()
		if job.CompletedAt != nil {
			end = *job.CompletedAt
		}
		elapsed := end.Sub(job.StartedAt)
		m.DurationMs = elapsed.Milliseconds()
		if secs := elapsed.Seconds(); secs > 0 {
			m.RowsPerSecond = float64(job.ProcessedRows) / secs
		}
	}
	if job.ProcessedRows > 0 {
		m.ErrorRate = float64(job.ErrorRows) / float64(job.ProcessedRows)
	}
	return m
}

// JobMetrics reads one job and derives its throughput figures.
func JobMetricsFor(ctx context.Context, src JobSource, jobID string) (JobMetrics, error) {
	job, err := src.GetJob(ctx, jobID)
	if err != nil {
		return JobMetrics{}, err
	}
	return JobMetricsFrom(job), nil
}

// AllMetrics aggregates the most recent jobs across tenants.
func AllMetrics(ctx context.Context, src JobSource, limit int) (AggregateMetrics, error) {
	if limit <= 0 {
		limit = 50
	}
	jobs, err := src.ListRecentJobs(ctx, "", limit)
	if err != nil {
		return AggregateMetrics{}, err
	}
	agg := AggregateMetrics{Jobs: len(jobs), PerJob: make([]JobMetrics, 0, len(jobs))}
	var processed int
	var rateSum float64
	var rated int
	for _, job := range jobs {
		m := JobMetricsFrom(job)
		agg.PerJob = append(agg.PerJob, m)
		agg.TotalRows += m.TotalRows
		agg.ErrorRows += m.ErrorRows
		processed += m.ProcessedRows
		if m.RowsPerSecond > 0 {
			rateSum += m.RowsPerSecond
			rated++
		}
	}
	if processed > 0 {
		agg.ErrorRate = float64(agg.ErrorRows) / float64(processed)
	}
	if rated > 0 {
		agg.RowsPerSecond = rateSum / float64(rated)
	}
	return agg, nil
}
