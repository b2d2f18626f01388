package models

import (
	"time"
)

// JobStatus enumerates the import job lifecycle persisted in Postgres.
// Transitions are one-directional; terminal statuses never change.
type JobStatus string

const (
	JobPending             JobStatus = "pending"
	JobValidating          JobStatus = "validating"
	JobProcessing          JobStatus = "processing"
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed:
		return true
	}
	return false
}

// ItemStatus is the per-row outcome state.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemSuccess ItemStatus = "success"
	ItemError   ItemStatus = "error"
)

// ItemAction records how a row was resolved against the destination store.
type ItemAction string

const (
	ActionCreate ItemAction = "create"
	ActionUpdate ItemAction = "update"
	ActionSkip   ItemAction = "skip"
)

// ImportJob is one bulk-import attempt over a single uploaded file.
type ImportJob struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	SubmitterID   string            `json:"submitter_id"`
	Filename      string            `json:"filename"`
	ContentType   string            `json:"content_type"`
	SizeBytes     int64             `json:"size_bytes"`
	ObjectPath    string            `json:"object_path"`
	EntityType    EntityType        `json:"entity_type"`
	Status        JobStatus         `json:"status"`
	Override      bool              `json:"override"`
	TotalRows     int               `json:"total_rows"`
	ProcessedRows int               `json:"processed_rows"`
	SuccessRows   int               `json:"success_rows"`
	ErrorRows     int               `json:"error_rows"`
	ErrorSummary  map[string]any    `json:"error_summary,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// Summary derives the read-side progress view of a job.
func (j ImportJob) Summary() JobSummary {
	s := JobSummary{
		TotalRows:     j.TotalRows,
		ProcessedRows: j.ProcessedRows,
		SuccessRows:   j.SuccessRows,
		ErrorRows:     j.ErrorRows,
	}
	if j.TotalRows > 0 {
		s.ProgressPercentage = float64(j.ProcessedRows) / float64(j.TotalRows) * 100
	}
	end := time.Now()
	if j.CompletedAt != nil {
		end = *j.CompletedAt
	}
	if !j.StartedAt.IsZero() {
		s.DurationMs = end.Sub(j.StartedAt).Milliseconds()
	}
	return s
}

// JobSummary is the progress snapshot returned by the status API.
type JobSummary struct {
	TotalRows          int     `json:"total_rows"`
	ProcessedRows      int     `json:"processed_rows"`
	SuccessRows        int     `json:"success_rows"`
	ErrorRows          int     `json:"error_rows"`
	ProgressPercentage float64 `json:"progress_percentage"`
	DurationMs         int64   `json:"duration_ms"`
}

// ImportJobItem is the outcome of one source row within a job.
// RowNumber is 1-based and excludes the header row.
type ImportJobItem struct {
	ID           string            `json:"id"`
	JobID        string            `json:"job_id"`
	RowNumber    int               `json:"row_number"`
	EntityType   EntityType        `json:"entity_type"`
	EntityKey    string            `json:"entity_key"`
	EntityID     *string           `json:"entity_id,omitempty"`
	Action       ItemAction        `json:"action,omitempty"`
	Status       ItemStatus        `json:"status"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	Raw          map[string]string `json:"raw,omitempty"`
	ProcessedAt  *time.Time        `json:"processed_at,omitempty"`
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationIssue is one finding from the non-committing validation pass.
// Issues reference rows by number; row 0 means a file-level issue.
type ValidationIssue struct {
	RowNumber  int      `json:"row_number"`
	Field      string   `json:"field,omitempty"`
	Severity   Severity `json:"severity"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Value      string   `json:"value,omitempty"`
	Suggested  string   `json:"suggested_value,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Row is one parsed source row keyed by schema column name.
type Row struct {
	Number int               `json:"row_number"`
	Cells  map[string]string `json:"cells"`
}
