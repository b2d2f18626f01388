package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bulk-import-pipeline/internal/config"
	"bulk-import-pipeline/internal/health"
	"bulk-import-pipeline/internal/models"
	"bulk-import-pipeline/internal/objectstore"
	"bulk-import-pipeline/internal/parse"
	"bulk-import-pipeline/internal/report"
	"bulk-import-pipeline/internal/schema"
	"bulk-import-pipeline/internal/store"
	"bulk-import-pipeline/internal/telemetry"
	"bulk-import-pipeline/internal/validate"
)

const previewRowLimit = 20

// JobStore is the slice of the job & item store the API reads and writes.
type JobStore interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.ImportJob, bool, error)
	GetJob(ctx context.Context, id string) (models.ImportJob, error)
	ListItems(ctx context.Context, jobID string, f store.ItemFilter) ([]models.ImportJobItem, int, error)
	ListRecentJobs(ctx context.Context, tenantID string, limit int) ([]models.ImportJob, error)
	MarkFailed(ctx context.Context, id, reason string) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// Enqueuer hands accepted jobs to the dispatch queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// FileStore signs uploads and fetches uploaded payloads.
type FileStore interface {
	PresignUpload(ctx context.Context, tenantID, filename, contentType string) (objectstore.SignedUpload, error)
	Download(ctx context.Context, objectPath string) ([]byte, error)
}

// Limiter is the per-tenant submission throttle.
type Limiter interface {
	Allow(ctx context.Context, tenantID string) (bool, float64, error)
}

// Validator runs the preview pass over an uploaded payload.
type Validator interface {
	Validate(ctx context.Context, caller validate.Caller, entityType models.EntityType, data []byte, contentType string) (*validate.Result, error)
}

// Server wires HTTP handlers for the import API.
type Server struct {
	cfg     config.Config
	store   JobStore
	queue   Enqueuer
	files   FileStore
	engine  Validator
	limiter Limiter
	monitor *health.Monitor
}

// New constructs the API server. limiter and monitor may be nil.
func New(cfg config.Config, st JobStore, q Enqueuer, files FileStore, engine Validator, limiter Limiter, monitor *health.Monitor) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		files:   files,
		engine:  engine,
		limiter: limiter,
		monitor: monitor,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/import", func(r chi.Router) {
		r.Get("/entity-types", s.handleEntityTypes)
		r.Get("/template", s.handleTemplate)
		r.Get("/health", s.handleHealth)
		r.Post("/signed-url", s.handleSignedURL)
		r.Get("/preview", s.handlePreview)
		r.Post("/preview", s.handlePreview)
		r.Post("/process", s.handleProcess)
		r.Post("/export-error-report", s.handleErrorReport)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/items", s.handleListItems)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
	})
	return r
}

func callerFromRequest(r *http.Request) validate.Caller {
	c := validate.Caller{
		TenantID: r.Header.Get("X-Tenant-ID"),
		UserID:   r.Header.Get("X-User-ID"),
		Role:     strings.ToLower(r.Header.Get("X-User-Role")),
	}
	if c.TenantID == "" {
		c.TenantID = "default"
	}
	return c
}

func (s *Server) allowTenant(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func entityTypeParam(v string) (models.EntityType, error) {
	et := models.EntityType(strings.ToLower(strings.TrimSpace(v)))
	if _, err := schema.SchemaFor(et); err != nil {
		return "", err
	}
	return et, nil
}

// handleEntityTypes lists the importable entity types with their column
// specs, for upload UIs.
func (s *Server) handleEntityTypes(w http.ResponseWriter, _ *http.Request) {
	types := schema.AvailableEntityTypes()
	out := make([]map[string]any, 0, len(types))
	for _, et := range types {
		sch, err := schema.SchemaFor(et)
		if err != nil {
			continue
		}
		cols := make([]map[string]any, 0, len(sch.Columns))
		for _, c := range sch.Columns {
			col := map[string]any{
				"name":     c.Name,
				"type":     c.Type.String(),
				"required": c.Required,
			}
			if len(c.Enum) > 0 {
				col["allowed_values"] = c.Enum
			}
			if c.Example != "" {
				col["example"] = c.Example
			}
			cols = append(cols, col)
		}
		out = append(out, map[string]any{
			"entity_type": et,
			"columns":     cols,
			"key_columns": sch.KeyColumns,
			"roles":       sch.Roles,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity_types": out})
}

// handleTemplate serves a header-only CSV for the requested entity type.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	et, err := entityTypeParam(r.URL.Query().Get("entity_type"))
	if err != nil {
		http.Error(w, "unknown entity_type", http.StatusBadRequest)
		return
	}
	data, err := schema.Template(et)
	if err != nil {
		http.Error(w, "template generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_template.csv", et))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type signedURLRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	var req signedURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Filename == "" {
		http.Error(w, "filename is required", http.StatusBadRequest)
		return
	}
	if !parse.SupportedContentType(req.ContentType) {
		http.Error(w, "content_type must be csv or xlsx", http.StatusUnsupportedMediaType)
		return
	}
	if limit := int64(s.cfg.MaxUploadSizeMB) << 20; req.SizeBytes > limit {
		http.Error(w, fmt.Sprintf("file exceeds %dMB limit", s.cfg.MaxUploadSizeMB), http.StatusRequestEntityTooLarge)
		return
	}
	caller := callerFromRequest(r)
	if !s.allowTenant(w, r, caller.TenantID) {
		return
	}
	signed, err := s.files.PresignUpload(r.Context(), caller.TenantID, req.Filename, req.ContentType)
	if err != nil {
		http.Error(w, "signing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_url":         signed.UploadURL,
		"method":             signed.Method,
		"headers":            signed.Headers,
		"object_path":        signed.ObjectPath,
		"expires_in_seconds": signed.ExpiresIn,
		"max_size_mb":        s.cfg.MaxUploadSizeMB,
	})
}

type previewRequest struct {
	ObjectPath  string `json:"object_path"`
	EntityType  string `json:"entity_type"`
	ContentType string `json:"content_type"`
}

type previewResponse struct {
	EntityType models.EntityType        `json:"entity_type"`
	Summary    validate.Summary         `json:"summary"`
	Issues     []models.ValidationIssue `json:"issues"`
	SampleRows []models.Row             `json:"sample_rows"`
}

// handlePreview validates an uploaded file without writing anything. The
// same payload previews to the same issue set every time.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req = previewRequest{
			ObjectPath:  q.Get("object_path"),
			EntityType:  q.Get("entity_type"),
			ContentType: q.Get("content_type"),
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	et, err := entityTypeParam(req.EntityType)
	if err != nil {
		http.Error(w, "unknown entity_type", http.StatusBadRequest)
		return
	}
	caller := callerFromRequest(r)
	if !schema.RoleAllowed(et, caller.Role) {
		http.Error(w, "role not permitted for this entity type", http.StatusForbidden)
		return
	}
	if req.ObjectPath == "" {
		http.Error(w, "object_path is required", http.StatusBadRequest)
		return
	}
	data, err := s.files.Download(r.Context(), req.ObjectPath)
	if err != nil {
		http.Error(w, "uploaded file not found", http.StatusNotFound)
		return
	}
	res, err := s.engine.Validate(r.Context(), caller, et, data, req.ContentType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	sample := res.Rows
	if len(sample) > previewRowLimit {
		sample = sample[:previewRowLimit]
	}
	writeJSON(w, http.StatusOK, previewResponse{
		EntityType: et,
		Summary:    res.Summary,
		Issues:     res.Issues,
		SampleRows: sample,
	})
}

type processRequest struct {
	ObjectPath  string `json:"object_path"`
	EntityType  string `json:"entity_type"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Override    bool   `json:"override"`
}

type processResponse struct {
	Job        models.JobSummary `json:"job"`
	Idempotent bool              `json:"idempotent"`
}

// handleProcess accepts an uploaded file for asynchronous import.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	et, err := entityTypeParam(req.EntityType)
	if err != nil {
		http.Error(w, "unknown entity_type", http.StatusBadRequest)
		return
	}
	if req.ObjectPath == "" {
		http.Error(w, "object_path is required", http.StatusBadRequest)
		return
	}
	if !parse.SupportedContentType(req.ContentType) {
		http.Error(w, "content_type must be csv or xlsx", http.StatusUnsupportedMediaType)
		return
	}
	caller := callerFromRequest(r)
	if !schema.RoleAllowed(et, caller.Role) {
		http.Error(w, "role not permitted for this entity type", http.StatusForbidden)
		return
	}
	if !s.allowTenant(w, r, caller.TenantID) {
		return
	}

	job, idempotent, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		TenantID:       caller.TenantID,
		SubmitterID:    caller.UserID,
		Filename:       req.Filename,
		ContentType:    req.ContentType,
		SizeBytes:      req.SizeBytes,
		ObjectPath:     req.ObjectPath,
		EntityType:     et,
		Override:       req.Override,
		Metadata:       map[string]string{"submitter_role": caller.Role},
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		IdempotencyTTL: s.cfg.IdempotencyTTL,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !idempotent {
		if err := s.queue.Enqueue(r.Context(), job.ID); err != nil {
			_ = s.store.MarkFailed(r.Context(), job.ID, "dispatch enqueue failed")
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		_ = s.store.AppendAudit(r.Context(), job.ID, "accepted",
			fmt.Sprintf("tenant=%s entity_type=%s override=%t", caller.TenantID, et, req.Override))
		telemetry.JobsStarted.Inc()
	}

	writeJSON(w, http.StatusAccepted, processResponse{Job: job.Summary(), Idempotent: idempotent})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	jobs, err := s.store.ListRecentJobs(r.Context(), caller.TenantID, limit)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	out := make([]models.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// jobForCaller fetches a job and hides jobs owned by other tenants; a
// cross-tenant id reads the same as a missing one. On failure it writes
// the error response and returns ok=false.
func (s *Server) jobForCaller(w http.ResponseWriter, r *http.Request, id string) (models.ImportJob, bool) {
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
		} else {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
		}
		return models.ImportJob{}, false
	}
	if job.TenantID != callerFromRequest(r).TenantID {
		http.Error(w, "job not found", http.StatusNotFound)
		return models.ImportJob{}, false
	}
	return job, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.jobForCaller(w, r, id)
	if !ok {
		return
	}
	items, _, err := s.store.ListItems(r.Context(), id, store.ItemFilter{Limit: 100})
	if err != nil {
		http.Error(w, "list items failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":     job,
		"summary": job.Summary(),
		"items":   items,
	})
}

// handleListItems pages through row outcomes, filterable by status.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.jobForCaller(w, r, id); !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	filter := store.ItemFilter{
		Status:     models.ItemStatus(q.Get("status")),
		EntityType: models.EntityType(q.Get("entity_type")),
		Page:       page,
		Limit:      limit,
	}
	items, total, err := s.store.ListItems(r.Context(), id, filter)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	grouped := make(map[models.EntityType][]models.ImportJobItem)
	for _, it := range items {
		grouped[it.EntityType] = append(grouped[it.EntityType], it)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": grouped,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.jobForCaller(w, r, id); !ok {
		return
	}
	if err := s.store.MarkFailed(r.Context(), id, "cancelled by operator"); err != nil {
		if errors.Is(err, store.ErrJobNotFound) || errors.Is(err, store.ErrStaleTransition) {
			http.Error(w, "job not found or already finished", http.StatusConflict)
			return
		}
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	_ = s.store.AppendAudit(r.Context(), id, "cancelled", "cancel requested via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.JobFailed)})
}

type errorReportRequest struct {
	JobID    string                   `json:"job_id"`
	Filename string                   `json:"filename"`
	Issues   []models.ValidationIssue `json:"issues"`
}

// handleErrorReport renders an XLSX error report, either from a finished
// job's error items or from an inline preview issue list.
func (s *Server) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	var req errorReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	issues := req.Issues
	filename := "import_errors.xlsx"
	if req.JobID != "" {
		if _, ok := s.jobForCaller(w, r, req.JobID); !ok {
			return
		}
		items, _, err := s.store.ListItems(r.Context(), req.JobID, store.ItemFilter{
			Status: models.ItemError,
			Limit:  500,
		})
		if err != nil {
			http.Error(w, "list items failed", http.StatusInternalServerError)
			return
		}
		issues = append(issues, report.IssuesFromItems(items)...)
		filename = fmt.Sprintf("import_errors_%s.xlsx", req.JobID)
	}
	if req.Filename != "" {
		filename = req.Filename
	}
	data, err := report.Bytes(issues)
	if err != nil {
		http.Error(w, "report generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleHealth returns a bare status for anonymous callers and the full
// snapshot plus throughput metrics for bearer-authenticated ones.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := health.Snapshot{Status: health.StatusHealthy, SampledAt: time.Now().UTC()}
	if s.monitor != nil {
		snap = s.monitor.Health(r.Context())
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusOK, map[string]any{"status": snap.Status})
		return
	}
	src, ok := s.store.(health.JobSource)
	resp := map[string]any{
		"status":     snap.Status,
		"checks":     snap.Checks,
		"sampled_at": snap.SampledAt,
	}
	if ok {
		if agg, err := health.AllMetrics(r.Context(), src, 50); err == nil {
			resp["metrics"] = agg
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.APIToken == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	return strings.TrimPrefix(auth, "Bearer ") == s.cfg.APIToken
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
