package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bulk-import-pipeline/internal/config"
	"bulk-import-pipeline/internal/models"
	"bulk-import-pipeline/internal/objectstore"
	"bulk-import-pipeline/internal/parse"
	"bulk-import-pipeline/internal/store"
	"bulk-import-pipeline/internal/validate"
)

type fakeAPIStore struct {
	jobs       map[string]models.ImportJob
	created    []store.CreateJobParams
	idempotent bool
	items      []models.ImportJobItem
	cancelled  map[string]string
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		jobs:      make(map[string]models.ImportJob),
		cancelled: make(map[string]string),
	}
}

func (f *fakeAPIStore) CreateJob(_ context.Context, p store.CreateJobParams) (models.ImportJob, bool, error) {
	f.created = append(f.created, p)
	job := models.ImportJob{
		ID:         "job-new",
		TenantID:   p.TenantID,
		EntityType: p.EntityType,
		Status:     models.JobPending,
		Override:   p.Override,
	}
	f.jobs[job.ID] = job
	return job, f.idempotent, nil
}

func (f *fakeAPIStore) GetJob(_ context.Context, id string) (models.ImportJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return models.ImportJob{}, store.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeAPIStore) ListItems(_ context.Context, jobID string, _ store.ItemFilter) ([]models.ImportJobItem, int, error) {
	if _, ok := f.jobs[jobID]; !ok {
		return nil, 0, store.ErrJobNotFound
	}
	return f.items, len(f.items), nil
}

func (f *fakeAPIStore) ListRecentJobs(_ context.Context, tenantID string, _ int) ([]models.ImportJob, error) {
	var out []models.ImportJob
	for _, j := range f.jobs {
		if tenantID == "" || j.TenantID == tenantID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeAPIStore) MarkFailed(_ context.Context, id, reason string) error {
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return store.ErrStaleTransition
	}
	f.cancelled[id] = reason
	return nil
}

func (f *fakeAPIStore) AppendAudit(context.Context, string, string, string) error { return nil }

type fakeEnqueuer struct {
	enqueued []string
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

type fakeFileStore struct {
	objects map[string][]byte
}

func (f fakeFileStore) PresignUpload(_ context.Context, tenantID, filename, contentType string) (objectstore.SignedUpload, error) {
	return objectstore.SignedUpload{
		UploadURL:  "https://uploads.example.com/" + tenantID + "/" + filename,
		Method:     http.MethodPut,
		Headers:    map[string]string{"Content-Type": contentType},
		ObjectPath: "imports/" + tenantID + "/" + filename,
		ExpiresIn:  900,
	}, nil
}

func (f fakeFileStore) Download(_ context.Context, path string) ([]byte, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string) (bool, float64, error) {
	return f.allow, 0, nil
}

type stubRefs struct{}

func (stubRefs) AreaByName(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (stubRefs) InitiativeByTitle(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (stubRefs) ObjectiveByTitle(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func newTestServer(st *fakeAPIStore, q *fakeEnqueuer, files fakeFileStore, allow bool) *Server {
	cfg := config.Config{
		APIToken:        "secret",
		MaxUploadSizeMB: 25,
		IdempotencyTTL:  time.Hour,
	}
	return New(cfg, st, q, files, validate.New(stubRefs{}, nil), fakeLimiter{allow: allow}, nil)
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-User-Role", "admin")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTemplateDownload(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/import/template?entity_type=areas", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("content type = %q", got)
	}
	if !strings.HasPrefix(rec.Body.String(), "name,description") {
		t.Fatalf("template body = %q", rec.Body.String())
	}
}

func TestTemplateUnknownType(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/import/template?entity_type=widgets", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestEntityTypesListing(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/import/entity-types", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		EntityTypes []map[string]any `json:"entity_types"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.EntityTypes) != 5 {
		t.Fatalf("entity types = %d, want 5", len(resp.EntityTypes))
	}
}

func TestSignedURLRejectsUnsupportedType(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	body := `{"filename":"a.pdf","content_type":"application/pdf","size_bytes":100}`
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/signed-url", body, nil)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSignedURLRejectsOversize(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	body := `{"filename":"a.csv","content_type":"text/csv","size_bytes":104857600}`
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/signed-url", body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSignedURLHappyPath(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	body := `{"filename":"areas.csv","content_type":"text/csv","size_bytes":2048}`
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/signed-url", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var signed objectstore.SignedUpload
	if err := json.Unmarshal(rec.Body.Bytes(), &signed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if signed.ObjectPath != "imports/tenant-1/areas.csv" {
		t.Fatalf("object path = %q", signed.ObjectPath)
	}
}

func TestPreviewReportsIssues(t *testing.T) {
	files := fakeFileStore{objects: map[string][]byte{
		"imports/tenant-1/areas.csv": []byte("name,description\nOperations,Plant\n,missing\n"),
	}}
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, files, true)
	body := `{"object_path":"imports/tenant-1/areas.csv","entity_type":"areas","content_type":"text/csv"}`
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/preview", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp previewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.Valid {
		t.Fatal("expected invalid summary")
	}
	if resp.Summary.TotalRows != 2 || resp.Summary.ErrorCount != 1 {
		t.Fatalf("summary = %+v", resp.Summary)
	}
	if len(resp.Issues) == 0 || resp.Issues[0].Code != "missing_required_field" {
		t.Fatalf("issues = %+v", resp.Issues)
	}
}

func TestPreviewRoleForbidden(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	body := `{"object_path":"x","entity_type":"users","content_type":"text/csv"}`
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/preview", body,
		map[string]string{"X-User-Role": "contributor"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProcessAcceptsAndEnqueues(t *testing.T) {
	st := newFakeAPIStore()
	q := &fakeEnqueuer{}
	s := newTestServer(st, q, fakeFileStore{}, true)
	body := `{"object_path":"imports/tenant-1/a.csv","entity_type":"areas","filename":"a.csv","content_type":"text/csv","size_bytes":100,"override":true}`
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/process", body,
		map[string]string{"Idempotency-Key": "key-1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(st.created) != 1 {
		t.Fatalf("created = %d", len(st.created))
	}
	p := st.created[0]
	if p.IdempotencyKey != "key-1" || !p.Override || p.EntityType != models.EntityAreas {
		t.Fatalf("params = %+v", p)
	}
	if p.Metadata["submitter_role"] != "admin" {
		t.Fatalf("metadata = %v", p.Metadata)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != "job-new" {
		t.Fatalf("enqueued = %v", q.enqueued)
	}
}

func TestProcessIdempotentReplaySkipsEnqueue(t *testing.T) {
	st := newFakeAPIStore()
	st.idempotent = true
	q := &fakeEnqueuer{}
	s := newTestServer(st, q, fakeFileStore{}, true)
	body := `{"object_path":"imports/tenant-1/a.csv","entity_type":"areas","content_type":"text/csv"}`
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/process", body,
		map[string]string{"Idempotency-Key": "key-1"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(q.enqueued) != 0 {
		t.Fatal("idempotent replay must not enqueue again")
	}
	var resp processResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Idempotent {
		t.Fatal("response should flag idempotent reuse")
	}
}

func TestProcessRateLimited(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, false)
	body := `{"object_path":"p","entity_type":"areas","content_type":"text/csv"}`
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/process", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/import/jobs/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetJobSummary(t *testing.T) {
	st := newFakeAPIStore()
	st.jobs["job-1"] = models.ImportJob{
		ID:            "job-1",
		TenantID:      "tenant-1",
		Status:        models.JobProcessing,
		TotalRows:     10,
		ProcessedRows: 5,
		SuccessRows:   4,
		ErrorRows:     1,
	}
	s := newTestServer(st, &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/import/jobs/job-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Summary models.JobSummary `json:"summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary.ProgressPercentage != 50 {
		t.Fatalf("progress = %v", resp.Summary.ProgressPercentage)
	}
}

func TestListItemsGrouped(t *testing.T) {
	st := newFakeAPIStore()
	st.jobs["job-1"] = models.ImportJob{ID: "job-1", TenantID: "tenant-1"}
	st.items = []models.ImportJobItem{
		{JobID: "job-1", RowNumber: 1, EntityType: models.EntityAreas, Status: models.ItemSuccess},
		{JobID: "job-1", RowNumber: 2, EntityType: models.EntityAreas, Status: models.ItemError},
	}
	s := newTestServer(st, &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/import/jobs/job-1/items?status=error", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Items map[string][]models.ImportJobItem `json:"items"`
		Total int                               `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Items["areas"]) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	st := newFakeAPIStore()
	st.jobs["job-1"] = models.ImportJob{ID: "job-1", TenantID: "tenant-1", Status: models.JobCompleted}
	s := newTestServer(st, &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/jobs/job-1/cancel", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCancelUnknownJobNotFound(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/jobs/gone/cancel", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestJobsHiddenAcrossTenants(t *testing.T) {
	st := newFakeAPIStore()
	st.jobs["job-other"] = models.ImportJob{ID: "job-other", TenantID: "tenant-2", Status: models.JobProcessing}
	s := newTestServer(st, &fakeEnqueuer{}, fakeFileStore{}, true)

	paths := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/import/jobs/job-other", ""},
		{http.MethodGet, "/import/jobs/job-other/items", ""},
		{http.MethodPost, "/import/jobs/job-other/cancel", ""},
		{http.MethodPost, "/import/export-error-report", `{"job_id":"job-other"}`},
	}
	for _, p := range paths {
		rec := doJSON(t, s.Router(), p.method, p.path, p.body, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status = %d, want 404", p.method, p.path, rec.Code)
		}
	}
	if len(st.cancelled) != 0 {
		t.Fatal("another tenant's job must not be cancellable")
	}
}

func TestHealthAnonymousIsStatusOnly(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	req := httptest.NewRequest(http.MethodGet, "/import/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["checks"]; ok {
		t.Fatal("anonymous health must not expose check details")
	}
}

func TestHealthAuthorizedIncludesDetail(t *testing.T) {
	st := newFakeAPIStore()
	s := newTestServer(st, &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/import/health", "",
		map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["checks"]; !ok {
		t.Fatal("authorized health should expose check details")
	}
	if _, ok := resp["metrics"]; !ok {
		t.Fatal("authorized health should expose job metrics")
	}
}

func TestHealthRawTokenStaysAnonymous(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodGet, "/import/health", "",
		map[string]string{"Authorization": "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["checks"]; ok {
		t.Fatal("a token without the Bearer scheme must not authorize")
	}
}

func TestErrorReportUnknownJobNotFound(t *testing.T) {
	s := newTestServer(newFakeAPIStore(), &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/export-error-report", `{"job_id":"gone"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestErrorReportFromJobItems(t *testing.T) {
	st := newFakeAPIStore()
	st.jobs["job-1"] = models.ImportJob{ID: "job-1", TenantID: "tenant-1"}
	msg := "name: required value missing"
	st.items = []models.ImportJobItem{
		{JobID: "job-1", RowNumber: 3, EntityType: models.EntityAreas, Status: models.ItemError, ErrorMessage: &msg},
	}
	s := newTestServer(st, &fakeEnqueuer{}, fakeFileStore{}, true)
	rec := doJSON(t, s.Router(), http.MethodPost, "/import/export-error-report", `{"job_id":"job-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Fatalf("content type = %q", ct)
	}
	if !parse.SupportedContentType(parse.ContentTypeXLSX) {
		t.Fatal("xlsx must stay a supported type")
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty workbook body")
	}
}
