package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/generate"
	"github.com/draftforge-labs/draftforge-go/internal/platform/auth"
	"github.com/draftforge-labs/draftforge-go/internal/platform/entitlement"
	"github.com/draftforge-labs/draftforge-go/internal/render"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
	"github.com/draftforge-labs/draftforge-go/internal/service/pipeline"
)

type memStepRepo struct {
	records map[string]domain.StepRecord
}

func (r *memStepRepo) Create(_ context.Context, record domain.StepRecord) error {
	for _, stored := range r.records {
		if stored.ProjectID == record.ProjectID && stored.Stage == record.Stage && stored.Status == domain.StepStatusRetry {
			return repo.ErrConflict
		}
	}
	r.records[record.ID] = record
	return nil
}

func (r *memStepRepo) Get(_ context.Context, projectID, id string) (domain.StepRecord, error) {
	record, ok := r.records[id]
	if !ok || record.ProjectID != projectID {
		return domain.StepRecord{}, repo.ErrNotFound
	}
	return record, nil
}

func (r *memStepRepo) GetActive(_ context.Context, projectID string, stage domain.StageType) (domain.StepRecord, error) {
	for _, record := range r.records {
		if record.ProjectID == projectID && record.Stage == stage && record.Status == domain.StepStatusRetry {
			return record, nil
		}
	}
	return domain.StepRecord{}, repo.ErrNotFound
}

func (r *memStepRepo) GetLatest(_ context.Context, projectID string, stage domain.StageType) (domain.StepRecord, error) {
	matches := make([]domain.StepRecord, 0)
	for _, record := range r.records {
		if record.ProjectID == projectID && record.Stage == stage {
			matches = append(matches, record)
		}
	}
	if len(matches) == 0 {
		return domain.StepRecord{}, repo.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return matches[0], nil
}

func (r *memStepRepo) List(_ context.Context, filter repo.StepRecordFilter) ([]domain.StepRecord, error) {
	out := make([]domain.StepRecord, 0)
	for _, record := range r.records {
		if record.ProjectID == filter.ProjectID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memStepRepo) Update(_ context.Context, record domain.StepRecord) (domain.StepRecord, error) {
	stored, ok := r.records[record.ID]
	if !ok {
		return domain.StepRecord{}, repo.ErrNotFound
	}
	if stored.Status.Terminal() {
		return domain.StepRecord{}, repo.ErrTerminal
	}
	if !stored.UpdatedAt.Equal(record.UpdatedAt) {
		return domain.StepRecord{}, repo.ErrConflict
	}
	record.UpdatedAt = stored.UpdatedAt.Add(time.Microsecond)
	r.records[record.ID] = record
	return record, nil
}

type memProjectRepo struct {
	projects map[string]domain.Project
}

func (r *memProjectRepo) Create(_ context.Context, project domain.Project) error {
	if _, ok := r.projects[project.ID]; ok {
		return repo.ErrConflict
	}
	r.projects[project.ID] = project
	return nil
}

func (r *memProjectRepo) Get(_ context.Context, id string) (domain.Project, error) {
	project, ok := r.projects[id]
	if !ok {
		return domain.Project{}, repo.ErrNotFound
	}
	return project, nil
}

func (r *memProjectRepo) List(_ context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	out := make([]domain.Project, 0)
	for _, project := range r.projects {
		if filter.OwnerID == "" || project.OwnerID == filter.OwnerID {
			out = append(out, project)
		}
	}
	return out, nil
}

type memJobRepo struct {
	jobs map[string]domain.RenderJob
}

func (r *memJobRepo) Create(_ context.Context, job domain.RenderJob) error {
	if _, ok := r.jobs[job.ID]; ok {
		return repo.ErrConflict
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *memJobRepo) Get(_ context.Context, id string) (domain.RenderJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return domain.RenderJob{}, repo.ErrNotFound
	}
	return job, nil
}

func (r *memJobRepo) List(_ context.Context, filter repo.RenderJobFilter) ([]domain.RenderJob, error) {
	out := make([]domain.RenderJob, 0)
	for _, job := range r.jobs {
		if job.ProjectID == filter.ProjectID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (r *memJobRepo) Update(_ context.Context, job domain.RenderJob) error {
	stored, ok := r.jobs[job.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if stored.Status.Terminal() {
		return repo.ErrTerminal
	}
	r.jobs[job.ID] = job
	return nil
}

type stubBackend struct {
	observations []render.Observation
	errs         []error
	calls        int
}

func (b *stubBackend) Submit(context.Context, render.Spec) (string, error) {
	return "render-test", nil
}

func (b *stubBackend) Inspect(context.Context, string) (render.Observation, error) {
	i := b.calls
	b.calls++
	var err error
	if i < len(b.errs) {
		err = b.errs[i]
	}
	var obs render.Observation
	if i < len(b.observations) {
		obs = b.observations[i]
	}
	return obs, err
}

type apiFixture struct {
	api     *pipelineAPI
	mux     *http.ServeMux
	steps   *memStepRepo
	jobs    *memJobRepo
	backend *stubBackend
}

func newAPIFixture(t *testing.T, tiers map[string]entitlement.Tier) *apiFixture {
	t.Helper()
	logger := slog.Default()

	gate, err := entitlement.NewGate(entitlement.StaticSource{
		Tiers:   tiers,
		Default: entitlement.TierFree,
	}, entitlement.DefaultMatrix(), logger)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	steps := &memStepRepo{records: make(map[string]domain.StepRecord)}
	projects := &memProjectRepo{projects: map[string]domain.Project{
		"proj-1": {ID: "proj-1", OwnerID: "u-1", Title: "Launch video", CreatedAt: time.Now().UTC()},
	}}

	capability := generate.CapabilityFunc(func(_ context.Context, req generate.Request) (domain.Metadata, error) {
		return domain.Metadata{"content": "generated for " + string(req.Stage)}, nil
	})

	service, err := pipeline.New(steps, projects, gate, capability, pipeline.Config{
		MaxAttempts:       3,
		CapabilityTimeout: time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	jobs := &memJobRepo{jobs: make(map[string]domain.RenderJob)}
	backend := &stubBackend{}
	tracker, err := render.NewTracker(jobs, backend, render.TrackerConfig{
		PollTimeout: time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	api := newPipelineAPI(logger, projects, service, tracker, gate, "s3://stage-outputs")
	mux := http.NewServeMux()
	api.register(mux)
	return &apiFixture{api: api, mux: mux, steps: steps, jobs: jobs, backend: backend}
}

func doRequest(f *apiFixture, method, path, subject, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if subject != "" {
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), auth.Identity{Subject: subject}))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestExecuteStageHandler(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := doRequest(f, http.MethodPost, "/projects/proj-1/stages/plan/execute", "u-1",
		`{"input":{"topic":"home espresso"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "success" || body["stage"] != "plan" {
		t.Fatalf("body = %v", body)
	}
	input, _ := body["input"].(map[string]any)
	if input["topic"] != "home espresso" {
		t.Fatalf("input = %v", body["input"])
	}
}

func TestExecuteStageHandlerValidation(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := doRequest(f, http.MethodPost, "/projects/proj-1/stages/polish/execute", "u-1", `{"input":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown stage status = %d", rec.Code)
	}

	rec = doRequest(f, http.MethodPost, "/projects/proj-1/stages/plan/execute", "u-1", `{"input":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing topic status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "missing_input_field" || body["field"] != "topic" {
		t.Fatalf("body = %v", body)
	}

	rec = doRequest(f, http.MethodPost, "/projects/proj-1/stages/plan/execute", "",
		`{"input":{"topic":"x"}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
}

func TestExecuteStageHandlerUpgradeRequired(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := doRequest(f, http.MethodPost, "/projects/proj-1/stages/quality/execute", "u-1", `{"input":{}}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["error"] != "upgrade_required" || body["upgrade_tier"] != "personal" {
		t.Fatalf("body = %v", body)
	}
}

func TestExecuteStageHandlerStageOrder(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := doRequest(f, http.MethodPost, "/projects/proj-1/stages/draft/execute", "u-1", `{"input":{}}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "stage_order_violation" {
		t.Fatalf("body = %v", body)
	}
}

func TestStageHistoryAndLatestHandlers(t *testing.T) {
	f := newAPIFixture(t, nil)
	doRequest(f, http.MethodPost, "/projects/proj-1/stages/plan/execute", "u-1",
		`{"input":{"topic":"home espresso"}}`)

	rec := doRequest(f, http.MethodGet, "/projects/proj-1/stages", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	records, _ := body["records"].([]any)
	if len(records) != 1 {
		t.Fatalf("records = %v", body)
	}

	rec = doRequest(f, http.MethodGet, "/projects/proj-1/stages/plan/latest", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("latest status = %d", rec.Code)
	}

	rec = doRequest(f, http.MethodGet, "/projects/proj-1/stages/draft/latest", "u-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("latest for unexecuted stage status = %d", rec.Code)
	}
}

func TestProjectHandlers(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := doRequest(f, http.MethodPost, "/projects", "u-1", `{"title":"New video"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["owner_id"] != "u-1" {
		t.Fatalf("body = %v", body)
	}

	rec = doRequest(f, http.MethodGet, "/projects/missing", "u-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing status = %d", rec.Code)
	}

	rec = doRequest(f, http.MethodGet, "/projects", "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
}

func TestRenderHandlers(t *testing.T) {
	f := newAPIFixture(t, map[string]entitlement.Tier{"u-1": entitlement.TierPersonal})
	f.backend.observations = []render.Observation{
		{State: "complete", OutputURL: "s3://rendered-media/render-test/output.mp4"},
	}

	// No successful stage yet.
	rec := doRequest(f, http.MethodPost, "/projects/proj-1/render", "u-1", `{"params":{}}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("render without output status = %d", rec.Code)
	}

	doRequest(f, http.MethodPost, "/projects/proj-1/stages/plan/execute", "u-1",
		`{"input":{"topic":"home espresso"}}`)

	rec = doRequest(f, http.MethodPost, "/projects/proj-1/render", "u-1", `{"params":{"format":"short"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("render status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	jobID, _ := body["render_job_id"].(string)
	if jobID == "" || body["status"] != "queued" {
		t.Fatalf("body = %v", body)
	}

	rec = doRequest(f, http.MethodGet, "/render-jobs/"+jobID, "u-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("poll status = %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["status"] != "completed" || body["output_url"] == "" {
		t.Fatalf("body = %v", body)
	}

	rec = doRequest(f, http.MethodGet, "/render-jobs/missing", "u-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}
}

func TestRenderHandlerRequiresPaidPlan(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := doRequest(f, http.MethodPost, "/projects/proj-1/render", "u-1", `{"params":{}}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "upgrade_required" {
		t.Fatalf("body = %v", body)
	}
}

func TestRenderHandlersDisabledBackend(t *testing.T) {
	f := newAPIFixture(t, map[string]entitlement.Tier{"u-1": entitlement.TierPersonal})
	f.api.tracker = nil

	rec := doRequest(f, http.MethodPost, "/projects/proj-1/render", "u-1", `{"params":{}}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "render_backend_disabled" {
		t.Fatalf("body = %v", body)
	}
}

func TestRenderPollBackendUnavailable(t *testing.T) {
	f := newAPIFixture(t, map[string]entitlement.Tier{"u-1": entitlement.TierPersonal})
	f.backend.errs = []error{render.ErrBackendUnavailable}

	doRequest(f, http.MethodPost, "/projects/proj-1/stages/plan/execute", "u-1",
		`{"input":{"topic":"home espresso"}}`)
	rec := doRequest(f, http.MethodPost, "/projects/proj-1/render", "u-1", `{"params":{}}`)
	body := decodeBody(t, rec)
	jobID, _ := body["render_job_id"].(string)

	rec = doRequest(f, http.MethodGet, "/render-jobs/"+jobID, "u-1", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if body["error"] != "render_backend_unavailable" {
		t.Fatalf("body = %v", body)
	}
}
