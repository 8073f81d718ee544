package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/entitlement"
	"github.com/draftforge-labs/draftforge-go/internal/render"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
	"github.com/draftforge-labs/draftforge-go/internal/service/pipeline"
)

type pipelineAPI struct {
	logger   *slog.Logger
	projects repo.ProjectRepository
	service  *pipeline.Service
	tracker  *render.Tracker
	gate     *entitlement.Gate

	// renderSourceBase is where archived stage outputs live, e.g.
	// s3://stage-outputs.
	renderSourceBase string
}

func newPipelineAPI(logger *slog.Logger, projects repo.ProjectRepository, service *pipeline.Service, tracker *render.Tracker, gate *entitlement.Gate, renderSourceBase string) *pipelineAPI {
	return &pipelineAPI{
		logger:           logger,
		projects:         projects,
		service:          service,
		tracker:          tracker,
		gate:             gate,
		renderSourceBase: strings.TrimRight(strings.TrimSpace(renderSourceBase), "/"),
	}
}

func (api *pipelineAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /projects", api.handleCreateProject)
	mux.HandleFunc("GET /projects", api.handleListProjects)
	mux.HandleFunc("GET /projects/{project_id}", api.handleGetProject)

	mux.HandleFunc("POST /projects/{project_id}/stages/{stage_type}/execute", api.handleExecuteStage)
	mux.HandleFunc("GET /projects/{project_id}/stages", api.handleStageHistory)
	mux.HandleFunc("GET /projects/{project_id}/stages/{stage_type}/latest", api.handleLatestStage)

	mux.HandleFunc("POST /projects/{project_id}/render", api.handleStartRender)
	mux.HandleFunc("GET /projects/{project_id}/render-jobs", api.handleListRenderJobs)
	mux.HandleFunc("GET /render-jobs/{job_id}", api.handleGetRenderJob)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *pipelineAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *pipelineAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (api *pipelineAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *pipeline.ValidationError
	var entErr *pipeline.EntitlementError
	var preErr *pipeline.PreconditionError
	switch {
	case errors.As(err, &valErr):
		api.writeError(w, r, http.StatusBadRequest, "invalid_request")
	case errors.As(err, &entErr):
		api.writeJSON(w, http.StatusForbidden, map[string]any{
			"error":         "upgrade_required",
			"request_id":    r.Header.Get("X-Request-Id"),
			"user_tier":     string(entErr.Decision.UserTier),
			"required_tier": string(entErr.Decision.RequiredTier),
			"upgrade_tier":  string(entErr.Decision.UpgradeTier),
		})
	case errors.As(err, &preErr):
		api.writeJSON(w, http.StatusConflict, map[string]any{
			"error":      preErr.Code,
			"message":    preErr.Message,
			"request_id": r.Header.Get("X-Request-Id"),
		})
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, entitlement.ErrSourceUnavailable):
		api.writeError(w, r, http.StatusServiceUnavailable, "entitlement_unavailable")
	case errors.Is(err, render.ErrBackendUnavailable):
		api.writeError(w, r, http.StatusServiceUnavailable, "render_backend_unavailable")
	default:
		api.logger.Error("request failed",
			"path", r.URL.Path,
			"error", err.Error())
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func stepRecordResponse(record domain.StepRecord) map[string]any {
	return map[string]any{
		"step_record_id": record.ID,
		"project_id":     record.ProjectID,
		"stage":          string(record.Stage),
		"status":         string(record.Status),
		"attempts":       record.Attempts,
		"input":          record.Input,
		"output":         record.Output,
		"failure_code":   record.FailureCode,
		"failure_msg":    record.FailureMsg,
		"created_by":     record.CreatedBy,
		"created_at":     formatTime(record.CreatedAt),
		"updated_at":     formatTime(record.UpdatedAt),
	}
}

func renderJobResponse(job domain.RenderJob) map[string]any {
	return map[string]any{
		"render_job_id": job.ID,
		"project_id":    job.ProjectID,
		"status":        string(job.Status),
		"output_url":    job.OutputURL,
		"failure_code":  job.FailureCode,
		"failure_msg":   job.FailureMsg,
		"created_at":    formatTime(job.CreatedAt),
		"updated_at":    formatTime(job.UpdatedAt),
		"completed_at":  formatTimePtr(job.CompletedAt),
	}
}

func projectResponse(project domain.Project) map[string]any {
	return map[string]any{
		"project_id":  project.ID,
		"owner_id":    project.OwnerID,
		"title":       project.Title,
		"description": project.Description,
		"metadata":    project.Metadata,
		"created_at":  formatTime(project.CreatedAt),
		"updated_at":  formatTime(project.UpdatedAt),
	}
}
