package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/auth"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
)

type startRenderRequest struct {
	Params map[string]any `json:"params"`
}

func (api *pipelineAPI) handleStartRender(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if api.tracker == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "render_backend_disabled")
		return
	}

	project, err := api.projects.Get(r.Context(), r.PathValue("project_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	decision, err := api.gate.Authorize(r.Context(), identity.Subject, "render")
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if !decision.Allowed {
		api.writeJSON(w, http.StatusForbidden, map[string]any{
			"error":         "upgrade_required",
			"request_id":    r.Header.Get("X-Request-Id"),
			"user_tier":     string(decision.UserTier),
			"required_tier": string(decision.RequiredTier),
			"upgrade_tier":  string(decision.UpgradeTier),
		})
		return
	}

	var req startRenderRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	sourceURL, sourceStage, err := api.pickRenderSource(r.Context(), project.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeJSON(w, http.StatusConflict, map[string]any{
				"error":      "no_renderable_output",
				"message":    "render requires at least one successful stage",
				"request_id": r.Header.Get("X-Request-Id"),
			})
			return
		}
		api.writeServiceError(w, r, err)
		return
	}

	params := domain.Metadata(req.Params).Clone()
	params["source_stage"] = string(sourceStage)

	job, err := api.tracker.Start(r.Context(), project.ID, identity.Subject, params, sourceURL)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusAccepted, renderJobResponse(job))
}

// pickRenderSource finds the most advanced successful stage and returns the
// archived location of its output.
func (api *pipelineAPI) pickRenderSource(ctx context.Context, projectID string) (string, domain.StageType, error) {
	stages := domain.StageTypes()
	for i := len(stages) - 1; i >= 0; i-- {
		record, err := api.service.Latest(ctx, projectID, stages[i])
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", "", err
		}
		if record.Status != domain.StepStatusSuccess {
			continue
		}
		url := api.renderSourceBase + "/" + projectID + "/" + string(stages[i]) + "/output.json"
		return url, stages[i], nil
	}
	return "", "", repo.ErrNotFound
}

func (api *pipelineAPI) handleListRenderJobs(w http.ResponseWriter, r *http.Request) {
	if api.tracker == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "render_backend_disabled")
		return
	}
	if _, err := api.projects.Get(r.Context(), r.PathValue("project_id")); err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	limit := clampInt(parseIntQuery(r, "limit", 50), 1, 200)
	jobs, err := api.tracker.List(r.Context(), r.PathValue("project_id"), limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, renderJobResponse(job))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"render_jobs": out})
}

func (api *pipelineAPI) handleGetRenderJob(w http.ResponseWriter, r *http.Request) {
	if api.tracker == nil {
		api.writeError(w, r, http.StatusServiceUnavailable, "render_backend_disabled")
		return
	}

	job, err := api.tracker.Poll(r.Context(), r.PathValue("job_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, renderJobResponse(job))
}
