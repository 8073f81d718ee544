package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/auth"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
)

type createProjectRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

func (api *pipelineAPI) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		api.writeError(w, r, http.StatusBadRequest, "title_required")
		return
	}

	now := time.Now().UTC()
	project := domain.Project{
		ID:          uuid.NewString(),
		OwnerID:     identity.Subject,
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Metadata:    domain.Metadata(req.Metadata).Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := api.projects.Create(r.Context(), project); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, projectResponse(project))
}

func (api *pipelineAPI) handleListProjects(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := clampInt(parseIntQuery(r, "limit", 50), 1, 200)
	projects, err := api.projects.List(r.Context(), repo.ProjectFilter{
		OwnerID: identity.Subject,
		Limit:   limit,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		out = append(out, projectResponse(project))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (api *pipelineAPI) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := api.projects.Get(r.Context(), r.PathValue("project_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, projectResponse(project))
}
