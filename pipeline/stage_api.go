package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/auth"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
	"github.com/draftforge-labs/draftforge-go/internal/service/pipeline"
)

// stageSpec describes the request surface of one stage: the input fields
// the handler requires, and whether the stage declares a "previous stage
// must have succeeded" precondition. Ordering lives here, per stage, so
// the orchestrator stays stage-agnostic.
type stageSpec struct {
	required []string
	ordered  bool
}

var stageSpecs = map[domain.StageType]stageSpec{
	domain.StagePlan:      {required: []string{"topic"}},
	domain.StageStructure: {ordered: true},
	domain.StageDraft:     {ordered: true},
	domain.StageQuality:   {ordered: true},
	domain.StagePlatform:  {required: []string{"platform"}, ordered: true},
}

type executeStageRequest struct {
	Input map[string]any `json:"input"`
}

func (api *pipelineAPI) handleExecuteStage(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		api.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	stage := domain.NormalizeStageType(r.PathValue("stage_type"))
	if !stage.Valid() {
		api.writeError(w, r, http.StatusBadRequest, "unknown_stage")
		return
	}

	var req executeStageRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	spec := stageSpecs[stage]
	for _, field := range spec.required {
		if v, _ := req.Input[field].(string); strings.TrimSpace(v) == "" {
			api.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "missing_input_field",
				"field":      field,
				"request_id": r.Header.Get("X-Request-Id"),
			})
			return
		}
	}

	var prior domain.Metadata
	if spec.ordered {
		var err error
		prior, err = api.priorStageOutput(r.Context(), r.PathValue("project_id"), stage)
		if err != nil {
			api.writeServiceError(w, r, err)
			return
		}
	}

	record, err := api.service.ExecuteStage(r.Context(), pipeline.ExecuteRequest{
		ProjectID: r.PathValue("project_id"),
		Stage:     stage,
		Input:     domain.Metadata(req.Input).Clone(),
		Prior:     prior,
		Actor:     identity.Subject,
		RequestID: r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, stepRecordResponse(record))
}

// priorStageOutput enforces the declared stage-order precondition: the
// preceding stage's latest record must be a success. Its output feeds the
// next stage's capability.
func (api *pipelineAPI) priorStageOutput(ctx context.Context, projectID string, stage domain.StageType) (domain.Metadata, error) {
	preceding, ok := stage.Preceding()
	if !ok {
		return nil, nil
	}
	latest, err := api.service.Latest(ctx, projectID, preceding)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, &pipeline.PreconditionError{
			Code:    pipeline.PreconditionStageOrder,
			Message: fmt.Sprintf("stage %s requires a successful %s stage", stage, preceding),
		}
	}
	if err != nil {
		return nil, err
	}
	if latest.Status != domain.StepStatusSuccess {
		return nil, &pipeline.PreconditionError{
			Code:    pipeline.PreconditionStageOrder,
			Message: fmt.Sprintf("stage %s requires a successful %s stage, found %s", stage, preceding, latest.Status),
		}
	}
	return latest.Output.Clone(), nil
}

func (api *pipelineAPI) handleStageHistory(w http.ResponseWriter, r *http.Request) {
	stage := domain.StageType("")
	if raw := strings.TrimSpace(r.URL.Query().Get("stage")); raw != "" {
		stage = domain.NormalizeStageType(raw)
		if !stage.Valid() {
			api.writeError(w, r, http.StatusBadRequest, "unknown_stage")
			return
		}
	}

	limit := clampInt(parseIntQuery(r, "limit", 50), 1, 200)
	records, err := api.service.History(r.Context(), r.PathValue("project_id"), stage, limit)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		out = append(out, stepRecordResponse(record))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

func (api *pipelineAPI) handleLatestStage(w http.ResponseWriter, r *http.Request) {
	stage := domain.NormalizeStageType(r.PathValue("stage_type"))
	if !stage.Valid() {
		api.writeError(w, r, http.StatusBadRequest, "unknown_stage")
		return
	}

	record, err := api.service.Latest(r.Context(), r.PathValue("project_id"), stage)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "no_record_for_stage")
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, stepRecordResponse(record))
}
