package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/generate"
	"github.com/draftforge-labs/draftforge-go/internal/platform/auditlog"
	"github.com/draftforge-labs/draftforge-go/internal/platform/entitlement"
	"github.com/draftforge-labs/draftforge-go/internal/platform/env"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
)

const (
	createConflictRetries = 3
	updateConflictRetries = 3
)

// Archiver persists a copy of successful stage output outside the database.
// Archival is best effort and never fails an execution.
type Archiver interface {
	ArchiveStageOutput(ctx context.Context, projectID string, stage domain.StageType, output domain.Metadata) error
}

type Service struct {
	records    repo.StepRecordRepository
	projects   repo.ProjectRepository
	gate       *entitlement.Gate
	capability generate.Capability
	auditDB    auditlog.QueryRower
	archiver   Archiver
	logger     *slog.Logger

	maxAttempts       int
	capabilityTimeout time.Duration
}

type Config struct {
	// MaxAttempts bounds the attempt chain of one step record.
	MaxAttempts int

	// CapabilityTimeout bounds one capability invocation.
	CapabilityTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	maxAttempts, err := env.Int("PIPELINE_MAX_ATTEMPTS", 3)
	if err != nil {
		return Config{}, err
	}
	capabilityTimeout, err := env.Duration("PIPELINE_CAPABILITY_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	return Config{
		MaxAttempts:       maxAttempts,
		CapabilityTimeout: capabilityTimeout,
	}, nil
}

func New(records repo.StepRecordRepository, projects repo.ProjectRepository, gate *entitlement.Gate, capability generate.Capability, cfg Config, logger *slog.Logger) (*Service, error) {
	if records == nil {
		return nil, errors.New("step record repository is required")
	}
	if projects == nil {
		return nil, errors.New("project repository is required")
	}
	if gate == nil {
		return nil, errors.New("entitlement gate is required")
	}
	if capability == nil {
		return nil, errors.New("capability is required")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.CapabilityTimeout <= 0 {
		cfg.CapabilityTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records:           records,
		projects:          projects,
		gate:              gate,
		capability:        capability,
		logger:            logger,
		maxAttempts:       cfg.MaxAttempts,
		capabilityTimeout: cfg.CapabilityTimeout,
	}, nil
}

// WithAudit attaches an audit sink for terminal transitions.
func (s *Service) WithAudit(q auditlog.QueryRower) *Service {
	s.auditDB = q
	return s
}

// WithArchiver attaches a stage output archiver.
func (s *Service) WithArchiver(a Archiver) *Service {
	s.archiver = a
	return s
}

// ExecuteRequest is one stage execution attempt on behalf of Actor. Prior
// carries the preceding stage's output when the caller has looked it up;
// the orchestrator itself imposes no ordering between stages.
type ExecuteRequest struct {
	ProjectID string
	Stage     domain.StageType
	Input     domain.Metadata
	Prior     domain.Metadata
	Actor     string
	RequestID string
}

// ExecuteStage runs one attempt of a pipeline stage. Capability failures
// are recorded on the returned record rather than returned as errors; the
// error path is reserved for denials, malformed input, and infrastructure
// faults. Stage ordering is the stage controllers' concern, not enforced
// here.
func (s *Service) ExecuteStage(ctx context.Context, req ExecuteRequest) (domain.StepRecord, error) {
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.Actor = strings.TrimSpace(req.Actor)
	if req.ProjectID == "" {
		return domain.StepRecord{}, validationErrorf("project id is required")
	}
	if !req.Stage.Valid() {
		return domain.StepRecord{}, validationErrorf("unknown stage %q", req.Stage)
	}
	if req.Actor == "" {
		return domain.StepRecord{}, validationErrorf("actor is required")
	}

	project, err := s.projects.Get(ctx, req.ProjectID)
	if err != nil {
		return domain.StepRecord{}, err
	}

	decision, err := s.gate.Authorize(ctx, req.Actor, string(req.Stage))
	if err != nil {
		return domain.StepRecord{}, fmt.Errorf("authorize stage: %w", err)
	}
	if !decision.Allowed {
		return domain.StepRecord{}, &EntitlementError{Decision: decision}
	}

	record, err := s.obtainRecord(ctx, project.ID, req.Stage, req.Actor, req.Input)
	if err != nil {
		return domain.StepRecord{}, err
	}
	output, invokeErr := s.invoke(ctx, generate.Request{
		ProjectID: project.ID,
		Stage:     req.Stage,
		Input:     req.Input.Clone(),
		Prior:     req.Prior.Clone(),
	})

	record.Input = req.Input.Clone()
	if invokeErr == nil {
		record.Status = domain.StepStatusSuccess
		record.Output = output
		record.FailureCode = ""
		record.FailureMsg = ""
	} else {
		failure := generate.FailureOf(invokeErr)
		record.FailureCode = failure.Code
		record.FailureMsg = failure.Message
		if failure.Retryable && record.Attempts < s.maxAttempts {
			record.Status = domain.StepStatusRetry
		} else {
			record.Status = domain.StepStatusFailed
		}
	}

	record, applied, err := s.settleRecord(ctx, project.ID, record)
	if err != nil {
		return domain.StepRecord{}, err
	}
	if !applied {
		// A concurrent execution settled the record first; serve its
		// result without re-announcing it.
		return record, nil
	}

	if record.Status.Terminal() {
		s.emitAudit(ctx, req, record)
	}
	if record.Status == domain.StepStatusSuccess && s.archiver != nil {
		if err := s.archiver.ArchiveStageOutput(ctx, project.ID, record.Stage, record.Output); err != nil {
			s.logger.Warn("stage output archival failed",
				"project_id", project.ID,
				"stage", string(record.Stage),
				"error", err.Error())
		}
	}

	s.logger.Info("stage executed",
		"project_id", project.ID,
		"stage", string(record.Stage),
		"status", string(record.Status),
		"attempts", record.Attempts,
		"failure_code", record.FailureCode)
	return record, nil
}

// History lists a project's step records, newest first.
func (s *Service) History(ctx context.Context, projectID string, stage domain.StageType, limit int) ([]domain.StepRecord, error) {
	if _, err := s.projects.Get(ctx, strings.TrimSpace(projectID)); err != nil {
		return nil, err
	}
	return s.records.List(ctx, repo.StepRecordFilter{
		ProjectID: strings.TrimSpace(projectID),
		Stage:     stage,
		Limit:     limit,
	})
}

// Latest returns the most recent record for a project stage.
func (s *Service) Latest(ctx context.Context, projectID string, stage domain.StageType) (domain.StepRecord, error) {
	if !stage.Valid() {
		return domain.StepRecord{}, validationErrorf("unknown stage %q", stage)
	}
	return s.records.GetLatest(ctx, strings.TrimSpace(projectID), stage)
}

// settleRecord persists the attempt outcome. The store rejects a write
// whose read snapshot is stale; losers of that race reload and either
// serve the winner's terminal result or re-apply their outcome as the
// next sequential attempt. The bool result reports whether our write is
// the one that landed.
func (s *Service) settleRecord(ctx context.Context, projectID string, record domain.StepRecord) (domain.StepRecord, bool, error) {
	for i := 0; ; i++ {
		updated, err := s.records.Update(ctx, record)
		if err == nil {
			return updated, true, nil
		}
		if errors.Is(err, repo.ErrTerminal) {
			settled, getErr := s.records.Get(ctx, projectID, record.ID)
			if getErr != nil {
				return domain.StepRecord{}, false, getErr
			}
			return settled, false, nil
		}
		if !errors.Is(err, repo.ErrConflict) || i >= updateConflictRetries {
			return domain.StepRecord{}, false, fmt.Errorf("update step record: %w", err)
		}

		fresh, getErr := s.records.Get(ctx, projectID, record.ID)
		if getErr != nil {
			return domain.StepRecord{}, false, getErr
		}
		if fresh.Status.Terminal() {
			return fresh, false, nil
		}
		// Queue behind the concurrent writer: our invocation counts as
		// the next attempt on top of its state.
		record.Attempts = fresh.Attempts + 1
		record.UpdatedAt = fresh.UpdatedAt
		if record.Status == domain.StepStatusRetry && record.Attempts >= s.maxAttempts {
			record.Status = domain.StepStatusFailed
		}
	}
}

// obtainRecord reuses the live record for (project, stage), bumping its
// attempt counter, or creates a fresh one. Create conflicts mean a
// concurrent caller won the insert; the loser picks up that record.
func (s *Service) obtainRecord(ctx context.Context, projectID string, stage domain.StageType, actor string, input domain.Metadata) (domain.StepRecord, error) {
	for i := 0; i < createConflictRetries; i++ {
		record, err := s.records.GetActive(ctx, projectID, stage)
		if err == nil {
			record.Attempts++
			if record.Output == nil {
				record.Output = domain.Metadata{}
			}
			return record, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.StepRecord{}, err
		}

		now := time.Now().UTC().Truncate(time.Microsecond)
		record = domain.StepRecord{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Stage:     stage,
			Status:    domain.StepStatusRetry,
			Attempts:  1,
			Input:     input.Clone(),
			Output:    domain.Metadata{},
			CreatedBy: actor,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.records.Create(ctx, record)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return domain.StepRecord{}, fmt.Errorf("create step record: %w", err)
		}
	}
	return domain.StepRecord{}, fmt.Errorf("could not obtain step record for %s/%s after %d tries",
		projectID, stage, createConflictRetries)
}

func (s *Service) invoke(ctx context.Context, req generate.Request) (domain.Metadata, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, s.capabilityTimeout)
	defer cancel()
	output, err := s.capability.Generate(invokeCtx, req)
	if err != nil && errors.Is(invokeCtx.Err(), context.DeadlineExceeded) {
		return nil, generate.Retryable(generate.CodeTimeout, "capability timed out after %s", s.capabilityTimeout)
	}
	return output, err
}

func (s *Service) emitAudit(ctx context.Context, req ExecuteRequest, record domain.StepRecord) {
	if s.auditDB == nil {
		return
	}
	action := "stage.completed"
	if record.Status == domain.StepStatusFailed {
		action = "stage.failed"
	}
	_, err := auditlog.Insert(ctx, s.auditDB, auditlog.Event{
		Actor:        req.Actor,
		Action:       action,
		ResourceType: "step_record",
		ResourceID:   record.ID,
		RequestID:    req.RequestID,
		Payload: map[string]any{
			"project_id":   record.ProjectID,
			"stage":        string(record.Stage),
			"status":       string(record.Status),
			"attempts":     record.Attempts,
			"failure_code": record.FailureCode,
		},
	})
	if err != nil {
		s.logger.Warn("audit emit failed",
			"project_id", record.ProjectID,
			"stage", string(record.Stage),
			"error", err.Error())
	}
}
