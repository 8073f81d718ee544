package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/env"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
)

const FailureCodeUnknownBackendState = "unknown_backend_state"

// Tracker owns the render job lifecycle: it submits work to the backend
// and advances the stored job on each poll. Settled jobs answer from the
// store without touching the backend again.
type Tracker struct {
	jobs    repo.RenderJobRepository
	backend Backend
	logger  *slog.Logger

	pollTimeout    time.Duration
	stalePollLimit int

	mu         sync.Mutex
	stalePolls map[string]int
}

type TrackerConfig struct {
	// PollTimeout bounds one backend inspection.
	PollTimeout time.Duration

	// StalePollLimit is how many consecutive polls may find the job
	// missing on the backend before the tracker fails it. Zero fails on
	// the first missing observation.
	StalePollLimit int
}

func TrackerConfigFromEnv() (TrackerConfig, error) {
	pollTimeout, err := env.Duration("RENDER_POLL_TIMEOUT", 10*time.Second)
	if err != nil {
		return TrackerConfig{}, err
	}
	staleLimit, err := env.Int("RENDER_STALE_POLL_LIMIT", 0)
	if err != nil {
		return TrackerConfig{}, err
	}
	return TrackerConfig{
		PollTimeout:    pollTimeout,
		StalePollLimit: staleLimit,
	}, nil
}

func NewTracker(jobs repo.RenderJobRepository, backend Backend, cfg TrackerConfig, logger *slog.Logger) (*Tracker, error) {
	if jobs == nil {
		return nil, errors.New("render job repository is required")
	}
	if backend == nil {
		return nil, errors.New("render backend is required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.StalePollLimit < 0 {
		cfg.StalePollLimit = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		jobs:           jobs,
		backend:        backend,
		logger:         logger,
		pollTimeout:    cfg.PollTimeout,
		stalePollLimit: cfg.StalePollLimit,
		stalePolls:     make(map[string]int),
	}, nil
}

// Start submits a render to the backend and persists the queued job.
func (t *Tracker) Start(ctx context.Context, projectID, createdBy string, params domain.Metadata, sourceURL string) (domain.RenderJob, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.RenderJob{}, errors.New("project id is required")
	}

	jobID := uuid.NewString()
	ref, err := t.backend.Submit(ctx, Spec{
		JobID:     jobID,
		ProjectID: projectID,
		SourceURL: sourceURL,
		Params:    params.Clone(),
	})
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("submit render: %w", err)
	}

	now := time.Now().UTC()
	job := domain.RenderJob{
		ID:         jobID,
		ProjectID:  projectID,
		Status:     domain.JobStatusQueued,
		BackendRef: ref,
		Spec:       params.Clone(),
		CreatedBy:  strings.TrimSpace(createdBy),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := t.jobs.Create(ctx, job); err != nil {
		return domain.RenderJob{}, fmt.Errorf("persist render job: %w", err)
	}

	t.logger.Info("render job started",
		"render_job_id", jobID,
		"project_id", projectID,
		"backend_ref", ref)
	return job, nil
}

// List returns a project's render jobs without consulting the backend.
func (t *Tracker) List(ctx context.Context, projectID string, limit int) ([]domain.RenderJob, error) {
	return t.jobs.List(ctx, repo.RenderJobFilter{
		ProjectID: strings.TrimSpace(projectID),
		Limit:     limit,
	})
}

// Poll returns the job's current state, consulting the backend only while
// the job is live. A backend outage surfaces as ErrBackendUnavailable with
// the last stored state; it never fails the job itself.
func (t *Tracker) Poll(ctx context.Context, jobID string) (domain.RenderJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.RenderJob{}, errors.New("render job id is required")
	}

	job, err := t.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.RenderJob{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	inspectCtx, cancel := context.WithTimeout(ctx, t.pollTimeout)
	defer cancel()

	obs, err := t.backend.Inspect(inspectCtx, job.BackendRef)
	switch {
	case errors.Is(err, ErrJobNotFound):
		if t.recordStalePoll(jobID) <= t.stalePollLimit {
			return job, nil
		}
		return t.settle(ctx, job, domain.JobStatusFailed, Observation{
			Message: "backend has no record of the job",
		}, FailureCodeUnknownBackendState)
	case errors.Is(err, ErrBackendUnavailable) || errors.Is(err, context.DeadlineExceeded):
		return job, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	case err != nil:
		return job, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	t.clearStalePolls(jobID)

	next := domain.NormalizeJobStatus(obs.State)
	if !next.Valid() {
		return t.settle(ctx, job, domain.JobStatusFailed, Observation{
			Message: fmt.Sprintf("backend reported unknown state %q", obs.State),
		}, FailureCodeUnknownBackendState)
	}
	if next == job.Status {
		return job, nil
	}
	if !domain.CanTransitionJobStatus(job.Status, next) {
		t.logger.Warn("ignoring backward job transition",
			"render_job_id", job.ID,
			"from", string(job.Status),
			"to", string(next))
		return job, nil
	}

	failureCode := ""
	if next == domain.JobStatusFailed {
		failureCode = "render_failed"
	}
	return t.settle(ctx, job, next, obs, failureCode)
}

func (t *Tracker) settle(ctx context.Context, job domain.RenderJob, next domain.JobStatus, obs Observation, failureCode string) (domain.RenderJob, error) {
	now := time.Now().UTC()
	job.Status = next
	job.UpdatedAt = now
	if obs.OutputURL != "" {
		job.OutputURL = obs.OutputURL
	}
	if failureCode != "" {
		job.FailureCode = failureCode
		job.FailureMsg = obs.Message
	}
	if next.Terminal() {
		completed := now
		job.CompletedAt = &completed
	}

	err := t.jobs.Update(ctx, job)
	switch {
	case err == nil:
	case errors.Is(err, repo.ErrTerminal):
		// Another poller settled the job first. Serve its result.
		return t.jobs.Get(ctx, job.ID)
	default:
		return domain.RenderJob{}, fmt.Errorf("update render job: %w", err)
	}

	if next.Terminal() {
		t.clearStalePolls(job.ID)
		t.logger.Info("render job settled",
			"render_job_id", job.ID,
			"project_id", job.ProjectID,
			"status", string(job.Status),
			"failure_code", job.FailureCode)
	}
	return job, nil
}

func (t *Tracker) recordStalePoll(jobID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stalePolls[jobID]++
	return t.stalePolls[jobID]
}

func (t *Tracker) clearStalePolls(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stalePolls, jobID)
}
