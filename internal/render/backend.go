package render

import (
	"context"
	"errors"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
)

var (
	// ErrBackendUnavailable reports a transient fault reaching the render
	// backend. It is distinct from a job that has failed: callers keep the
	// job live and try again later.
	ErrBackendUnavailable = errors.New("render backend unavailable")

	// ErrJobNotFound reports that the backend has no record of the job.
	ErrJobNotFound = errors.New("render job not found on backend")
)

// Spec describes one render submission. SourceURL points at the stage
// output to render, Params carries backend-specific knobs.
type Spec struct {
	JobID     string
	ProjectID string
	SourceURL string
	Params    domain.Metadata
}

// Observation is one point-in-time view of a backend job. State carries
// the backend's own status vocabulary; the tracker owns mapping it onto
// the canonical job statuses.
type Observation struct {
	State     string
	OutputURL string
	Message   string
	Details   domain.Metadata
}

// Backend runs render jobs. Submit must be idempotent for the same ref so
// a retried submission cannot start duplicate work.
type Backend interface {
	Submit(ctx context.Context, spec Spec) (ref string, err error)
	Inspect(ctx context.Context, ref string) (Observation, error)
}
