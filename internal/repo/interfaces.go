package repo

import (
	"context"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
)

type ProjectFilter struct {
	OwnerID string
	Title   string
	Limit   int
}

type StepRecordFilter struct {
	ProjectID string
	Stage     domain.StageType
	Status    domain.StepStatus
	Limit     int
}

type RenderJobFilter struct {
	ProjectID string
	Status    domain.JobStatus
	Limit     int
}

// ProjectRepository manages projects.
type ProjectRepository interface {
	Create(ctx context.Context, project domain.Project) error
	Get(ctx context.Context, id string) (domain.Project, error)
	List(ctx context.Context, filter ProjectFilter) ([]domain.Project, error)
}

// StepRecordRepository manages stage execution records. A project holds at
// most one non-terminal record per stage; Create returns ErrConflict when a
// live record for the same (project, stage) already exists. Update compares
// the record's UpdatedAt against the stored row: a settled row returns
// ErrTerminal, a live row written by someone else since the read returns
// ErrConflict, and a matching row is updated and returned with its new
// timestamp. Racing writers never silently overwrite each other.
type StepRecordRepository interface {
	Create(ctx context.Context, record domain.StepRecord) error
	Get(ctx context.Context, projectID, id string) (domain.StepRecord, error)
	GetActive(ctx context.Context, projectID string, stage domain.StageType) (domain.StepRecord, error)
	GetLatest(ctx context.Context, projectID string, stage domain.StageType) (domain.StepRecord, error)
	List(ctx context.Context, filter StepRecordFilter) ([]domain.StepRecord, error)
	Update(ctx context.Context, record domain.StepRecord) (domain.StepRecord, error)
}

// RenderJobRepository manages asynchronous render jobs. Update refuses to
// move a job out of a terminal status.
type RenderJobRepository interface {
	Create(ctx context.Context, job domain.RenderJob) error
	Get(ctx context.Context, id string) (domain.RenderJob, error)
	List(ctx context.Context, filter RenderJobFilter) ([]domain.RenderJob, error)
	Update(ctx context.Context, job domain.RenderJob) error
}
