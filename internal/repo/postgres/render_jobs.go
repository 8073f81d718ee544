package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
)

// RenderJobStore persists asynchronous render jobs. Terminal rows are
// immutable: the guarded update only matches live rows, so a settled job
// never changes state again.
type RenderJobStore struct {
	db DB
}

const renderJobColumns = `render_job_id, project_id, status, backend_ref, output_url, failure_code, failure_msg, spec, created_by, created_at, updated_at, completed_at`

const (
	insertRenderJobQuery = `INSERT INTO render_jobs (
		render_job_id,
		project_id,
		status,
		backend_ref,
		output_url,
		failure_code,
		failure_msg,
		spec,
		created_by,
		created_at,
		updated_at,
		completed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (render_job_id) DO NOTHING
	RETURNING render_job_id`

	selectRenderJobQuery = `SELECT ` + renderJobColumns + `
	 FROM render_jobs
	 WHERE render_job_id = $1`

	updateRenderJobQuery = `UPDATE render_jobs SET
		status = $1,
		output_url = $2,
		failure_code = $3,
		failure_msg = $4,
		updated_at = $5,
		completed_at = $6
	 WHERE render_job_id = $7 AND status IN ('queued', 'running')
	 RETURNING render_job_id`

	renderJobStatusQuery = `SELECT status FROM render_jobs WHERE render_job_id = $1`
)

func NewRenderJobStore(db DB) *RenderJobStore {
	if db == nil {
		return nil
	}
	return &RenderJobStore{db: db}
}

func (s *RenderJobStore) Create(ctx context.Context, job domain.RenderJob) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("render job store not initialized")
	}
	if err := job.Validate(); err != nil {
		return err
	}

	spec, err := encodeMetadata(job.Spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}
	createdAt := normalizeTime(job.CreatedAt)
	updatedAt := job.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	var insertedID string
	err = s.db.QueryRowContext(
		ctx,
		insertRenderJobQuery,
		job.ID,
		job.ProjectID,
		string(job.Status),
		job.BackendRef,
		nullIfEmpty(job.OutputURL),
		nullIfEmpty(job.FailureCode),
		nullIfEmpty(job.FailureMsg),
		spec,
		nullIfEmpty(job.CreatedBy),
		createdAt,
		updatedAt.UTC(),
		nullIfZero(job.CompletedAt),
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert render job: %w", err)
	}
	return nil
}

func (s *RenderJobStore) Get(ctx context.Context, id string) (domain.RenderJob, error) {
	if s == nil || s.db == nil {
		return domain.RenderJob{}, fmt.Errorf("render job store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RenderJob{}, fmt.Errorf("render job id is required")
	}
	job, err := s.scanJob(s.db.QueryRowContext(ctx, selectRenderJobQuery, id).Scan)
	if err != nil {
		return domain.RenderJob{}, handleNotFound(err)
	}
	return job, nil
}

func (s *RenderJobStore) List(ctx context.Context, filter repo.RenderJobFilter) ([]domain.RenderJob, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("render job store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + renderJobColumns + ` FROM render_jobs WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC, render_job_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list render jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.RenderJob, 0)
	for rows.Next() {
		job, err := s.scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list render jobs: %w", err)
	}
	return jobs, nil
}

func (s *RenderJobStore) Update(ctx context.Context, job domain.RenderJob) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("render job store not initialized")
	}
	if err := job.Validate(); err != nil {
		return err
	}

	updatedAt := normalizeTime(job.UpdatedAt)
	var updatedID string
	err := s.db.QueryRowContext(
		ctx,
		updateRenderJobQuery,
		string(job.Status),
		nullIfEmpty(job.OutputURL),
		nullIfEmpty(job.FailureCode),
		nullIfEmpty(job.FailureMsg),
		updatedAt,
		nullIfZero(job.CompletedAt),
		job.ID,
	).Scan(&updatedID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update render job: %w", err)
	}

	var status string
	statusErr := s.db.QueryRowContext(ctx, renderJobStatusQuery, job.ID).Scan(&status)
	if statusErr != nil {
		return handleNotFound(statusErr)
	}
	if domain.JobStatus(status).Terminal() {
		return repo.ErrTerminal
	}
	return repo.ErrNotFound
}

func (s *RenderJobStore) scanJob(scan func(dest ...any) error) (domain.RenderJob, error) {
	var job domain.RenderJob
	var status string
	var specJSON []byte
	var outputURL sql.NullString
	var failureCode sql.NullString
	var failureMsg sql.NullString
	var createdBy sql.NullString
	var completedAt sql.NullTime
	if err := scan(
		&job.ID,
		&job.ProjectID,
		&status,
		&job.BackendRef,
		&outputURL,
		&failureCode,
		&failureMsg,
		&specJSON,
		&createdBy,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		return domain.RenderJob{}, err
	}
	job.Status = domain.JobStatus(status)
	if outputURL.Valid {
		job.OutputURL = outputURL.String
	}
	if failureCode.Valid {
		job.FailureCode = failureCode.String
	}
	if failureMsg.Valid {
		job.FailureMsg = failureMsg.String
	}
	if createdBy.Valid {
		job.CreatedBy = createdBy.String
	}
	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		job.CompletedAt = &completed
	}
	spec, err := decodeMetadata(specJSON)
	if err != nil {
		return domain.RenderJob{}, fmt.Errorf("decode spec: %w", err)
	}
	job.Spec = spec
	return job, nil
}
