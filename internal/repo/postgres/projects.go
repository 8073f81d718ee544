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

type ProjectStore struct {
	db DB
}

const projectColumns = `project_id, owner_id, title, description, metadata, created_at, updated_at`

const (
	insertProjectQuery = `INSERT INTO projects (
		project_id,
		owner_id,
		title,
		description,
		metadata,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (project_id) DO NOTHING
	RETURNING project_id`

	selectProjectQuery = `SELECT ` + projectColumns + `
	 FROM projects
	 WHERE project_id = $1`
)

func NewProjectStore(db DB) *ProjectStore {
	if db == nil {
		return nil
	}
	return &ProjectStore{db: db}
}

func (s *ProjectStore) Create(ctx context.Context, project domain.Project) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("project store not initialized")
	}
	if err := project.Validate(); err != nil {
		return err
	}

	metadata, err := encodeMetadata(project.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	createdAt := normalizeTime(project.CreatedAt)
	updatedAt := project.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	var insertedID string
	err = s.db.QueryRowContext(
		ctx,
		insertProjectQuery,
		project.ID,
		project.OwnerID,
		project.Title,
		nullIfEmpty(project.Description),
		metadata,
		createdAt,
		updatedAt.UTC(),
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *ProjectStore) Get(ctx context.Context, id string) (domain.Project, error) {
	if s == nil || s.db == nil {
		return domain.Project{}, fmt.Errorf("project store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Project{}, fmt.Errorf("project id is required")
	}
	project, err := s.scanProject(s.db.QueryRowContext(ctx, selectProjectQuery, id).Scan)
	if err != nil {
		return domain.Project{}, handleNotFound(err)
	}
	return project, nil
}

func (s *ProjectStore) List(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("project store not initialized")
	}

	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)

	if strings.TrimSpace(filter.OwnerID) != "" {
		args = append(args, strings.TrimSpace(filter.OwnerID))
		clauses = append(clauses, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Title) != "" {
		args = append(args, strings.TrimSpace(filter.Title))
		clauses = append(clauses, fmt.Sprintf("title = $%d", len(args)))
	}

	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, project_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		project, err := s.scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

func (s *ProjectStore) scanProject(scan func(dest ...any) error) (domain.Project, error) {
	var project domain.Project
	var description sql.NullString
	var metadataJSON []byte
	if err := scan(
		&project.ID,
		&project.OwnerID,
		&project.Title,
		&description,
		&metadataJSON,
		&project.CreatedAt,
		&project.UpdatedAt,
	); err != nil {
		return domain.Project{}, err
	}
	if description.Valid {
		project.Description = description.String
	}
	metadata, err := decodeMetadata(metadataJSON)
	if err != nil {
		return domain.Project{}, fmt.Errorf("decode metadata: %w", err)
	}
	project.Metadata = metadata
	return project, nil
}
