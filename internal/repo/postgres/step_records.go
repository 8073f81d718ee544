package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/repo"
)

// StepRecordStore persists stage execution records. A partial unique index
// on (project_id, stage) WHERE status = 'retry' keeps at most one live
// record per stage, so concurrent creates surface as ErrConflict here
// instead of racing in the service layer.
type StepRecordStore struct {
	db DB
}

const stepRecordColumns = `step_record_id, project_id, stage, status, attempts, input, output, failure_code, failure_msg, created_by, created_at, updated_at`

const (
	insertStepRecordQuery = `INSERT INTO step_records (
		step_record_id,
		project_id,
		stage,
		status,
		attempts,
		input,
		output,
		failure_code,
		failure_msg,
		created_by,
		created_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (project_id, stage) WHERE status = 'retry' DO NOTHING
	RETURNING step_record_id`

	selectStepRecordQuery = `SELECT ` + stepRecordColumns + `
	 FROM step_records
	 WHERE project_id = $1 AND step_record_id = $2`

	selectActiveStepRecordQuery = `SELECT ` + stepRecordColumns + `
	 FROM step_records
	 WHERE project_id = $1 AND stage = $2 AND status = 'retry'`

	selectLatestStepRecordQuery = `SELECT ` + stepRecordColumns + `
	 FROM step_records
	 WHERE project_id = $1 AND stage = $2
	 ORDER BY created_at DESC, step_record_id DESC
	 LIMIT 1`

	updateStepRecordQuery = `UPDATE step_records SET
		status = $1,
		attempts = $2,
		input = $3,
		output = $4,
		failure_code = $5,
		failure_msg = $6,
		updated_at = $7
	 WHERE project_id = $8 AND step_record_id = $9 AND status = 'retry' AND updated_at = $10
	 RETURNING ` + stepRecordColumns

	stepRecordStatusQuery = `SELECT status FROM step_records
	 WHERE project_id = $1 AND step_record_id = $2`
)

func NewStepRecordStore(db DB) *StepRecordStore {
	if db == nil {
		return nil
	}
	return &StepRecordStore{db: db}
}

func (s *StepRecordStore) Create(ctx context.Context, record domain.StepRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("step record store not initialized")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	input, err := encodeMetadata(record.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	output, err := encodeMetadata(record.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	createdAt := normalizeTime(record.CreatedAt)
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	var insertedID string
	err = s.db.QueryRowContext(
		ctx,
		insertStepRecordQuery,
		record.ID,
		record.ProjectID,
		string(record.Stage),
		string(record.Status),
		record.Attempts,
		input,
		output,
		nullIfEmpty(record.FailureCode),
		nullIfEmpty(record.FailureMsg),
		nullIfEmpty(record.CreatedBy),
		createdAt,
		updatedAt.UTC(),
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert step record: %w", err)
	}
	return nil
}

func (s *StepRecordStore) Get(ctx context.Context, projectID, id string) (domain.StepRecord, error) {
	if s == nil || s.db == nil {
		return domain.StepRecord{}, fmt.Errorf("step record store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	if projectID == "" || id == "" {
		return domain.StepRecord{}, fmt.Errorf("project id and record id are required")
	}
	return s.scanOne(s.db.QueryRowContext(ctx, selectStepRecordQuery, projectID, id))
}

func (s *StepRecordStore) GetActive(ctx context.Context, projectID string, stage domain.StageType) (domain.StepRecord, error) {
	if s == nil || s.db == nil {
		return domain.StepRecord{}, fmt.Errorf("step record store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.StepRecord{}, fmt.Errorf("project id is required")
	}
	if !stage.Valid() {
		return domain.StepRecord{}, fmt.Errorf("stage type is invalid")
	}
	return s.scanOne(s.db.QueryRowContext(ctx, selectActiveStepRecordQuery, projectID, string(stage)))
}

func (s *StepRecordStore) GetLatest(ctx context.Context, projectID string, stage domain.StageType) (domain.StepRecord, error) {
	if s == nil || s.db == nil {
		return domain.StepRecord{}, fmt.Errorf("step record store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.StepRecord{}, fmt.Errorf("project id is required")
	}
	if !stage.Valid() {
		return domain.StepRecord{}, fmt.Errorf("stage type is invalid")
	}
	return s.scanOne(s.db.QueryRowContext(ctx, selectLatestStepRecordQuery, projectID, string(stage)))
}

func (s *StepRecordStore) List(ctx context.Context, filter repo.StepRecordFilter) ([]domain.StepRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("step record store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}

	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		clauses = append(clauses, fmt.Sprintf("stage = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + stepRecordColumns + ` FROM step_records WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC, step_record_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list step records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StepRecord, 0)
	for rows.Next() {
		record, err := s.scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list step records: %w", err)
	}
	return records, nil
}

// Update applies the record's mutable fields, but only while the stored row
// is still in the retry status and unchanged since the caller read it: the
// record's UpdatedAt acts as the optimistic token. A settled row returns
// ErrTerminal, a live row another writer got to first returns ErrConflict,
// and a winning update returns the row with its fresh timestamp.
func (s *StepRecordStore) Update(ctx context.Context, record domain.StepRecord) (domain.StepRecord, error) {
	if s == nil || s.db == nil {
		return domain.StepRecord{}, fmt.Errorf("step record store not initialized")
	}
	if err := record.Validate(); err != nil {
		return domain.StepRecord{}, err
	}

	input, err := encodeMetadata(record.Input)
	if err != nil {
		return domain.StepRecord{}, fmt.Errorf("encode input: %w", err)
	}
	output, err := encodeMetadata(record.Output)
	if err != nil {
		return domain.StepRecord{}, fmt.Errorf("encode output: %w", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)

	updated, err := s.scanRecord(s.db.QueryRowContext(
		ctx,
		updateStepRecordQuery,
		string(record.Status),
		record.Attempts,
		input,
		output,
		nullIfEmpty(record.FailureCode),
		nullIfEmpty(record.FailureMsg),
		now,
		record.ProjectID,
		record.ID,
		normalizeTime(record.UpdatedAt),
	).Scan)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StepRecord{}, fmt.Errorf("update step record: %w", err)
	}

	var status string
	statusErr := s.db.QueryRowContext(ctx, stepRecordStatusQuery, record.ProjectID, record.ID).Scan(&status)
	if statusErr != nil {
		return domain.StepRecord{}, handleNotFound(statusErr)
	}
	if domain.StepStatus(status).Terminal() {
		return domain.StepRecord{}, repo.ErrTerminal
	}
	// The row is still live, so the guard missed on the timestamp: a
	// concurrent writer updated it after our read.
	return domain.StepRecord{}, repo.ErrConflict
}

func (s *StepRecordStore) scanOne(row *sql.Row) (domain.StepRecord, error) {
	record, err := s.scanRecord(row.Scan)
	if err != nil {
		return domain.StepRecord{}, handleNotFound(err)
	}
	return record, nil
}

func (s *StepRecordStore) scanRecord(scan func(dest ...any) error) (domain.StepRecord, error) {
	var record domain.StepRecord
	var stage string
	var status string
	var inputJSON []byte
	var outputJSON []byte
	var failureCode sql.NullString
	var failureMsg sql.NullString
	var createdBy sql.NullString
	if err := scan(
		&record.ID,
		&record.ProjectID,
		&stage,
		&status,
		&record.Attempts,
		&inputJSON,
		&outputJSON,
		&failureCode,
		&failureMsg,
		&createdBy,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return domain.StepRecord{}, err
	}
	record.Stage = domain.StageType(stage)
	record.Status = domain.StepStatus(status)
	if failureCode.Valid {
		record.FailureCode = failureCode.String
	}
	if failureMsg.Valid {
		record.FailureMsg = failureMsg.String
	}
	if createdBy.Valid {
		record.CreatedBy = createdBy.String
	}
	input, err := decodeMetadata(inputJSON)
	if err != nil {
		return domain.StepRecord{}, fmt.Errorf("decode input: %w", err)
	}
	record.Input = input
	output, err := decodeMetadata(outputJSON)
	if err != nil {
		return domain.StepRecord{}, fmt.Errorf("decode output: %w", err)
	}
	record.Output = output
	return record, nil
}
