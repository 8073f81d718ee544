package domain

import (
	"errors"
	"strings"
	"time"
)

// StepStatus is the lifecycle state of a stage execution record. Only the
// retry state is non-terminal.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusRetry   StepStatus = "retry"
	StepStatusFailed  StepStatus = "failed"
)

// NormalizeStepStatus maps free-form status values onto canonical ones.
func NormalizeStepStatus(value string) StepStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StepStatusSuccess), "succeeded", "completed":
		return StepStatusSuccess
	case string(StepStatusRetry), "retrying", "pending":
		return StepStatusRetry
	case string(StepStatusFailed), "error":
		return StepStatusFailed
	default:
		return ""
	}
}

func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusSuccess, StepStatusRetry, StepStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSuccess || s == StepStatusFailed
}

// StepRecord tracks one stage execution attempt chain for a project. A
// project holds at most one non-terminal record per stage at a time.
type StepRecord struct {
	ID          string
	ProjectID   string
	Stage       StageType
	Status      StepStatus
	Attempts    int
	Input       Metadata
	Output      Metadata
	FailureCode string
	FailureMsg  string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r StepRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("step record id is required")
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if !r.Stage.Valid() {
		return errors.New("stage type is invalid")
	}
	if !r.Status.Valid() {
		return errors.New("step status is invalid")
	}
	if r.Attempts < 1 {
		return errors.New("attempts must be at least 1")
	}
	if r.Status == StepStatusFailed && strings.TrimSpace(r.FailureCode) == "" {
		return errors.New("failed records require a failure code")
	}
	return nil
}
