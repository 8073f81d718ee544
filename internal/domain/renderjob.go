package domain

import (
	"errors"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of an asynchronous render job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// NormalizeJobStatus maps backend status vocabulary onto canonical job
// states. Values outside the known vocabulary normalize to the invalid
// empty status; the tracker fails such jobs rather than report progress it
// cannot verify.
func NormalizeJobStatus(value string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(JobStatusQueued), "pending":
		return JobStatusQueued
	case string(JobStatusRunning), "active":
		return JobStatusRunning
	case string(JobStatusCompleted), "complete", "succeeded":
		return JobStatusCompleted
	case string(JobStatusFailed), "error":
		return JobStatusFailed
	default:
		return ""
	}
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionJobStatus enforces forward-only job progression. Terminal
// states never transition, and a job may always re-report its own state.
func CanTransitionJobStatus(current, next JobStatus) bool {
	if !current.Valid() || !next.Valid() {
		return false
	}
	if current == next {
		return true
	}
	if current.Terminal() {
		return false
	}
	return jobStatusOrder(current) < jobStatusOrder(next)
}

func jobStatusOrder(s JobStatus) int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	default:
		return 3
	}
}

// RenderJob tracks one asynchronous media render submitted on behalf of a
// project. BackendRef is the backend's own identifier for the work.
type RenderJob struct {
	ID          string
	ProjectID   string
	Status      JobStatus
	BackendRef  string
	OutputURL   string
	FailureCode string
	FailureMsg  string
	Spec        Metadata
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (j RenderJob) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("render job id is required")
	}
	if strings.TrimSpace(j.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if !j.Status.Valid() {
		return errors.New("job status is invalid")
	}
	if strings.TrimSpace(j.BackendRef) == "" {
		return errors.New("backend ref is required")
	}
	return nil
}
