package domain

import (
	"errors"
	"strings"
	"time"
)

// Project is the unit a content pipeline runs against. OwnerID identifies
// the user whose plan gates stage execution.
type Project struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	Metadata    Metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.OwnerID) == "" {
		return errors.New("project owner is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("project title is required")
	}
	return nil
}
