package pipeline

import (
	"fmt"

	"github.com/draftforge-labs/draftforge-go/internal/platform/entitlement"
)

// ValidationError reports malformed execution input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// EntitlementError reports that the caller's plan does not cover the stage.
type EntitlementError struct {
	Decision entitlement.Decision
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("plan %s does not cover stage requiring %s",
		e.Decision.UserTier, e.Decision.RequiredTier)
}

// PreconditionError reports that the pipeline is not in a state that admits
// the requested execution.
type PreconditionError struct {
	Code    string
	Message string
}

func (e *PreconditionError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	PreconditionStageOrder = "stage_order_violation"
)
