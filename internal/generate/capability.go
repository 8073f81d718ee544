package generate

import (
	"context"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
)

// Request carries everything a capability needs to produce stage output.
// Input holds stage-specific fields, Prior holds the preceding stage's
// output when one exists.
type Request struct {
	ProjectID string
	Stage     domain.StageType
	Input     domain.Metadata
	Prior     domain.Metadata
}

// Capability produces the output of one pipeline stage. Implementations
// return a *Failure for classified errors; anything else is treated as a
// retryable fault.
type Capability interface {
	Generate(ctx context.Context, req Request) (domain.Metadata, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, req Request) (domain.Metadata, error)

func (f CapabilityFunc) Generate(ctx context.Context, req Request) (domain.Metadata, error) {
	return f(ctx, req)
}
