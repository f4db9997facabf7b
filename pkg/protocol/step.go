// Package protocol defines the interfaces and contracts for pluggable step
// executors.
package protocol

import (
	"context"
	"errors"

	"github.com/curatorhq/curator/pkg/models"
)

// Typed failure reasons step executors report to the orchestrator.
var (
	// ErrUnknownStepType indicates a step type discriminator with no
	// registered factory.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrInvalidStepConfig indicates a step config that failed schema
	// validation or factory parsing. Non-retryable.
	ErrInvalidStepConfig = errors.New("invalid step configuration")

	// ErrMissingSourceStepData indicates a source-step reference whose
	// output is absent from the execution context.
	ErrMissingSourceStepData = errors.New("missing source step data")
)

// Step is the polymorphic unit of work. Execute receives a read-only
// projection of the execution's variable bag and returns the step's output
// record or a typed failure reason. Implementations must be safe to
// re-invoke with the same inputs: after crash recovery the in-flight step
// is re-run.
type Step interface {
	Execute(ctx context.Context, execCtx models.ExecutionContext) (map[string]any, error)
}

// StepFactory creates step instances and provides metadata about the step
// type.
type StepFactory interface {
	// Create creates a new step instance with the given configuration.
	Create(config map[string]any) (Step, error)

	// ID returns the type discriminator for this step kind.
	ID() string

	// Schema returns the JSON schema step configs are validated against.
	Schema() map[string]any
}
