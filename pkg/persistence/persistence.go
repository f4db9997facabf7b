// Package persistence provides the data storage abstraction layer for
// workflow definitions and execution records.
package persistence

import (
	"context"

	"github.com/curatorhq/curator/pkg/models"
)

// ExecutionProgress is the checkpoint payload written into an execution
// record. The runtime treats the underlying store as an opaque
// transactional store; schema beyond these fields is the store's concern.
type ExecutionProgress struct {
	CurrentStepID    *string        `json:"current_step_id,omitempty"`
	CompletedStepIDs []string       `json:"completed_step_ids"`
	FailedStepIDs    []string       `json:"failed_step_ids"`
	ContextSnapshot  map[string]any `json:"context_snapshot,omitempty"`
}

// WorkflowRepository is the narrow read/write surface for workflow
// definitions the runtime consumes.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
}

// ExecutionRepository is the execution record store boundary. SaveProgress
// is the only mutation path the checkpoint policy uses.
type ExecutionRepository interface {
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	SaveExecution(ctx context.Context, execution *models.Execution) error
	SaveProgress(ctx context.Context, executionID string, progress ExecutionProgress) error
	UpdateExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, errorMessage string) error
}

type Persistence interface {
	WorkflowRepository
	ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
