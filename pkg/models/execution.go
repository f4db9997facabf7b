package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus defines the possible states of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusRunning    ExecutionStatus = "running"
	ExecutionStatusPaused     ExecutionStatus = "paused"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
	ExecutionStatusCancelling ExecutionStatus = "cancelling"
	ExecutionStatusCancelled  ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is a final state for an execution.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// Execution is the durable record of one workflow run. The runtime mutates
// it only through checkpoint writes and status transitions; retention of
// finished executions is an external concern.
type Execution struct {
	ID               string          `json:"id"`
	WorkflowID       string          `json:"workflow_id" validate:"required"`
	AccountID        string          `json:"account_id"  validate:"required"`
	Input            map[string]any  `json:"input,omitempty"`
	CurrentStepID    *string         `json:"current_step_id,omitempty"`
	CompletedStepIDs []string        `json:"completed_step_ids"`
	FailedStepIDs    []string        `json:"failed_step_ids"`
	ContextSnapshot  map[string]any  `json:"context_snapshot,omitempty"`
	Status           ExecutionStatus `json:"status"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewExecution creates a pending execution for the given workflow and input.
func NewExecution(workflowID, accountID string, input map[string]any) *Execution {
	now := time.Now().UTC()

	return &Execution{
		ID:               GenerateExecutionID(),
		WorkflowID:       workflowID,
		AccountID:        accountID,
		Input:            input,
		CompletedStepIDs: []string{},
		FailedStepIDs:    []string{},
		Status:           ExecutionStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// LastCompletedStepID returns the most recently completed step id, or ""
// when no step has completed yet. Surfaced alongside failures so an
// operator can decide whether to resume, restart or abandon.
func (e *Execution) LastCompletedStepID() string {
	if len(e.CompletedStepIDs) == 0 {
		return ""
	}

	return e.CompletedStepIDs[len(e.CompletedStepIDs)-1]
}

// GenerateExecutionID generates a unique execution ID.
func GenerateExecutionID() string {
	return fmt.Sprintf("exec-%s", uuid.New().String()[:8])
}
