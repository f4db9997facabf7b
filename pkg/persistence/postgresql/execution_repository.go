package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/persistence"
)

// SaveExecution inserts or updates an execution record.
func (p *PostgresPersistence) SaveExecution(ctx context.Context, execution *models.Execution) error {
	inputJSON, err := json.Marshal(execution.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}

	completedJSON, err := json.Marshal(execution.CompletedStepIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal completed step ids: %w", err)
	}

	failedJSON, err := json.Marshal(execution.FailedStepIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal failed step ids: %w", err)
	}

	snapshotJSON, err := json.Marshal(execution.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal context snapshot: %w", err)
	}

	execution.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO executions (
			id, workflow_id, account_id, input, current_step_id,
			completed_step_ids, failed_step_ids, context_snapshot,
			status, error_message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			current_step_id = EXCLUDED.current_step_id,
			completed_step_ids = EXCLUDED.completed_step_ids,
			failed_step_ids = EXCLUDED.failed_step_ids,
			context_snapshot = EXCLUDED.context_snapshot,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.AccountID,
		inputJSON,
		execution.CurrentStepID,
		completedJSON,
		failedJSON,
		snapshotJSON,
		execution.Status,
		execution.ErrorMessage,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

// ExecutionByID retrieves an execution record by its ID.
func (p *PostgresPersistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `
		SELECT id, workflow_id, account_id, input, current_step_id,
			   completed_step_ids, failed_step_ids, context_snapshot,
			   status, error_message, created_at, updated_at
		FROM executions
		WHERE id = $1
	`

	var (
		execution     models.Execution
		inputJSON     []byte
		completedJSON []byte
		failedJSON    []byte
		snapshotJSON  []byte
	)

	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.AccountID,
		&inputJSON,
		&execution.CurrentStepID,
		&completedJSON,
		&failedJSON,
		&snapshotJSON,
		&execution.Status,
		&execution.ErrorMessage,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewExecutionError("ByID", id, err)
	}

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &execution.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}

	if err := json.Unmarshal(completedJSON, &execution.CompletedStepIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completed step ids: %w", err)
	}

	if err := json.Unmarshal(failedJSON, &execution.FailedStepIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failed step ids: %w", err)
	}

	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &execution.ContextSnapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context snapshot: %w", err)
		}
	}

	return &execution, nil
}

// SaveProgress writes a checkpoint into the execution record without
// touching status or input.
func (p *PostgresPersistence) SaveProgress(ctx context.Context, executionID string, progress persistence.ExecutionProgress) error {
	completedJSON, err := json.Marshal(progress.CompletedStepIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal completed step ids: %w", err)
	}

	failedJSON, err := json.Marshal(progress.FailedStepIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal failed step ids: %w", err)
	}

	snapshotJSON, err := json.Marshal(progress.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal context snapshot: %w", err)
	}

	query := `
		UPDATE executions
		SET current_step_id = $2,
			completed_step_ids = $3,
			failed_step_ids = $4,
			context_snapshot = $5,
			updated_at = now()
		WHERE id = $1
	`

	result, err := p.db.ExecContext(ctx, query, executionID, progress.CurrentStepID, completedJSON, failedJSON, snapshotJSON)
	if err != nil {
		return persistence.NewExecutionError("SaveProgress", executionID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return persistence.NewExecutionError("SaveProgress", executionID, persistence.ErrExecutionNotFound)
	}

	return nil
}

// UpdateExecutionStatus transitions an execution's status.
func (p *PostgresPersistence) UpdateExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, errorMessage string) error {
	query := `
		UPDATE executions
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`

	result, err := p.db.ExecContext(ctx, query, executionID, status, errorMessage)
	if err != nil {
		return persistence.NewExecutionError("UpdateStatus", executionID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return persistence.NewExecutionError("UpdateStatus", executionID, persistence.ErrExecutionNotFound)
	}

	return nil
}
