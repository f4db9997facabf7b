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

// SaveWorkflow inserts or updates a workflow definition.
func (p *PostgresPersistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	stepsJSON, err := json.Marshal(workflow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	connectionsJSON, err := json.Marshal(workflow.Connections)
	if err != nil {
		return fmt.Errorf("failed to marshal connections: %w", err)
	}

	metadataJSON, err := json.Marshal(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	workflow.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO workflows (
			id, name, description, status, steps, connections, metadata, owner, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			steps = EXCLUDED.steps,
			connections = EXCLUDED.connections,
			metadata = EXCLUDED.metadata,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at
	`

	_, err = p.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		stepsJSON,
		connectionsJSON,
		metadataJSON,
		workflow.Owner,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return &persistence.WorkflowError{Op: "Save", WorkflowID: workflow.ID, Err: err}
	}

	return nil
}

// WorkflowByID retrieves a workflow definition by its ID.
func (p *PostgresPersistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT id, name, description, status, steps, connections, metadata, owner, created_at, updated_at
		FROM workflows
		WHERE id = $1
	`

	row := p.db.QueryRowContext(ctx, query, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, &persistence.WorkflowError{Op: "ByID", WorkflowID: id, Err: err}
	}

	return workflow, nil
}

// Workflows lists all stored workflow definitions.
func (p *PostgresPersistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT id, name, description, status, steps, connections, metadata, owner, created_at, updated_at
		FROM workflows
		ORDER BY created_at
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	return workflows, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow        models.Workflow
		stepsJSON       []byte
		connectionsJSON []byte
		metadataJSON    []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&stepsJSON,
		&connectionsJSON,
		&metadataJSON,
		&workflow.Owner,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &workflow.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(connectionsJSON, &workflow.Connections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connections: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &workflow.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &workflow, nil
}
