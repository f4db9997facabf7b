// Package file provides a file-system backed persistence implementation,
// useful for local development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/persistence"
)

const (
	workflowsDir  = "workflows"
	executionsDir = "executions"

	dirPerm  = 0o750
	filePerm = 0o600
)

// FilePersistence stores workflows and executions as one JSON document per
// record under a root directory.
type FilePersistence struct {
	root string
}

func NewFilePersistence(root string) *FilePersistence {
	return &FilePersistence{root: strings.TrimPrefix(root, "file://")}
}

// validateID rejects identifiers that are unsafe for file operations.
func validateID(id string) error {
	if id == "" {
		return errors.New("identifier cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return errors.New("identifier contains invalid characters")
	}

	return nil
}

func (p *FilePersistence) writeDocument(dir, id string, document any) error {
	if err := validateID(id); err != nil {
		return err
	}

	target := filepath.Join(p.root, dir)
	if err := os.MkdirAll(target, dirPerm); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	// Write-then-rename so a crash mid-write never leaves a torn document.
	tmp := filepath.Join(target, id+".json.tmp")
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", id, err)
	}

	return os.Rename(tmp, filepath.Join(target, id+".json"))
}

func (p *FilePersistence) readDocument(dir, id string, notFound error, document any) error {
	if err := validateID(id); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(p.root, dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to read %s: %w", id, err)
	}

	return json.Unmarshal(data, document)
}

func (p *FilePersistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	dir := filepath.Join(p.root, workflowsDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Workflow{}, nil
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow %s: %w", entry.Name(), err)
		}

		var workflow models.Workflow
		if err := json.Unmarshal(data, &workflow); err != nil {
			return nil, fmt.Errorf("failed to parse workflow %s: %w", entry.Name(), err)
		}

		workflows = append(workflows, &workflow)
	}

	return workflows, nil
}

func (p *FilePersistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow
	if err := p.readDocument(workflowsDir, id, persistence.ErrWorkflowNotFound, &workflow); err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (p *FilePersistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	workflow.UpdatedAt = time.Now().UTC()

	return p.writeDocument(workflowsDir, workflow.ID, workflow)
}

func (p *FilePersistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	var execution models.Execution
	if err := p.readDocument(executionsDir, id, persistence.ErrExecutionNotFound, &execution); err != nil {
		return nil, err
	}

	return &execution, nil
}

func (p *FilePersistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	execution.UpdatedAt = time.Now().UTC()

	return p.writeDocument(executionsDir, execution.ID, execution)
}

func (p *FilePersistence) SaveProgress(ctx context.Context, executionID string, progress persistence.ExecutionProgress) error {
	execution, err := p.ExecutionByID(ctx, executionID)
	if err != nil {
		return persistence.NewExecutionError("SaveProgress", executionID, err)
	}

	execution.CurrentStepID = progress.CurrentStepID
	execution.CompletedStepIDs = progress.CompletedStepIDs
	execution.FailedStepIDs = progress.FailedStepIDs
	execution.ContextSnapshot = progress.ContextSnapshot

	return p.SaveExecution(ctx, execution)
}

func (p *FilePersistence) UpdateExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, errorMessage string) error {
	execution, err := p.ExecutionByID(ctx, executionID)
	if err != nil {
		return persistence.NewExecutionError("UpdateStatus", executionID, err)
	}

	execution.Status = status
	execution.ErrorMessage = errorMessage

	return p.SaveExecution(ctx, execution)
}

func (p *FilePersistence) HealthCheck(_ context.Context) error {
	info, err := os.Stat(p.root)
	if err != nil {
		return fmt.Errorf("persistence root %s not accessible: %w", p.root, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("persistence root %s is not a directory", p.root)
	}

	return nil
}

func (p *FilePersistence) Close(_ context.Context) error {
	return nil
}
