// Package mocks provides testify mock implementations shared across tests.
package mocks

import (
	"context"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockExecutionRepository is a mock implementation of the
// persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) SaveExecution(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) SaveProgress(ctx context.Context, executionID string, progress persistence.ExecutionProgress) error {
	args := m.Called(ctx, executionID, progress)

	return args.Error(0)
}

func (m *MockExecutionRepository) UpdateExecutionStatus(ctx context.Context, executionID string, status models.ExecutionStatus, errorMessage string) error {
	args := m.Called(ctx, executionID, status, errorMessage)

	return args.Error(0)
}

// MockWorkflowRepository is a mock implementation of the
// persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}
