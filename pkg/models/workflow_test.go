package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainWorkflow(steps []*WorkflowStep, connections []*Connection) *Workflow {
	return &Workflow{
		ID:          "wf-1",
		Name:        "Flag aging pages",
		Status:      WorkflowStatusPublished,
		Steps:       steps,
		Connections: connections,
	}
}

func TestWorkflowStepChain_Linear(t *testing.T) {
	workflow := chainWorkflow(
		[]*WorkflowStep{
			{ID: "u1", Type: StepTypeUpdateMetadata, Name: "Flag", Enabled: true},
			{ID: "q1", Type: StepTypeQuery, Name: "Find aging pages", Enabled: true},
		},
		[]*Connection{
			{ID: "c1", From: "q1", To: "u1"},
		},
	)

	chain, err := workflow.StepChain()
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "q1", chain[0].ID)
	assert.Equal(t, "u1", chain[1].ID)
}

func TestWorkflowStepChain_SingleStep(t *testing.T) {
	workflow := chainWorkflow(
		[]*WorkflowStep{{ID: "q1", Type: StepTypeQuery, Name: "Find", Enabled: true}},
		nil,
	)

	chain, err := workflow.StepChain()
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "q1", chain[0].ID)
}

func TestWorkflowStepChain_Empty(t *testing.T) {
	workflow := chainWorkflow(nil, nil)

	_, err := workflow.StepChain()
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestWorkflowStepChain_Fork(t *testing.T) {
	workflow := chainWorkflow(
		[]*WorkflowStep{
			{ID: "q1", Type: StepTypeQuery, Name: "Find", Enabled: true},
			{ID: "u1", Type: StepTypeUpdateMetadata, Name: "Flag", Enabled: true},
			{ID: "u2", Type: StepTypeUpdateMetadata, Name: "Flag again", Enabled: true},
		},
		[]*Connection{
			{ID: "c1", From: "q1", To: "u1"},
			{ID: "c2", From: "q1", To: "u2"},
		},
	)

	_, err := workflow.StepChain()
	assert.ErrorIs(t, err, ErrBranchedChain)
}

func TestWorkflowStepChain_Cycle(t *testing.T) {
	workflow := chainWorkflow(
		[]*WorkflowStep{
			{ID: "q1", Type: StepTypeQuery, Name: "Find", Enabled: true},
			{ID: "u1", Type: StepTypeUpdateMetadata, Name: "Flag", Enabled: true},
		},
		[]*Connection{
			{ID: "c1", From: "q1", To: "u1"},
			{ID: "c2", From: "u1", To: "q1"},
		},
	)

	_, err := workflow.StepChain()
	assert.ErrorIs(t, err, ErrChainCycle)
}

func TestWorkflowStepChain_UnknownStepReference(t *testing.T) {
	workflow := chainWorkflow(
		[]*WorkflowStep{{ID: "q1", Type: StepTypeQuery, Name: "Find", Enabled: true}},
		[]*Connection{{ID: "c1", From: "q1", To: "ghost"}},
	)

	_, err := workflow.StepChain()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestNewExecution(t *testing.T) {
	execution := NewExecution("wf-1", "acct-1", map[string]any{"reason": "scheduled"})

	assert.NotEmpty(t, execution.ID)
	assert.Equal(t, ExecutionStatusPending, execution.Status)
	assert.Empty(t, execution.CompletedStepIDs)
	assert.Empty(t, execution.FailedStepIDs)
	assert.Nil(t, execution.CurrentStepID)
	assert.Equal(t, "", execution.LastCompletedStepID())
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.True(t, ExecutionStatusCompleted.Terminal())
	assert.True(t, ExecutionStatusFailed.Terminal())
	assert.True(t, ExecutionStatusCancelled.Terminal())
	assert.False(t, ExecutionStatusRunning.Terminal())
	assert.False(t, ExecutionStatusPaused.Terminal())
	assert.False(t, ExecutionStatusCancelling.Terminal())
}

func TestExecutionContextStepOutput(t *testing.T) {
	execCtx := ExecutionContext{
		ExecutionID: "exec-1",
		Variables: map[string]any{
			VariableKeyInput: map[string]any{"seed": true},
			"q1":             map[string]any{"output": map[string]any{"count": float64(2)}},
			"broken":         "not-a-step-entry",
		},
	}

	output, ok := execCtx.StepOutput("q1")
	require.True(t, ok)
	assert.Equal(t, float64(2), output["count"])

	_, ok = execCtx.StepOutput("missing")
	assert.False(t, ok)

	_, ok = execCtx.StepOutput("broken")
	assert.False(t, ok)
}
