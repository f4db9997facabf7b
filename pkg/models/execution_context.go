package models

// VariableKeyInput is the reserved variable-bag key holding the execution's
// original input. It is set once at state creation and never overwritten.
const VariableKeyInput = "input"

// ExecutionContext is the read-only projection of an execution's variable
// bag handed to step executors. Variables maps step ids to their stored
// outputs plus the reserved "input" key; steps must treat it as immutable.
type ExecutionContext struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	AccountID   string         `json:"account_id"`
	Variables   map[string]any `json:"variables,omitempty"`
}

// StepOutput looks up a prior step's output in the variable bag. The second
// return is false when the step has no stored output or the stored value
// does not have the step-output shape.
func (c ExecutionContext) StepOutput(stepID string) (map[string]any, bool) {
	entry, ok := c.Variables[stepID].(map[string]any)
	if !ok {
		return nil, false
	}

	output, ok := entry["output"].(map[string]any)

	return output, ok
}
