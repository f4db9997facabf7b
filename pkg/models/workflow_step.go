package models

// Built-in step type discriminators.
const (
	StepTypeQuery          = "query"
	StepTypeUpdateMetadata = "update_metadata"
)

// WorkflowStep is one unit of a workflow's step chain. Config is a
// type-specific payload validated against the step factory's schema at
// instantiation time; it is never mutated at runtime.
type WorkflowStep struct {
	ID      string         `json:"id"   validate:"required"`
	Type    string         `json:"type" validate:"required"`
	Name    string         `json:"name" validate:"required"`
	Config  map[string]any `json:"config"`
	Enabled bool           `json:"enabled"`
}
