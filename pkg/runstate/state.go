// Package runstate implements the runtime state store for in-flight
// workflow executions: a process-external state blob with concurrent reads,
// serialized whole-state writes and a soft/hard checkpoint policy.
package runstate

import (
	"encoding/json"
	"time"

	"github.com/curatorhq/curator/pkg/models"
)

// Event is a lifecycle event descriptor kept for observability only. It is
// never authoritative state and never triggers a snapshot.
type Event struct {
	Type      string    `json:"type"`
	StepID    string    `json:"step_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State is one execution's live progress. Variables maps step ids to their
// stored outputs plus the reserved "input" key; all values are canonicalized
// through a JSON round-trip at the store boundary so the in-memory and
// snapshot-restored representations are identical.
type State struct {
	ExecutionID    string         `json:"execution_id"`
	Cursor         *string        `json:"cursor,omitempty"`
	Variables      map[string]any `json:"variables"`
	CompletedSteps []string       `json:"completed_steps"`
	FailedSteps    []string       `json:"failed_steps"`
	LastEvent      *Event         `json:"last_event,omitempty"`
	LastSnapshotAt time.Time      `json:"last_snapshot_at"`
}

func newState(executionID string, input map[string]any) *State {
	return &State{
		ExecutionID: executionID,
		Variables: map[string]any{
			models.VariableKeyInput: normalize(input),
		},
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		LastSnapshotAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy, so readers never observe a partially applied
// write and the store's lock is never held across I/O.
func (s *State) Clone() *State {
	clone := *s

	clone.Variables = make(map[string]any, len(s.Variables))
	for key, value := range s.Variables {
		clone.Variables[key] = value
	}

	clone.CompletedSteps = append([]string{}, s.CompletedSteps...)
	clone.FailedSteps = append([]string{}, s.FailedSteps...)

	if s.LastEvent != nil {
		event := *s.LastEvent
		clone.LastEvent = &event
	}

	return &clone
}

// StepOutput looks up a step's stored output. Values are normalized on
// write, so a plain lookup is representation-agnostic.
func (s *State) StepOutput(stepID string) map[string]any {
	entry, ok := s.Variables[stepID].(map[string]any)
	if !ok {
		return nil
	}

	output, ok := entry["output"].(map[string]any)
	if !ok {
		return nil
	}

	return output
}

// normalize canonicalizes a value through a JSON round-trip. Values that
// cannot be marshaled are kept as-is; they will fail loudly at snapshot time
// instead of silently diverging between representations.
func normalize(value any) any {
	if value == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value
	}

	var normalized any
	if err := json.Unmarshal(data, &normalized); err != nil {
		return value
	}

	return normalized
}

func normalizeMap(values map[string]any) map[string]any {
	normalized, ok := normalize(values).(map[string]any)
	if !ok {
		return map[string]any{}
	}

	return normalized
}

func contains(list []string, item string) bool {
	for _, candidate := range list {
		if candidate == item {
			return true
		}
	}

	return false
}

func remove(list []string, item string) []string {
	filtered := list[:0]

	for _, candidate := range list {
		if candidate != item {
			filtered = append(filtered, candidate)
		}
	}

	return filtered
}
