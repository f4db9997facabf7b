// Package models defines the core domain models for content-maintenance workflows.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft       WorkflowStatus = "draft"       // Editable, not executable
	WorkflowStatusPublished   WorkflowStatus = "published"   // Current active, executable
	WorkflowStatusUnpublished WorkflowStatus = "unpublished" // Historical, not executable
)

// Connection links two steps in a workflow definition. The editor that
// produces connections lives outside this repository; the runtime only
// consumes them to resolve the linear step chain.
type Connection struct {
	ID   string `json:"id"`
	From string `json:"from" validate:"required"`
	To   string `json:"to"   validate:"required"`
}

// Workflow represents a content-maintenance workflow definition.
type Workflow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Status      WorkflowStatus  `json:"status"      validate:"required"`
	Steps       []*WorkflowStep `json:"steps"`
	Connections []*Connection   `json:"connections"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Owner       string          `json:"owner"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

var (
	ErrEmptyChain    = errors.New("workflow has no steps")
	ErrBranchedChain = errors.New("workflow chain is not linear")
	ErrChainCycle    = errors.New("workflow chain contains a cycle")
)

// StepByID returns the step with the given id, if present.
func (w *Workflow) StepByID(stepID string) (*WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// StepChain resolves the workflow's connections into the linear step
// sequence the runtime executes. Forks, joins and cycles are rejected:
// branching is not part of this execution model.
func (w *Workflow) StepChain() ([]*WorkflowStep, error) {
	if len(w.Steps) == 0 {
		return nil, ErrEmptyChain
	}

	next := make(map[string]string, len(w.Connections))
	hasIncoming := make(map[string]bool, len(w.Connections))

	for _, conn := range w.Connections {
		if _, exists := next[conn.From]; exists {
			return nil, fmt.Errorf("%w: step %s has multiple outgoing connections", ErrBranchedChain, conn.From)
		}

		if hasIncoming[conn.To] {
			return nil, fmt.Errorf("%w: step %s has multiple incoming connections", ErrBranchedChain, conn.To)
		}

		if _, found := w.StepByID(conn.From); !found {
			return nil, fmt.Errorf("connection %s references unknown step %s", conn.ID, conn.From)
		}

		if _, found := w.StepByID(conn.To); !found {
			return nil, fmt.Errorf("connection %s references unknown step %s", conn.ID, conn.To)
		}

		next[conn.From] = conn.To
		hasIncoming[conn.To] = true
	}

	head := ""

	for _, step := range w.Steps {
		if !hasIncoming[step.ID] {
			if head != "" {
				return nil, fmt.Errorf("%w: both %s and %s have no incoming connection", ErrBranchedChain, head, step.ID)
			}

			head = step.ID
		}
	}

	if head == "" {
		return nil, ErrChainCycle
	}

	chain := make([]*WorkflowStep, 0, len(w.Steps))

	for stepID := head; stepID != ""; stepID = next[stepID] {
		step, found := w.StepByID(stepID)
		if !found {
			return nil, fmt.Errorf("step %s not found in workflow %s", stepID, w.ID)
		}

		chain = append(chain, step)
		if len(chain) > len(w.Steps) {
			return nil, ErrChainCycle
		}
	}

	if len(chain) != len(w.Steps) {
		return nil, fmt.Errorf("%w: %d of %d steps reachable from %s", ErrBranchedChain, len(chain), len(w.Steps), head)
	}

	return chain, nil
}
