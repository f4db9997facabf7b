// Package events defines the lifecycle notifications emitted while an
// execution runs. Consumers (dashboards, audit sinks) subscribe to these;
// durability never depends on them.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every execution lifecycle event.
const Topic = "curator.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionPausedEvent    EventType = "execution.paused"

	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

type ExecutionStarted struct {
	BaseEvent

	WorkflowName string `json:"workflow_name"`
	AccountID    string `json:"account_id"`
	Resumed      bool   `json:"resumed"`
	StartStepID  string `json:"start_step_id,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	DurationMs     int64 `json:"duration_ms"`
	StepsCompleted int   `json:"steps_completed"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	FailedStepID string `json:"failed_step_id"`
	Error        string `json:"error"`
	DurationMs   int64  `json:"duration_ms"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	LastStepID     string `json:"last_step_id,omitempty"`
	StepsCompleted int    `json:"steps_completed"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

type ExecutionPaused struct {
	BaseEvent

	PausedAtStepID string `json:"paused_at_step_id,omitempty"`
}

func (e ExecutionPaused) GetType() EventType {
	return ExecutionPausedEvent
}

type StepStarted struct {
	BaseEvent

	StepID   string `json:"step_id"`
	StepType string `json:"step_type"`
	Attempt  int    `json:"attempt"`
}

func (e StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepCompleted struct {
	BaseEvent

	StepID     string         `json:"step_id"`
	StepType   string         `json:"step_type"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepID     string `json:"step_id"`
	StepType   string `json:"step_type"`
	Error      string `json:"error"`
	Attempt    int    `json:"attempt"`
	WillRetry  bool   `json:"will_retry"`
	DurationMs int64  `json:"duration_ms"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}
