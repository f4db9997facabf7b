// Package workflow drives executions through their step chain: it owns the
// per-step loop, the retry policy and the terminal transitions, delegating
// state to the runtime state store and work to the registered step
// executors.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/curatorhq/curator/pkg/eventbus"
	"github.com/curatorhq/curator/pkg/events"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/otelhelper"
	"github.com/curatorhq/curator/pkg/persistence"
	"github.com/curatorhq/curator/pkg/protocol"
	"github.com/curatorhq/curator/pkg/registry"
	"github.com/curatorhq/curator/pkg/runstate"
)

var (
	ErrExecutionFinished = errors.New("execution already reached a terminal state")
	ErrStepFailed        = errors.New("step failed")
)

const (
	// DefaultMaxStepAttempts bounds the retry policy: one retry of the
	// failed step before the execution halts.
	DefaultMaxStepAttempts = 2

	// DefaultSnapshotAttempts bounds retries of a forced snapshot on the
	// terminal path.
	DefaultSnapshotAttempts = 3
)

// Config tunes one orchestrator instance.
type Config struct {
	WorkerID string

	// MaxStepAttempts counts executions of a step including the first;
	// values below 1 fall back to the default.
	MaxStepAttempts int

	// StepTimeout is the per-step wall-clock bound. Zero disables it.
	StepTimeout time.Duration

	SnapshotAttempts int
}

// Orchestrator runs one execution at a time through its workflow's step
// chain. Instances are safe for concurrent Run calls on distinct
// executions; the state store serializes per-execution access.
type Orchestrator struct {
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	states     *runstate.Store
	registry   *registry.Registry
	bus        eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger

	workerID         string
	maxStepAttempts  int
	stepTimeout      time.Duration
	snapshotAttempts int
}

func NewOrchestrator(
	workflows persistence.WorkflowRepository,
	executions persistence.ExecutionRepository,
	states *runstate.Store,
	reg *registry.Registry,
	bus eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.MaxStepAttempts < 1 {
		cfg.MaxStepAttempts = DefaultMaxStepAttempts
	}

	if cfg.SnapshotAttempts < 1 {
		cfg.SnapshotAttempts = DefaultSnapshotAttempts
	}

	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("workflow")
	}

	return &Orchestrator{
		workflows:        workflows,
		executions:       executions,
		states:           states,
		registry:         reg,
		bus:              bus,
		tracer:           tracer,
		logger:           logger.With("module", "workflow"),
		workerID:         cfg.WorkerID,
		maxStepAttempts:  cfg.MaxStepAttempts,
		stepTimeout:      cfg.StepTimeout,
		snapshotAttempts: cfg.SnapshotAttempts,
	}
}

// Run drives the execution to a terminal state, a pause, or an error. A
// pending execution starts fresh; a running or paused one resumes from its
// recovered state, re-running at most the step that was in flight.
func (o *Orchestrator) Run(ctx context.Context, executionID string) error {
	started := time.Now()

	execution, err := o.executions.ExecutionByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if execution.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrExecutionFinished, executionID, execution.Status)
	}

	wf, err := o.workflows.WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", execution.WorkflowID, err)
	}

	chain, err := wf.StepChain()
	if err != nil {
		return fmt.Errorf("workflow %s has no runnable chain: %w", wf.ID, err)
	}

	resumed := execution.Status != models.ExecutionStatusPending

	var handle runstate.Handle
	if resumed {
		handle, err = o.states.Restore(ctx, executionID)
	} else {
		handle, err = o.states.Create(ctx, executionID, execution.Input)
	}

	if err != nil {
		return fmt.Errorf("failed to allocate runtime state for %s: %w", executionID, err)
	}

	if err := o.executions.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusRunning, ""); err != nil {
		return fmt.Errorf("failed to mark execution %s running: %w", executionID, err)
	}

	logger := o.logger.With("execution_id", executionID, "workflow_id", wf.ID)
	logger.InfoContext(ctx, "Starting execution", "resumed", resumed, "steps", len(chain))

	startEvent := events.ExecutionStarted{
		BaseEvent:    o.baseEvent(events.ExecutionStartedEvent, wf.ID, executionID),
		WorkflowName: wf.Name,
		AccountID:    execution.AccountID,
		Resumed:      resumed,
	}
	if first := o.firstPendingStep(handle, chain); first != nil {
		startEvent.StartStepID = first.ID
	}

	o.publish(ctx, executionID, startEvent)

	for _, step := range chain {
		state := o.states.Get(handle)
		if containsStep(state.CompletedSteps, step.ID) {
			continue
		}

		if !step.Enabled {
			logger.InfoContext(ctx, "Step disabled, skipping", "step_id", step.ID)

			continue
		}

		// External cancel/pause requests are honored between steps, never
		// mid-step.
		interrupted, err := o.checkInterrupt(ctx, handle, wf, executionID, step.ID, logger)
		if err != nil {
			return err
		}

		if interrupted {
			return nil
		}

		o.states.SetCursor(ctx, handle, &step.ID)

		output, stepErr := o.runStep(ctx, handle, wf, execution, step, logger)
		if stepErr != nil {
			return o.failExecution(ctx, handle, wf, executionID, step.ID, stepErr, started, logger)
		}

		o.states.StoreStepOutput(ctx, handle, step.ID, output)
		o.states.MarkCompleted(ctx, handle, step.ID)
	}

	return o.completeExecution(ctx, handle, wf, executionID, started, logger)
}

// runStep executes one step with the bounded retry policy. Config and
// unknown-type errors never retry; anything else gets the remaining
// attempts.
func (o *Orchestrator) runStep(
	ctx context.Context,
	handle runstate.Handle,
	wf *models.Workflow,
	execution *models.Execution,
	step *models.WorkflowStep,
	logger *slog.Logger,
) (map[string]any, error) {
	var lastErr error

	for attempt := 1; attempt <= o.maxStepAttempts; attempt++ {
		stepStarted := time.Now()

		startEvent := events.StepStarted{
			BaseEvent: o.baseEvent(events.StepStartedEvent, wf.ID, execution.ID),
			StepID:    step.ID,
			StepType:  step.Type,
			Attempt:   attempt,
		}
		o.publish(ctx, execution.ID, startEvent)
		o.states.RecordEvent(ctx, handle, runstate.Event{
			Type:   string(events.StepStartedEvent),
			StepID: step.ID,
		})

		output, err := o.executeStep(ctx, handle, wf, execution, step)
		if err == nil {
			duration := time.Since(stepStarted)
			logger.InfoContext(ctx, "Step completed", "step_id", step.ID, "attempt", attempt, "duration", duration)

			o.publish(ctx, execution.ID, events.StepCompleted{
				BaseEvent:  o.baseEvent(events.StepCompletedEvent, wf.ID, execution.ID),
				StepID:     step.ID,
				StepType:   step.Type,
				Output:     output,
				DurationMs: duration.Milliseconds(),
			})
			o.states.RecordEvent(ctx, handle, runstate.Event{
				Type:   string(events.StepCompletedEvent),
				StepID: step.ID,
			})

			return output, nil
		}

		lastErr = err
		retryable := !errors.Is(err, protocol.ErrInvalidStepConfig) && !errors.Is(err, protocol.ErrUnknownStepType)
		willRetry := retryable && attempt < o.maxStepAttempts

		logger.ErrorContext(ctx, "Step failed",
			"step_id", step.ID,
			"attempt", attempt,
			"will_retry", willRetry,
			"error", err)

		o.publish(ctx, execution.ID, events.StepFailed{
			BaseEvent:  o.baseEvent(events.StepFailedEvent, wf.ID, execution.ID),
			StepID:     step.ID,
			StepType:   step.Type,
			Error:      err.Error(),
			Attempt:    attempt,
			WillRetry:  willRetry,
			DurationMs: time.Since(stepStarted).Milliseconds(),
		})
		o.states.RecordEvent(ctx, handle, runstate.Event{
			Type:    string(events.StepFailedEvent),
			StepID:  step.ID,
			Message: err.Error(),
		})

		if !willRetry {
			break
		}
	}

	return nil, lastErr
}

// executeStep instantiates and runs one step attempt inside a span, with
// the optional wall-clock timeout. A timeout counts as a failure for retry
// purposes.
func (o *Orchestrator) executeStep(
	ctx context.Context,
	handle runstate.Handle,
	wf *models.Workflow,
	execution *models.Execution,
	step *models.WorkflowStep,
) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "workflow.step",
		attribute.String(otelhelper.WorkflowIDKey, wf.ID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, step.Type),
	)
	defer span.End()

	executor, err := o.registry.CreateStep(step.Type, step.Config)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create step %s: %w", step.ID, err)
	}

	if o.stepTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.stepTimeout)
		defer cancel()
	}

	execCtx := models.ExecutionContext{
		ExecutionID: execution.ID,
		WorkflowID:  wf.ID,
		AccountID:   execution.AccountID,
		Variables:   o.states.Variables(handle),
	}

	output, err := executor.Execute(ctx, execCtx)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return output, nil
}

// checkInterrupt polls the execution record for an external cancel or pause
// request. Poll failures are logged and treated as no request: the record
// store being briefly unavailable must not kill a healthy run.
func (o *Orchestrator) checkInterrupt(
	ctx context.Context,
	handle runstate.Handle,
	wf *models.Workflow,
	executionID, nextStepID string,
	logger *slog.Logger,
) (bool, error) {
	current, err := o.executions.ExecutionByID(ctx, executionID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to poll execution for interrupts", "error", err)

		return false, nil
	}

	switch current.Status {
	case models.ExecutionStatusCancelling:
		return true, o.cancelExecution(ctx, handle, wf, executionID, logger)
	case models.ExecutionStatusPaused:
		return true, o.pauseExecution(ctx, handle, wf, executionID, nextStepID, logger)
	default:
		return false, nil
	}
}

func (o *Orchestrator) completeExecution(
	ctx context.Context,
	handle runstate.Handle,
	wf *models.Workflow,
	executionID string,
	started time.Time,
	logger *slog.Logger,
) error {
	o.states.SetCursor(ctx, handle, nil)

	if err := o.forceSnapshot(ctx, handle); err != nil {
		return fmt.Errorf("failed to persist final snapshot for %s: %w", executionID, err)
	}

	if err := o.executions.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark execution %s completed: %w", executionID, err)
	}

	state := o.states.Get(handle)

	o.publish(ctx, executionID, events.ExecutionCompleted{
		BaseEvent:      o.baseEvent(events.ExecutionCompletedEvent, wf.ID, executionID),
		DurationMs:     time.Since(started).Milliseconds(),
		StepsCompleted: len(state.CompletedSteps),
	})

	logger.InfoContext(ctx, "Execution completed",
		"steps_completed", len(state.CompletedSteps),
		"duration", time.Since(started))

	return o.states.Release(ctx, handle)
}

func (o *Orchestrator) failExecution(
	ctx context.Context,
	handle runstate.Handle,
	wf *models.Workflow,
	executionID, stepID string,
	stepErr error,
	started time.Time,
	logger *slog.Logger,
) error {
	if err := o.states.MarkFailed(ctx, handle, stepID); err != nil {
		// MarkFailed already updated memory; only the forced snapshot can
		// fail, so retry just that.
		if err := o.forceSnapshot(ctx, handle); err != nil {
			logger.ErrorContext(ctx, "Failed to persist failure snapshot", "step_id", stepID, "error", err)
		}
	}

	if err := o.executions.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusFailed, stepErr.Error()); err != nil {
		logger.ErrorContext(ctx, "Failed to mark execution failed", "error", err)
	}

	state := o.states.Get(handle)

	o.publish(ctx, executionID, events.ExecutionFailed{
		BaseEvent:    o.baseEvent(events.ExecutionFailedEvent, wf.ID, executionID),
		FailedStepID: stepID,
		Error:        stepErr.Error(),
		DurationMs:   time.Since(started).Milliseconds(),
	})

	logger.ErrorContext(ctx, "Execution failed",
		"failed_step_id", stepID,
		"last_completed_step_id", lastStep(state.CompletedSteps),
		"error", stepErr)

	if err := o.states.Release(ctx, handle); err != nil {
		logger.WarnContext(ctx, "Failed to release runtime state", "error", err)
	}

	return fmt.Errorf("%w: execution %s halted at step %s: %w", ErrStepFailed, executionID, stepID, stepErr)
}

func (o *Orchestrator) cancelExecution(
	ctx context.Context,
	handle runstate.Handle,
	wf *models.Workflow,
	executionID string,
	logger *slog.Logger,
) error {
	if err := o.forceSnapshot(ctx, handle); err != nil {
		return fmt.Errorf("failed to persist cancellation snapshot for %s: %w", executionID, err)
	}

	if err := o.executions.UpdateExecutionStatus(ctx, executionID, models.ExecutionStatusCancelled, ""); err != nil {
		return fmt.Errorf("failed to mark execution %s cancelled: %w", executionID, err)
	}

	state := o.states.Get(handle)

	o.publish(ctx, executionID, events.ExecutionCancelled{
		BaseEvent:      o.baseEvent(events.ExecutionCancelledEvent, wf.ID, executionID),
		LastStepID:     lastStep(state.CompletedSteps),
		StepsCompleted: len(state.CompletedSteps),
	})

	logger.InfoContext(ctx, "Execution cancelled", "steps_completed", len(state.CompletedSteps))

	return o.states.Release(ctx, handle)
}

// pauseExecution suspends the run. The durable snapshot carries everything
// a later resume needs, so the live blob is released with the rest.
func (o *Orchestrator) pauseExecution(
	ctx context.Context,
	handle runstate.Handle,
	wf *models.Workflow,
	executionID, nextStepID string,
	logger *slog.Logger,
) error {
	if err := o.forceSnapshot(ctx, handle); err != nil {
		return fmt.Errorf("failed to persist pause snapshot for %s: %w", executionID, err)
	}

	o.publish(ctx, executionID, events.ExecutionPaused{
		BaseEvent:      o.baseEvent(events.ExecutionPausedEvent, wf.ID, executionID),
		PausedAtStepID: nextStepID,
	})

	logger.InfoContext(ctx, "Execution paused", "paused_at_step_id", nextStepID)

	return o.states.Release(ctx, handle)
}

func (o *Orchestrator) forceSnapshot(ctx context.Context, handle runstate.Handle) error {
	var err error

	for attempt := 1; attempt <= o.snapshotAttempts; attempt++ {
		if err = o.states.ForceSnapshot(ctx, handle); err == nil {
			return nil
		}
	}

	return err
}

func (o *Orchestrator) baseEvent(eventType events.EventType, workflowID, executionID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, workflowID, executionID)
	base.WorkerID = o.workerID

	return base
}

// publish is nil-safe: orchestrators without a bus just skip notifications.
func (o *Orchestrator) publish(ctx context.Context, key string, event eventbus.Event) {
	if o.bus == nil {
		return
	}

	if err := o.bus.Publish(ctx, key, event); err != nil {
		o.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(),
			"error", err)
	}
}

func (o *Orchestrator) firstPendingStep(handle runstate.Handle, chain []*models.WorkflowStep) *models.WorkflowStep {
	state := o.states.Get(handle)

	for _, step := range chain {
		if !containsStep(state.CompletedSteps, step.ID) {
			return step
		}
	}

	return nil
}

func containsStep(steps []string, stepID string) bool {
	for _, id := range steps {
		if id == stepID {
			return true
		}
	}

	return false
}

func lastStep(steps []string) string {
	if len(steps) == 0 {
		return ""
	}

	return steps[len(steps)-1]
}
