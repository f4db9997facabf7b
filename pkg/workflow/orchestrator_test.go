package workflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/curatorhq/curator/pkg/content"
	"github.com/curatorhq/curator/pkg/eventbus"
	"github.com/curatorhq/curator/pkg/events"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/persistence/file"
	"github.com/curatorhq/curator/pkg/protocol"
	"github.com/curatorhq/curator/pkg/registry"
	"github.com/curatorhq/curator/pkg/runstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) types() []events.EventType {
	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type harness struct {
	persistence *file.FilePersistence
	pages       *content.MemoryRepository
	registry    *registry.Registry
	states      *runstate.Store
	bus         *capturePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.Default()
	store := file.NewFilePersistence(t.TempDir())
	pages := content.NewMemoryRepository()

	reg := registry.NewRegistry(logger)
	registry.RegisterDefaultSteps(reg, pages, logger)

	checkpointer := runstate.NewCheckpointer(store, time.Hour, logger)
	states := runstate.NewStore(runstate.NewMemoryBackend(), store, checkpointer, logger)

	return &harness{
		persistence: store,
		pages:       pages,
		registry:    reg,
		states:      states,
		bus:         &capturePublisher{},
	}
}

func (h *harness) orchestrator(cfg Config) *Orchestrator {
	return NewOrchestrator(h.persistence, h.persistence, h.states, h.registry, h.bus, nil, slog.Default(), cfg)
}

func (h *harness) seedAgingPages(ids ...string) {
	for _, id := range ids {
		h.pages.AddPage(&content.Page{
			ID:              id,
			AccountID:       "acct-1",
			URL:             "https://example.com/" + id,
			PublishedAt:     time.Now().UTC().AddDate(0, 0, -120),
			LastStatusCode:  200,
			Impressions:     1500,
			Clicks:          10,
			EngagementScore: 7.5,
		})
	}
}

func twoStepWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:     "wf-1",
		Name:   "Flag aging content",
		Status: models.WorkflowStatusPublished,
		Steps: []*models.WorkflowStep{
			{
				ID:   "q1",
				Type: models.StepTypeQuery,
				Name: "Find aging pages",
				Config: map[string]any{
					"query_kind":      "aging_pages",
					"older_than_days": 90,
				},
				Enabled: true,
			},
			{
				ID:   "u1",
				Type: models.StepTypeUpdateMetadata,
				Name: "Flag for review",
				Config: map[string]any{
					"source_step": "q1",
					"updates":     map[string]any{"category": "Aging"},
				},
				Enabled: true,
			},
		},
		Connections: []*models.Connection{
			{ID: "c1", From: "q1", To: "u1"},
		},
	}
}

func (h *harness) startExecution(t *testing.T, wf *models.Workflow) *models.Execution {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, h.persistence.SaveWorkflow(ctx, wf))

	execution := models.NewExecution(wf.ID, "acct-1", map[string]any{"requested_by": "ops"})
	require.NoError(t, h.persistence.SaveExecution(ctx, execution))

	return execution
}

func TestOrchestrator_RunCompletesChain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedAgingPages("page-1", "page-2")

	execution := h.startExecution(t, twoStepWorkflow())

	require.NoError(t, h.orchestrator(Config{WorkerID: "worker-1"}).Run(ctx, execution.ID))

	stored, err := h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, []string{"q1", "u1"}, stored.CompletedStepIDs)
	assert.Empty(t, stored.FailedStepIDs)
	assert.Nil(t, stored.CurrentStepID)

	q1, ok := stored.ContextSnapshot["q1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), q1["output"].(map[string]any)["count"])

	u1, ok := stored.ContextSnapshot["u1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), u1["output"].(map[string]any)["created_count"])

	assert.Equal(t, 2, h.pages.MetadataCount())

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.ExecutionCompletedEvent,
	}, h.bus.types())
}

func TestOrchestrator_FailureHaltsChain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := twoStepWorkflow()
	wf.Steps[0].Type = "send_email"
	execution := h.startExecution(t, wf)

	err := h.orchestrator(Config{}).Run(ctx, execution.ID)
	require.ErrorIs(t, err, ErrStepFailed)

	stored, storeErr := h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, storeErr)

	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, []string{"q1"}, stored.FailedStepIDs)
	assert.Empty(t, stored.CompletedStepIDs)
	assert.NotEmpty(t, stored.ErrorMessage)

	// The chain halted before u1, so no metadata was written.
	assert.Equal(t, 0, h.pages.MetadataCount())
}

func TestOrchestrator_ConfigErrorsDoNotRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := twoStepWorkflow()
	wf.Steps[0].Config = map[string]any{}
	execution := h.startExecution(t, wf)

	err := h.orchestrator(Config{MaxStepAttempts: 3}).Run(ctx, execution.ID)
	require.ErrorIs(t, err, ErrStepFailed)
	assert.ErrorIs(t, err, protocol.ErrInvalidStepConfig)

	started := 0

	for _, event := range h.bus.events {
		if event.GetType() == events.StepStartedEvent {
			started++
		}
	}

	assert.Equal(t, 1, started)
}

type flakyStep struct {
	failures *int
}

func (s *flakyStep) Execute(context.Context, models.ExecutionContext) (map[string]any, error) {
	if *s.failures > 0 {
		*s.failures--

		return nil, errors.New("transient store hiccup")
	}

	return map[string]any{"ok": true}, nil
}

type flakyFactory struct {
	failures int
}

func (f *flakyFactory) Create(map[string]any) (protocol.Step, error) {
	return &flakyStep{failures: &f.failures}, nil
}

func (f *flakyFactory) ID() string { return "flaky" }

func (f *flakyFactory) Schema() map[string]any { return nil }

func singleStepWorkflow(stepType string) *models.Workflow {
	return &models.Workflow{
		ID:     "wf-flaky",
		Name:   "Retry exercise",
		Status: models.WorkflowStatusPublished,
		Steps: []*models.WorkflowStep{
			{ID: "s1", Type: stepType, Name: "Flaky", Config: map[string]any{}, Enabled: true},
		},
	}
}

func TestOrchestrator_RetriesFailedStepOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.registry.RegisterStep(&flakyFactory{failures: 1})

	execution := h.startExecution(t, singleStepWorkflow("flaky"))

	require.NoError(t, h.orchestrator(Config{MaxStepAttempts: 2}).Run(ctx, execution.ID))

	stored, err := h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, []string{"s1"}, stored.CompletedStepIDs)
	assert.Empty(t, stored.FailedStepIDs)

	assert.Equal(t, []events.EventType{
		events.ExecutionStartedEvent,
		events.StepStartedEvent,
		events.StepFailedEvent,
		events.StepStartedEvent,
		events.StepCompletedEvent,
		events.ExecutionCompletedEvent,
	}, h.bus.types())
}

func TestOrchestrator_RetriesExhaustedFailsExecution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.registry.RegisterStep(&flakyFactory{failures: 10})

	execution := h.startExecution(t, singleStepWorkflow("flaky"))

	err := h.orchestrator(Config{MaxStepAttempts: 2}).Run(ctx, execution.ID)
	require.ErrorIs(t, err, ErrStepFailed)

	stored, storeErr := h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, storeErr)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, []string{"s1"}, stored.FailedStepIDs)
}

// interruptingStep flips the execution record to the given status while it
// runs, so the orchestrator's between-step poll sees an external request.
type interruptingStep struct {
	h           *harness
	executionID string
	status      models.ExecutionStatus
}

func (s *interruptingStep) Execute(ctx context.Context, _ models.ExecutionContext) (map[string]any, error) {
	err := s.h.persistence.UpdateExecutionStatus(ctx, s.executionID, s.status, "")

	return map[string]any{"ok": true}, err
}

type interruptingFactory struct {
	h           *harness
	executionID string
	id          string
	status      models.ExecutionStatus
}

func (f *interruptingFactory) Create(map[string]any) (protocol.Step, error) {
	return &interruptingStep{h: f.h, executionID: f.executionID, status: f.status}, nil
}

func (f *interruptingFactory) ID() string { return f.id }

func (f *interruptingFactory) Schema() map[string]any { return nil }

func TestOrchestrator_CancellationBetweenSteps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := twoStepWorkflow()
	wf.Steps[0] = &models.WorkflowStep{
		ID: "q1", Type: "request_cancel", Name: "Cancel requester",
		Config: map[string]any{}, Enabled: true,
	}
	execution := h.startExecution(t, wf)

	h.registry.RegisterStep(&interruptingFactory{
		h: h, executionID: execution.ID,
		id: "request_cancel", status: models.ExecutionStatusCancelling,
	})

	require.NoError(t, h.orchestrator(Config{}).Run(ctx, execution.ID))

	stored, err := h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.Equal(t, []string{"q1"}, stored.CompletedStepIDs)

	// u1 never ran.
	assert.NotContains(t, stored.ContextSnapshot, "u1")
	assert.Equal(t, events.ExecutionCancelledEvent, h.bus.events[len(h.bus.events)-1].GetType())
}

func TestOrchestrator_PauseBetweenStepsAndResume(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := twoStepWorkflow()
	wf.Steps[0] = &models.WorkflowStep{
		ID: "q1", Type: "request_pause", Name: "Pause requester",
		Config: map[string]any{}, Enabled: true,
	}
	execution := h.startExecution(t, wf)

	h.registry.RegisterStep(&interruptingFactory{
		h: h, executionID: execution.ID,
		id: "request_pause", status: models.ExecutionStatusPaused,
	})

	require.NoError(t, h.orchestrator(Config{}).Run(ctx, execution.ID))

	stored, err := h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)

	// The run suspended before u1 with q1's work snapshotted.
	assert.Equal(t, models.ExecutionStatusPaused, stored.Status)
	assert.Equal(t, []string{"q1"}, stored.CompletedStepIDs)
	assert.Contains(t, stored.ContextSnapshot, "q1")
	assert.NotContains(t, stored.ContextSnapshot, "u1")

	last := h.bus.events[len(h.bus.events)-1]
	paused, ok := last.(events.ExecutionPaused)
	require.True(t, ok)
	assert.Equal(t, "u1", paused.PausedAtStepID)

	// Resume restores from the durable snapshot: q1 is not re-run and the
	// chain finishes.
	require.NoError(t, h.persistence.UpdateExecutionStatus(ctx, execution.ID, models.ExecutionStatusRunning, ""))
	require.NoError(t, h.orchestrator(Config{}).Run(ctx, execution.ID))

	stored, err = h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, []string{"q1", "u1"}, stored.CompletedStepIDs)
	assert.Contains(t, stored.ContextSnapshot, "u1")
}

type countingFactory struct {
	executions int
}

func (f *countingFactory) Create(map[string]any) (protocol.Step, error) {
	return stepFunc(func(context.Context, models.ExecutionContext) (map[string]any, error) {
		f.executions++

		return map[string]any{"run": f.executions}, nil
	}), nil
}

func (f *countingFactory) ID() string { return "counting" }

func (f *countingFactory) Schema() map[string]any { return nil }

type stepFunc func(context.Context, models.ExecutionContext) (map[string]any, error)

func (fn stepFunc) Execute(ctx context.Context, execCtx models.ExecutionContext) (map[string]any, error) {
	return fn(ctx, execCtx)
}

func TestOrchestrator_ResumeSkipsCompletedSteps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedAgingPages("page-1")

	counting := &countingFactory{}
	h.registry.RegisterStep(counting)

	wf := twoStepWorkflow()
	wf.Steps[0] = &models.WorkflowStep{
		ID: "q1", Type: "counting", Name: "Counted",
		Config: map[string]any{}, Enabled: true,
	}
	wf.Steps[1] = &models.WorkflowStep{
		ID: "u1", Type: "counting", Name: "Counted too",
		Config: map[string]any{}, Enabled: true,
	}
	execution := h.startExecution(t, wf)

	require.NoError(t, h.orchestrator(Config{}).Run(ctx, execution.ID))
	assert.Equal(t, 2, counting.executions)

	// Simulate the supervisor re-dispatching a run that already completed
	// q1: the durable record says running with q1 done.
	require.NoError(t, h.persistence.UpdateExecutionStatus(ctx, execution.ID, models.ExecutionStatusRunning, ""))

	resumeErr := h.orchestrator(Config{}).Run(ctx, execution.ID)
	require.NoError(t, resumeErr)

	stored, err := h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, []string{"q1", "u1"}, stored.CompletedStepIDs)

	// Both steps were already completed in the snapshot, so the resume ran
	// nothing new.
	assert.Equal(t, 2, counting.executions)
}

func TestOrchestrator_TerminalExecutionRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	execution := h.startExecution(t, twoStepWorkflow())
	require.NoError(t, h.persistence.UpdateExecutionStatus(ctx, execution.ID, models.ExecutionStatusCompleted, ""))

	err := h.orchestrator(Config{}).Run(ctx, execution.ID)
	assert.ErrorIs(t, err, ErrExecutionFinished)
}

func TestOrchestrator_DisabledStepsAreSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seedAgingPages("page-1")

	wf := twoStepWorkflow()
	wf.Steps[1].Enabled = false
	execution := h.startExecution(t, wf)

	require.NoError(t, h.orchestrator(Config{}).Run(ctx, execution.ID))

	stored, err := h.persistence.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Equal(t, []string{"q1"}, stored.CompletedStepIDs)
	assert.Equal(t, 0, h.pages.MetadataCount())
}
