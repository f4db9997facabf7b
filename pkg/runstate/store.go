package runstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/persistence"
)

// Handle identifies one execution's live state in the store. A handle is
// only valid between Create/Restore and Release; using an invalid handle is
// a programming error and panics.
type Handle string

var (
	ErrStateExists = errors.New("runtime state already allocated")

	// ErrInputReserved guards the invariant that variables["input"] is set
	// once at creation and never overwritten.
	ErrInputReserved = errors.New(`variable key "input" is reserved`)
)

type entry struct {
	mu    sync.RWMutex
	state *State
}

// Store holds live execution state. Reads are concurrent; writes are whole-
// state read-modify-write cycles under a per-handle lock that is never held
// across step or snapshot I/O.
type Store struct {
	mu      sync.RWMutex
	entries map[Handle]*entry

	backend      Backend
	executions   persistence.ExecutionRepository
	checkpointer *Checkpointer
	logger       *slog.Logger
}

func NewStore(backend Backend, executions persistence.ExecutionRepository, checkpointer *Checkpointer, logger *slog.Logger) *Store {
	return &Store{
		entries:      make(map[Handle]*entry),
		backend:      backend,
		executions:   executions,
		checkpointer: checkpointer,
		logger:       logger.With("module", "runstate"),
	}
}

// Create allocates a fresh state blob seeded with the execution's input.
func (s *Store) Create(ctx context.Context, executionID string, input map[string]any) (Handle, error) {
	handle := Handle(executionID)

	state := newState(executionID, input)
	if err := s.track(handle, state); err != nil {
		return "", err
	}

	s.syncBackend(ctx, state)

	return handle, nil
}

// Restore rehydrates an execution's state after a crash. The live backend
// blob wins when present (it is at least as fresh as any durable snapshot);
// otherwise the execution record's last persisted snapshot seeds the state,
// and an execution that never snapshotted restarts from its stored input.
func (s *Store) Restore(ctx context.Context, executionID string) (Handle, error) {
	handle := Handle(executionID)

	if state, err := s.backend.Load(ctx, executionID); err == nil {
		if err := s.track(handle, state); err != nil {
			return "", err
		}

		return handle, nil
	} else if !errors.Is(err, ErrStateNotFound) {
		s.logger.WarnContext(ctx, "State backend unavailable, falling back to durable snapshot",
			"execution_id", executionID,
			"error", err,
		)
	}

	execution, err := s.executions.ExecutionByID(ctx, executionID)
	if err != nil {
		return "", fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	var state *State

	if len(execution.ContextSnapshot) > 0 {
		state = &State{
			ExecutionID:    executionID,
			Cursor:         execution.CurrentStepID,
			Variables:      normalizeMap(execution.ContextSnapshot),
			CompletedSteps: append([]string{}, execution.CompletedStepIDs...),
			FailedSteps:    append([]string{}, execution.FailedStepIDs...),
			LastSnapshotAt: time.Now().UTC(),
		}
	} else {
		state = newState(executionID, execution.Input)
	}

	if err := s.track(handle, state); err != nil {
		return "", err
	}

	s.syncBackend(ctx, state)

	return handle, nil
}

// Get returns a consistent copy of the current state. It panics on an
// invalid handle: a valid handle must always have been created first, so
// this is a broken invariant rather than a recoverable condition.
func (s *Store) Get(handle Handle) *State {
	e := s.entry(handle)

	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.state.Clone()
}

// SetCursor updates the step cursor. nil means not started or past the
// final step.
func (s *Store) SetCursor(ctx context.Context, handle Handle, stepID *string) {
	s.mutate(ctx, handle, func(state *State) error {
		state.Cursor = stepID

		return nil
	})
}

// StoreStepOutput inserts variables[stepID] = {"output": output} and gives
// the checkpoint policy its soft-snapshot chance.
func (s *Store) StoreStepOutput(ctx context.Context, handle Handle, stepID string, output map[string]any) {
	s.mutate(ctx, handle, func(state *State) error {
		state.Variables[stepID] = map[string]any{"output": normalize(output)}

		return nil
	})

	s.maybeSnapshot(ctx, handle)
}

// StepOutput returns a prior step's output, or nil when the step has not
// stored one.
func (s *Store) StepOutput(handle Handle, stepID string) map[string]any {
	return s.Get(handle).StepOutput(stepID)
}

// Variables returns the full variable map for interpolation across all
// prior step outputs plus the original input.
func (s *Store) Variables(handle Handle) map[string]any {
	return s.Get(handle).Variables
}

// UpdateVariable writes ad-hoc state (loop index, iteration element)
// outside the step-output convention.
func (s *Store) UpdateVariable(ctx context.Context, handle Handle, key string, value any) error {
	return s.mutate(ctx, handle, func(state *State) error {
		if key == models.VariableKeyInput {
			return ErrInputReserved
		}

		state.Variables[key] = normalize(value)

		return nil
	})
}

// MarkCompleted records a successful step and gives the checkpoint policy
// its soft-snapshot chance. A step id lives in at most one of the
// completed/failed lists, so a re-run of a previously failed step moves it.
func (s *Store) MarkCompleted(ctx context.Context, handle Handle, stepID string) {
	s.mutate(ctx, handle, func(state *State) error {
		state.FailedSteps = remove(state.FailedSteps, stepID)
		if !contains(state.CompletedSteps, stepID) {
			state.CompletedSteps = append(state.CompletedSteps, stepID)
		}

		return nil
	})

	s.maybeSnapshot(ctx, handle)
}

// MarkFailed records a failed step and forces a snapshot: failures decide
// whether the pipeline halts and must never be lost to the soft interval.
func (s *Store) MarkFailed(ctx context.Context, handle Handle, stepID string) error {
	s.mutate(ctx, handle, func(state *State) error {
		state.CompletedSteps = remove(state.CompletedSteps, stepID)
		if !contains(state.FailedSteps, stepID) {
			state.FailedSteps = append(state.FailedSteps, stepID)
		}

		return nil
	})

	return s.ForceSnapshot(ctx, handle)
}

// RecordEvent stores the most recent lifecycle event descriptor. It never
// triggers a snapshot.
func (s *Store) RecordEvent(ctx context.Context, handle Handle, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mutate(ctx, handle, func(state *State) error {
		state.LastEvent = &event

		return nil
	})
}

// ForceSnapshot persists the current state unconditionally. Callers invoke
// it on failure, pause, cancellation, completion and before Release.
func (s *Store) ForceSnapshot(ctx context.Context, handle Handle) error {
	return s.persistSnapshot(ctx, handle, s.Get(handle))
}

// Release frees the state blob. Only valid after the execution reached a
// terminal state or was suspended, with its final snapshot confirmed
// persisted.
func (s *Store) Release(ctx context.Context, handle Handle) error {
	e := s.entry(handle)

	s.mu.Lock()
	delete(s.entries, handle)
	s.mu.Unlock()

	e.mu.RLock()
	executionID := e.state.ExecutionID
	e.mu.RUnlock()

	return s.backend.Delete(ctx, executionID)
}

func (s *Store) track(handle Handle, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[handle]; exists {
		return fmt.Errorf("%w: %s", ErrStateExists, handle)
	}

	s.entries[handle] = &entry{state: state}

	return nil
}

func (s *Store) entry(handle Handle) *entry {
	s.mu.RLock()
	e, ok := s.entries[handle]
	s.mu.RUnlock()

	if !ok {
		panic(fmt.Sprintf("runstate: invalid handle %q", handle))
	}

	return e
}

// mutate applies fn as one whole-state read-modify-write under the handle's
// write lock, then syncs the result to the backend outside the lock.
func (s *Store) mutate(ctx context.Context, handle Handle, fn func(*State) error) error {
	e := s.entry(handle)

	e.mu.Lock()

	if err := fn(e.state); err != nil {
		e.mu.Unlock()

		return err
	}

	snapshot := e.state.Clone()
	e.mu.Unlock()

	s.syncBackend(ctx, snapshot)

	return nil
}

// syncBackend mirrors the state blob to the process-external backend. A
// sync failure is logged, not fatal: the in-memory state stays authoritative
// and the next write retries the mirror.
func (s *Store) syncBackend(ctx context.Context, state *State) {
	if err := s.backend.Save(ctx, state.ExecutionID, state); err != nil {
		s.logger.WarnContext(ctx, "Failed to sync state to backend",
			"execution_id", state.ExecutionID,
			"error", err,
		)
	}
}

func (s *Store) maybeSnapshot(ctx context.Context, handle Handle) {
	state := s.Get(handle)
	if !s.checkpointer.ShouldSnapshot(state) {
		return
	}

	// Soft trigger: a failed persist is not surfaced, LastSnapshotAt stays
	// put and the next trigger retries sooner.
	_ = s.persistSnapshot(ctx, handle, state)
}

func (s *Store) persistSnapshot(ctx context.Context, handle Handle, state *State) error {
	if err := s.checkpointer.Persist(ctx, state); err != nil {
		return err
	}

	persistedAt := time.Now().UTC()

	s.mutate(ctx, handle, func(current *State) error {
		current.LastSnapshotAt = persistedAt

		return nil
	})

	return nil
}
