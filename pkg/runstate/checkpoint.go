package runstate

import (
	"context"
	"log/slog"
	"time"

	"github.com/curatorhq/curator/pkg/persistence"
)

// DefaultSnapshotInterval is the soft-snapshot gate: amortizes durable
// writes across the many small variable updates within a single step.
const DefaultSnapshotInterval = 5 * time.Second

// Checkpointer decides when an execution's live state is flushed into its
// durable execution record, and performs the flush.
type Checkpointer struct {
	executions persistence.ExecutionRepository
	interval   time.Duration
	logger     *slog.Logger
}

func NewCheckpointer(executions persistence.ExecutionRepository, interval time.Duration, logger *slog.Logger) *Checkpointer {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}

	return &Checkpointer{
		executions: executions,
		interval:   interval,
		logger:     logger.With("module", "checkpointer"),
	}
}

// ShouldSnapshot reports whether the soft-snapshot interval has elapsed
// since the state's last successful durable write.
func (c *Checkpointer) ShouldSnapshot(state *State) bool {
	return time.Since(state.LastSnapshotAt) >= c.interval
}

// Persist writes the cursor, completed/failed lists and the full variable
// map into the execution record. The caller's in-memory state is never
// rolled back on failure: it is always strictly more current than the last
// successful durable write.
func (c *Checkpointer) Persist(ctx context.Context, state *State) error {
	progress := persistence.ExecutionProgress{
		CurrentStepID:    state.Cursor,
		CompletedStepIDs: state.CompletedSteps,
		FailedStepIDs:    state.FailedSteps,
		ContextSnapshot:  state.Variables,
	}

	if err := c.executions.SaveProgress(ctx, state.ExecutionID, progress); err != nil {
		c.logger.ErrorContext(ctx, "Failed to persist snapshot",
			"execution_id", state.ExecutionID,
			"error", err,
		)

		return err
	}

	return nil
}
