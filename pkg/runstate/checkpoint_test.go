package runstate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/curatorhq/curator/pkg/mocks"
	"github.com/curatorhq/curator/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCheckpointerShouldSnapshot(t *testing.T) {
	checkpointer := NewCheckpointer(&mocks.MockExecutionRepository{}, time.Minute, slog.Default())

	fresh := &State{LastSnapshotAt: time.Now().UTC()}
	assert.False(t, checkpointer.ShouldSnapshot(fresh))

	stale := &State{LastSnapshotAt: time.Now().UTC().Add(-2 * time.Minute)}
	assert.True(t, checkpointer.ShouldSnapshot(stale))
}

func TestCheckpointerDefaultInterval(t *testing.T) {
	checkpointer := NewCheckpointer(&mocks.MockExecutionRepository{}, 0, slog.Default())

	assert.Equal(t, DefaultSnapshotInterval, checkpointer.interval)
}

func TestCheckpointerPersist_MapsStateToProgress(t *testing.T) {
	repo := &mocks.MockExecutionRepository{}
	repo.On("SaveProgress", mock.Anything, "exec-1", mock.Anything).Return(nil)

	checkpointer := NewCheckpointer(repo, time.Minute, slog.Default())

	cursor := "u1"
	state := &State{
		ExecutionID:    "exec-1",
		Cursor:         &cursor,
		Variables:      map[string]any{"q1": map[string]any{"output": map[string]any{"count": float64(1)}}},
		CompletedSteps: []string{"q1"},
		FailedSteps:    []string{},
	}

	require.NoError(t, checkpointer.Persist(context.Background(), state))

	progress := repo.Calls[0].Arguments.Get(2).(persistence.ExecutionProgress)
	require.NotNil(t, progress.CurrentStepID)
	assert.Equal(t, "u1", *progress.CurrentStepID)
	assert.Equal(t, []string{"q1"}, progress.CompletedStepIDs)
	assert.Contains(t, progress.ContextSnapshot, "q1")
}

func TestCheckpointerPersist_PropagatesError(t *testing.T) {
	repo := &mocks.MockExecutionRepository{}
	repo.On("SaveProgress", mock.Anything, "exec-1", mock.Anything).Return(assert.AnError)

	checkpointer := NewCheckpointer(repo, time.Minute, slog.Default())

	err := checkpointer.Persist(context.Background(), &State{ExecutionID: "exec-1"})
	assert.ErrorIs(t, err, assert.AnError)
}
