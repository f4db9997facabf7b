package postgresql

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests run against a real database when DATABASE_URL is set, e.g.
// DATABASE_URL=postgres://localhost/curator_test?sslmode=disable go test ./...
func newTestPersistence(t *testing.T) *PostgresPersistence {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL tests")
	}

	p, err := NewPostgresPersistence(context.Background(), slog.Default(), databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = p.Close(context.Background())
	})

	return p
}

func TestPostgresPersistence_ExecutionRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	execution := models.NewExecution("wf-pg", "acct-1", map[string]any{"reason": "test"})
	require.NoError(t, p.SaveExecution(ctx, execution))

	loaded, err := p.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.WorkflowID, loaded.WorkflowID)
	assert.Equal(t, models.ExecutionStatusPending, loaded.Status)
}

func TestPostgresPersistence_SaveProgress(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	execution := models.NewExecution("wf-pg", "acct-1", nil)
	require.NoError(t, p.SaveExecution(ctx, execution))

	cursor := "u1"
	err := p.SaveProgress(ctx, execution.ID, persistence.ExecutionProgress{
		CurrentStepID:    &cursor,
		CompletedStepIDs: []string{"q1"},
		FailedStepIDs:    []string{},
		ContextSnapshot:  map[string]any{"q1": map[string]any{"output": map[string]any{"count": float64(1)}}},
	})
	require.NoError(t, err)

	loaded, err := p.ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.CurrentStepID)
	assert.Equal(t, "u1", *loaded.CurrentStepID)
	assert.Equal(t, []string{"q1"}, loaded.CompletedStepIDs)
}

func TestPostgresPersistence_SaveProgressUnknownExecution(t *testing.T) {
	p := newTestPersistence(t)

	err := p.SaveProgress(context.Background(), "exec-does-not-exist", persistence.ExecutionProgress{})
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}
