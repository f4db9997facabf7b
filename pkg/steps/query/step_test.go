package query

import (
	"context"
	"testing"
	"time"

	"github.com/curatorhq/curator/pkg/content"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureRepository() *content.MemoryRepository {
	now := time.Now().UTC()
	repo := content.NewMemoryRepository()

	repo.AddPage(&content.Page{
		ID:              "page-aging",
		AccountID:       "acct-1",
		URL:             "https://example.com/guides/old",
		PublishedAt:     now.AddDate(0, 0, -120),
		LastStatusCode:  200,
		Impressions:     2000,
		Clicks:          10,
		EngagementScore: 8.2,
	})
	repo.AddPage(&content.Page{
		ID:              "page-fresh",
		AccountID:       "acct-1",
		URL:             "https://example.com/blog/new",
		PublishedAt:     now.AddDate(0, 0, -5),
		LastStatusCode:  200,
		Impressions:     50,
		Clicks:          10,
		EngagementScore: 30.0,
	})

	return repo
}

func execContext() models.ExecutionContext {
	return models.ExecutionContext{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		AccountID:   "acct-1",
	}
}

func TestQueryStep_AgingPages(t *testing.T) {
	step, err := NewQueryStep(fixtureRepository(), map[string]any{
		"query_kind":      KindAgingPages,
		"older_than_days": 90,
	})
	require.NoError(t, err)

	output, err := step.Execute(context.Background(), execContext())
	require.NoError(t, err)

	assert.Equal(t, []string{"page-aging"}, output["matches"])
	assert.Equal(t, 1, output["count"])
	assert.Equal(t, KindAgingPages, output["query_kind"])
	assert.Equal(t, 90, output["older_than_days"])
}

func TestQueryStep_ErrorStatus(t *testing.T) {
	repo := fixtureRepository()
	repo.AddPage(&content.Page{
		ID:             "page-broken",
		AccountID:      "acct-1",
		URL:            "https://example.com/docs/gone",
		PublishedAt:    time.Now().UTC().AddDate(0, 0, -30),
		LastStatusCode: 410,
	})

	step, err := NewQueryStep(repo, map[string]any{
		"query_kind":   KindErrorStatus,
		"status_codes": []any{float64(404), float64(410)},
	})
	require.NoError(t, err)

	output, err := step.Execute(context.Background(), execContext())
	require.NoError(t, err)

	assert.Equal(t, []string{"page-broken"}, output["matches"])
	assert.Equal(t, []int{404, 410}, output["status_codes"])
}

func TestQueryStep_LowCTR(t *testing.T) {
	step, err := NewQueryStep(fixtureRepository(), map[string]any{
		"query_kind":        KindLowCTR,
		"impressions_floor": 1000,
		"ctr_ceiling":       0.01,
	})
	require.NoError(t, err)

	output, err := step.Execute(context.Background(), execContext())
	require.NoError(t, err)

	// page-aging: 10/2000 = 0.005; page-fresh is below the floor.
	assert.Equal(t, []string{"page-aging"}, output["matches"])
	assert.Equal(t, 1, output["count"])
}

func TestQueryStep_NoMatchesIsSuccess(t *testing.T) {
	step, err := NewQueryStep(content.NewMemoryRepository(), map[string]any{
		"query_kind": KindAgingPages,
	})
	require.NoError(t, err)

	output, err := step.Execute(context.Background(), execContext())
	require.NoError(t, err)

	assert.Equal(t, []string{}, output["matches"])
	assert.Equal(t, 0, output["count"])
}

func TestNewQueryStep_UnknownKind(t *testing.T) {
	_, err := NewQueryStep(content.NewMemoryRepository(), map[string]any{
		"query_kind": "popular_pages",
	})
	assert.ErrorIs(t, err, ErrUnknownQueryKind)
}

func TestNewQueryStep_MissingKind(t *testing.T) {
	_, err := NewQueryStep(content.NewMemoryRepository(), map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownQueryKind)
}
