package content

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPages(r *MemoryRepository) {
	now := time.Now().UTC()

	r.AddPage(&Page{
		ID:              "page-old",
		AccountID:       "acct-1",
		URL:             "https://example.com/guides/2023-review",
		PublishedAt:     now.AddDate(0, 0, -120),
		LastStatusCode:  200,
		Impressions:     5000,
		Clicks:          40,
		EngagementScore: 12.5,
	})
	r.AddPage(&Page{
		ID:              "page-fresh",
		AccountID:       "acct-1",
		URL:             "https://example.com/blog/new-launch",
		PublishedAt:     now.AddDate(0, 0, -10),
		LastStatusCode:  200,
		Impressions:     300,
		Clicks:          30,
		EngagementScore: 44.0,
	})
	r.AddPage(&Page{
		ID:             "page-broken",
		AccountID:      "acct-1",
		URL:            "https://example.com/docs/legacy",
		PublishedAt:    now.AddDate(0, 0, -200),
		LastStatusCode: 404,
		Impressions:    100,
	})
	r.AddPage(&Page{
		ID:              "page-other-account",
		AccountID:       "acct-2",
		URL:             "https://other.example.com/",
		PublishedAt:     now.AddDate(0, 0, -400),
		LastStatusCode:  200,
		EngagementScore: 9.0,
	})
}

func TestMemoryRepository_AgingPages(t *testing.T) {
	r := NewMemoryRepository()
	seedPages(r)

	pages, err := r.AgingPages(context.Background(), "acct-1", 90)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "page-old", pages[0].ID)
}

func TestMemoryRepository_ErrorStatusPages(t *testing.T) {
	r := NewMemoryRepository()
	seedPages(r)

	pages, err := r.ErrorStatusPages(context.Background(), "acct-1", []int{404, 410, 500})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "page-broken", pages[0].ID)
}

func TestMemoryRepository_LowCTRPages(t *testing.T) {
	r := NewMemoryRepository()
	seedPages(r)

	// page-old: 40/5000 = 0.008; page-fresh: 30/300 = 0.1.
	pages, err := r.LowCTRPages(context.Background(), "acct-1", 1000, 0.01)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "page-old", pages[0].ID)
}

func TestMemoryRepository_MetadataLifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	err := r.UpdateMetadata(ctx, "acct-1", "page-old", map[string]any{"category": "Aging"})
	assert.ErrorIs(t, err, ErrMetadataNotFound)

	require.NoError(t, r.CreateMetadata(ctx, "acct-1", "page-old", map[string]any{"category": "Aging"}))
	assert.Equal(t, 1, r.MetadataCount())

	found, err := r.MetadataByPageIDs(ctx, "acct-1", []string{"page-old", "page-fresh"})
	require.NoError(t, err)
	require.Contains(t, found, "page-old")
	assert.NotContains(t, found, "page-fresh")
	assert.Equal(t, "Aging", found["page-old"].Fields["category"])

	createdAt := found["page-old"].CreatedAt

	require.NoError(t, r.UpdateMetadata(ctx, "acct-1", "page-old", map[string]any{"needs_review": true}))

	found, err = r.MetadataByPageIDs(ctx, "acct-1", []string{"page-old"})
	require.NoError(t, err)
	assert.Equal(t, "Aging", found["page-old"].Fields["category"])
	assert.Equal(t, true, found["page-old"].Fields["needs_review"])
	assert.Equal(t, createdAt, found["page-old"].CreatedAt)
	assert.False(t, found["page-old"].UpdatedAt.Before(createdAt))
}

func TestMemoryRepository_AccountScoping(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	seedPages(r)

	require.NoError(t, r.CreateMetadata(ctx, "acct-2", "page-other-account", map[string]any{"category": "Aging"}))

	found, err := r.MetadataByPageIDs(ctx, "acct-1", []string{"page-other-account"})
	require.NoError(t, err)
	assert.Empty(t, found)
}
