// Package content defines the external content record store boundary the
// reference steps operate on: pages under management and the metadata rows
// maintenance pipelines maintain for them.
package content

import (
	"context"
	"errors"
	"time"
)

// ErrMetadataNotFound indicates no metadata row exists for a page.
var ErrMetadataNotFound = errors.New("page metadata not found")

// Page is one content record under management. Engagement and traffic
// fields are maintained by external ingestion, the runtime only reads them.
type Page struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	PublishedAt     time.Time `json:"published_at"`
	LastStatusCode  int       `json:"last_status_code"`
	Impressions     int64     `json:"impressions"`
	Clicks          int64     `json:"clicks"`
	EngagementScore float64   `json:"engagement_score"`
}

// CTR returns the page's click-through rate, zero when there are no
// impressions.
func (p *Page) CTR() float64 {
	if p.Impressions == 0 {
		return 0
	}

	return float64(p.Clicks) / float64(p.Impressions)
}

// PageMetadata is the mutable maintenance payload attached to a page.
type PageMetadata struct {
	PageID    string         `json:"page_id"`
	AccountID string         `json:"account_id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Repository is the narrow surface the step executors consume. All lookups
// are scoped to one account.
type Repository interface {
	// AgingPages returns pages published more than olderThanDays ago that
	// still carry nonzero historical engagement.
	AgingPages(ctx context.Context, accountID string, olderThanDays int) ([]*Page, error)

	// ErrorStatusPages returns pages whose last known status code is in
	// statusCodes.
	ErrorStatusPages(ctx context.Context, accountID string, statusCodes []int) ([]*Page, error)

	// LowCTRPages returns pages with at least impressionsFloor impressions
	// and a click-through rate at or below ctrCeiling.
	LowCTRPages(ctx context.Context, accountID string, impressionsFloor int64, ctrCeiling float64) ([]*Page, error)

	// MetadataByPageIDs returns the existing metadata rows for the given
	// pages, keyed by page id. Pages without a row are simply absent.
	MetadataByPageIDs(ctx context.Context, accountID string, pageIDs []string) (map[string]*PageMetadata, error)

	// UpdateMetadata merges fields into an existing metadata row and bumps
	// its updated-at timestamp. ErrMetadataNotFound when no row exists.
	UpdateMetadata(ctx context.Context, accountID, pageID string, fields map[string]any) error

	// CreateMetadata inserts a metadata row carrying the given fields.
	CreateMetadata(ctx context.Context, accountID, pageID string, fields map[string]any) error
}
