package content

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository for tests and local
// development.
type MemoryRepository struct {
	mu       sync.RWMutex
	pages    map[string]*Page         // keyed by page id
	metadata map[string]*PageMetadata // keyed by account id + page id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		pages:    make(map[string]*Page),
		metadata: make(map[string]*PageMetadata),
	}
}

func metadataKey(accountID, pageID string) string {
	return accountID + "/" + pageID
}

// AddPage seeds a page fixture.
func (r *MemoryRepository) AddPage(page *Page) {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *page
	r.pages[page.ID] = &copied
}

// MetadataCount reports the total number of metadata rows, for idempotency
// assertions in tests.
func (r *MemoryRepository) MetadataCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.metadata)
}

func (r *MemoryRepository) selectPages(accountID string, match func(*Page) bool) []*Page {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var selected []*Page

	for _, page := range r.pages {
		if page.AccountID != accountID || !match(page) {
			continue
		}

		copied := *page
		selected = append(selected, &copied)
	}

	return selected
}

func (r *MemoryRepository) AgingPages(_ context.Context, accountID string, olderThanDays int) ([]*Page, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	return r.selectPages(accountID, func(page *Page) bool {
		return page.PublishedAt.Before(cutoff) && page.EngagementScore > 0
	}), nil
}

func (r *MemoryRepository) ErrorStatusPages(_ context.Context, accountID string, statusCodes []int) ([]*Page, error) {
	codes := make(map[int]bool, len(statusCodes))
	for _, code := range statusCodes {
		codes[code] = true
	}

	return r.selectPages(accountID, func(page *Page) bool {
		return codes[page.LastStatusCode]
	}), nil
}

func (r *MemoryRepository) LowCTRPages(_ context.Context, accountID string, impressionsFloor int64, ctrCeiling float64) ([]*Page, error) {
	return r.selectPages(accountID, func(page *Page) bool {
		return page.Impressions >= impressionsFloor && page.CTR() <= ctrCeiling
	}), nil
}

func (r *MemoryRepository) MetadataByPageIDs(_ context.Context, accountID string, pageIDs []string) (map[string]*PageMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := make(map[string]*PageMetadata)

	for _, pageID := range pageIDs {
		if metadata, ok := r.metadata[metadataKey(accountID, pageID)]; ok {
			copied := *metadata
			found[pageID] = &copied
		}
	}

	return found, nil
}

func (r *MemoryRepository) UpdateMetadata(_ context.Context, accountID, pageID string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	metadata, ok := r.metadata[metadataKey(accountID, pageID)]
	if !ok {
		return fmt.Errorf("%w: page %s", ErrMetadataNotFound, pageID)
	}

	for key, value := range fields {
		metadata.Fields[key] = value
	}

	metadata.UpdatedAt = time.Now().UTC()

	return nil
}

func (r *MemoryRepository) CreateMetadata(_ context.Context, accountID, pageID string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()

	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}

	r.metadata[metadataKey(accountID, pageID)] = &PageMetadata{
		PageID:    pageID,
		AccountID: accountID,
		Fields:    copied,
		CreatedAt: now,
		UpdatedAt: now,
	}

	return nil
}
