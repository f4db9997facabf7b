package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresRepository(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	r := &PostgresRepository{
		db:     db,
		logger: logger.With("module", "content"),
	}

	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return r, nil
}

func (r *PostgresRepository) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL,
			url              TEXT NOT NULL,
			title            TEXT NOT NULL DEFAULT '',
			published_at     TIMESTAMPTZ NOT NULL,
			last_status_code INT NOT NULL DEFAULT 200,
			impressions      BIGINT NOT NULL DEFAULT 0,
			clicks           BIGINT NOT NULL DEFAULT 0,
			engagement_score DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_account_id ON pages (account_id)`,
		`CREATE TABLE IF NOT EXISTS page_metadata (
			page_id    TEXT NOT NULL,
			account_id TEXT NOT NULL,
			fields     JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (account_id, page_id)
		)`,
	}

	for _, statement := range statements {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}

	return nil
}

const pageColumns = `id, account_id, url, title, published_at, last_status_code, impressions, clicks, engagement_score`

func (r *PostgresRepository) queryPages(ctx context.Context, query string, args ...any) ([]*Page, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("page query failed: %w", err)
	}
	defer rows.Close()

	var pages []*Page

	for rows.Next() {
		var page Page

		err := rows.Scan(
			&page.ID,
			&page.AccountID,
			&page.URL,
			&page.Title,
			&page.PublishedAt,
			&page.LastStatusCode,
			&page.Impressions,
			&page.Clicks,
			&page.EngagementScore,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}

		pages = append(pages, &page)
	}

	return pages, rows.Err()
}

func (r *PostgresRepository) AgingPages(ctx context.Context, accountID string, olderThanDays int) ([]*Page, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	query := `
		SELECT ` + pageColumns + `
		FROM pages
		WHERE account_id = $1 AND published_at < $2 AND engagement_score > 0
		ORDER BY published_at
	`

	return r.queryPages(ctx, query, accountID, cutoff)
}

func (r *PostgresRepository) ErrorStatusPages(ctx context.Context, accountID string, statusCodes []int) ([]*Page, error) {
	codes := make([]int64, len(statusCodes))
	for i, code := range statusCodes {
		codes[i] = int64(code)
	}

	query := `
		SELECT ` + pageColumns + `
		FROM pages
		WHERE account_id = $1 AND last_status_code = ANY($2)
		ORDER BY id
	`

	return r.queryPages(ctx, query, accountID, pq.Array(codes))
}

func (r *PostgresRepository) LowCTRPages(ctx context.Context, accountID string, impressionsFloor int64, ctrCeiling float64) ([]*Page, error) {
	query := `
		SELECT ` + pageColumns + `
		FROM pages
		WHERE account_id = $1
		  AND impressions >= $2
		  AND clicks::float / impressions <= $3
		ORDER BY id
	`

	return r.queryPages(ctx, query, accountID, impressionsFloor, ctrCeiling)
}

func (r *PostgresRepository) MetadataByPageIDs(ctx context.Context, accountID string, pageIDs []string) (map[string]*PageMetadata, error) {
	if len(pageIDs) == 0 {
		return map[string]*PageMetadata{}, nil
	}

	query := `
		SELECT page_id, account_id, fields, created_at, updated_at
		FROM page_metadata
		WHERE account_id = $1 AND page_id = ANY($2)
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, pq.Array(pageIDs))
	if err != nil {
		return nil, fmt.Errorf("metadata query failed: %w", err)
	}
	defer rows.Close()

	found := make(map[string]*PageMetadata)

	for rows.Next() {
		var (
			metadata   PageMetadata
			fieldsJSON []byte
		)

		err := rows.Scan(&metadata.PageID, &metadata.AccountID, &fieldsJSON, &metadata.CreatedAt, &metadata.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}

		if err := json.Unmarshal(fieldsJSON, &metadata.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata fields: %w", err)
		}

		found[metadata.PageID] = &metadata
	}

	return found, rows.Err()
}

func (r *PostgresRepository) UpdateMetadata(ctx context.Context, accountID, pageID string, fields map[string]any) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata fields: %w", err)
	}

	query := `
		UPDATE page_metadata
		SET fields = fields || $3, updated_at = now()
		WHERE account_id = $1 AND page_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, accountID, pageID, fieldsJSON)
	if err != nil {
		return fmt.Errorf("failed to update metadata for page %s: %w", pageID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: page %s", ErrMetadataNotFound, pageID)
	}

	return nil
}

func (r *PostgresRepository) CreateMetadata(ctx context.Context, accountID, pageID string, fields map[string]any) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata fields: %w", err)
	}

	// Upsert keeps re-invoked steps idempotent even when two creations race.
	query := `
		INSERT INTO page_metadata (page_id, account_id, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, page_id) DO UPDATE SET
			fields = page_metadata.fields || EXCLUDED.fields,
			updated_at = now()
	`

	if _, err := r.db.ExecContext(ctx, query, pageID, accountID, fieldsJSON); err != nil {
		return fmt.Errorf("failed to create metadata for page %s: %w", pageID, err)
	}

	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
