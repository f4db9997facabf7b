// Package postgresql provides a PostgreSQL persistence implementation
// backed by database/sql and lib/pq.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresPersistence implements persistence.Persistence on PostgreSQL.
type PostgresPersistence struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresPersistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	p := &PostgresPersistence{
		db:     db,
		logger: logger.With("module", "postgresql"),
	}

	if err := p.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return p, nil
}

func (p *PostgresPersistence) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			steps       JSONB NOT NULL DEFAULT '[]',
			connections JSONB NOT NULL DEFAULT '[]',
			metadata    JSONB,
			owner       TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id                 TEXT PRIMARY KEY,
			workflow_id        TEXT NOT NULL,
			account_id         TEXT NOT NULL,
			input              JSONB,
			current_step_id    TEXT,
			completed_step_ids JSONB NOT NULL DEFAULT '[]',
			failed_step_ids    JSONB NOT NULL DEFAULT '[]',
			context_snapshot   JSONB,
			status             TEXT NOT NULL,
			error_message      TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions (workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status)`,
	}

	for _, statement := range statements {
		if _, err := p.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}

	return nil
}

func (p *PostgresPersistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresPersistence) Close(_ context.Context) error {
	return p.db.Close()
}
