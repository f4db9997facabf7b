// Package cmd provides common initialization for the command-line
// binaries: provider selection by URL scheme for persistence, the state
// backend, the content store and the event bus.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/curatorhq/curator/pkg/persistence"
	"github.com/curatorhq/curator/pkg/persistence/file"
	"github.com/curatorhq/curator/pkg/persistence/postgresql"
)

// NewPersistence selects the execution/workflow record store from the
// database URL scheme. Anything that is not postgres is treated as a file
// root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPostgresPersistence(ctx, logger, databaseURL)
	default:
		return file.NewFilePersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parseScheme(url string) string {
	scheme, _, found := strings.Cut(url, "://")
	if !found {
		return ""
	}

	return scheme
}
