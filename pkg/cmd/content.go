package cmd

import (
	"context"
	"log/slog"

	"github.com/curatorhq/curator/pkg/content"
)

// NewContentRepository selects the external content record store. The
// memory repository only suits tests and local experiments; production
// deployments point at postgres.
func NewContentRepository(ctx context.Context, logger *slog.Logger, databaseURL string) (content.Repository, error) {
	switch parseScheme(databaseURL) {
	case "postgres", "postgresql":
		return content.NewPostgresRepository(ctx, logger, databaseURL)
	default:
		return content.NewMemoryRepository(), nil
	}
}
