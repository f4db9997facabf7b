package cmd

import (
	"context"

	"github.com/curatorhq/curator/pkg/runstate"
)

// NewStateBackend selects the process-external state backend. Redis keeps
// live state blobs across worker restarts; the memory backend serves tests
// and single-process setups.
func NewStateBackend(ctx context.Context, backendURL string) (runstate.Backend, error) {
	switch parseScheme(backendURL) {
	case "redis", "rediss":
		return runstate.NewRedisBackend(ctx, backendURL, runstate.DefaultStateTTL)
	default:
		return runstate.NewMemoryBackend(), nil
	}
}
