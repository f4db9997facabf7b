package registry

import (
	"log/slog"

	"github.com/curatorhq/curator/pkg/content"
	"github.com/curatorhq/curator/pkg/steps/query"
	"github.com/curatorhq/curator/pkg/steps/updatemeta"
)

// RegisterDefaultSteps wires the built-in step executors against the given
// content repository.
func RegisterDefaultSteps(r *Registry, pages content.Repository, logger *slog.Logger) {
	r.RegisterStep(query.NewQueryStepFactory(pages))
	r.RegisterStep(updatemeta.NewUpdateMetadataStepFactory(pages, logger))
}
