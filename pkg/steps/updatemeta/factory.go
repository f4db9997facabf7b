package updatemeta

import (
	"log/slog"

	"github.com/curatorhq/curator/pkg/content"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/protocol"
)

// UpdateMetadataStepFactory creates UpdateMetadataStep instances bound to a
// content repository.
type UpdateMetadataStepFactory struct {
	pages  content.Repository
	logger *slog.Logger
}

func NewUpdateMetadataStepFactory(pages content.Repository, logger *slog.Logger) *UpdateMetadataStepFactory {
	return &UpdateMetadataStepFactory{pages: pages, logger: logger}
}

func (f *UpdateMetadataStepFactory) Create(config map[string]any) (protocol.Step, error) {
	return NewUpdateMetadataStep(f.pages, f.logger, config)
}

func (f *UpdateMetadataStepFactory) ID() string {
	return models.StepTypeUpdateMetadata
}

// Schema returns the JSON schema for update_metadata step configuration.
func (f *UpdateMetadataStepFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source_step": map[string]any{
				"type":        "string",
				"description": "ID of the query step whose matches to update",
				"minLength":   1,
			},
			"updates": map[string]any{
				"type":          "object",
				"description":   "Metadata fields merged into each matched page",
				"minProperties": 1,
			},
		},
		"required": []string{"source_step", "updates"},
	}
}
