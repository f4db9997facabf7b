package query

import (
	"github.com/curatorhq/curator/pkg/content"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/protocol"
)

// QueryStepFactory creates QueryStep instances bound to a content
// repository.
type QueryStepFactory struct {
	pages content.Repository
}

func NewQueryStepFactory(pages content.Repository) *QueryStepFactory {
	return &QueryStepFactory{pages: pages}
}

func (f *QueryStepFactory) Create(config map[string]any) (protocol.Step, error) {
	return NewQueryStep(f.pages, config)
}

func (f *QueryStepFactory) ID() string {
	return models.StepTypeQuery
}

// Schema returns the JSON schema for query step configuration.
func (f *QueryStepFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query_kind": map[string]any{
				"type":        "string",
				"description": "Which selection to run against the content store",
				"enum":        []string{KindAgingPages, KindErrorStatus, KindLowCTR},
			},
			"older_than_days": map[string]any{
				"type":        "integer",
				"description": "aging_pages: minimum age in days since publication",
				"minimum":     1,
				"default":     defaultOlderThanDays,
			},
			"status_codes": map[string]any{
				"type":        "array",
				"description": "error_status: status codes that mark a page as broken",
				"items":       map[string]any{"type": "integer"},
			},
			"impressions_floor": map[string]any{
				"type":        "integer",
				"description": "low_ctr: minimum impressions before CTR is meaningful",
				"minimum":     1,
				"default":     defaultImpressionsFloor,
			},
			"ctr_ceiling": map[string]any{
				"type":        "number",
				"description": "low_ctr: click-through-rate at or below which a page matches",
				"default":     defaultCTRCeiling,
			},
		},
		"required": []string{"query_kind"},
	}
}
