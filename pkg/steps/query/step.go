// Package query implements the query step: a read-only selection of content
// records from a closed set of query kinds.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/curatorhq/curator/pkg/content"
	"github.com/curatorhq/curator/pkg/models"
)

// ErrUnknownQueryKind indicates a query kind outside the closed set.
var ErrUnknownQueryKind = errors.New("unknown query kind")

// Supported query kinds.
const (
	KindAgingPages  = "aging_pages"
	KindErrorStatus = "error_status"
	KindLowCTR      = "low_ctr"
)

// Defaults applied when the config omits a parameter.
const (
	defaultOlderThanDays    = 90
	defaultImpressionsFloor = 1000
	defaultCTRCeiling       = 0.01
)

var defaultStatusCodes = []int{404, 410, 500, 502, 503}

// QueryStep selects pages matching one query kind, scoped to the
// execution's account. It has no side effects and is trivially safe to
// re-invoke after crash recovery.
type QueryStep struct {
	kind             string
	olderThanDays    int
	statusCodes      []int
	impressionsFloor int64
	ctrCeiling       float64

	pages content.Repository
}

func NewQueryStep(pages content.Repository, config map[string]any) (*QueryStep, error) {
	kind, _ := config["query_kind"].(string)

	step := &QueryStep{
		kind:             kind,
		olderThanDays:    intConfig(config, "older_than_days", defaultOlderThanDays),
		statusCodes:      intSliceConfig(config, "status_codes", defaultStatusCodes),
		impressionsFloor: int64(intConfig(config, "impressions_floor", defaultImpressionsFloor)),
		ctrCeiling:       floatConfig(config, "ctr_ceiling", defaultCTRCeiling),
		pages:            pages,
	}

	switch kind {
	case KindAgingPages, KindErrorStatus, KindLowCTR:
		return step, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueryKind, kind)
	}
}

func (s *QueryStep) Execute(ctx context.Context, execCtx models.ExecutionContext) (map[string]any, error) {
	var (
		pages []*content.Page
		err   error
	)

	switch s.kind {
	case KindAgingPages:
		pages, err = s.pages.AgingPages(ctx, execCtx.AccountID, s.olderThanDays)
	case KindErrorStatus:
		pages, err = s.pages.ErrorStatusPages(ctx, execCtx.AccountID, s.statusCodes)
	case KindLowCTR:
		pages, err = s.pages.LowCTRPages(ctx, execCtx.AccountID, s.impressionsFloor, s.ctrCeiling)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueryKind, s.kind)
	}

	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", s.kind, err)
	}

	matches := make([]string, 0, len(pages))
	for _, page := range pages {
		matches = append(matches, page.ID)
	}

	output := map[string]any{
		"matches":    matches,
		"count":      len(matches),
		"query_kind": s.kind,
	}

	// Echo the parameters that shaped the result for later steps and
	// operators inspecting the snapshot.
	switch s.kind {
	case KindAgingPages:
		output["older_than_days"] = s.olderThanDays
	case KindErrorStatus:
		output["status_codes"] = s.statusCodes
	case KindLowCTR:
		output["impressions_floor"] = s.impressionsFloor
		output["ctr_ceiling"] = s.ctrCeiling
	}

	return output, nil
}

func intConfig(config map[string]any, key string, fallback int) int {
	switch value := config[key].(type) {
	case int:
		return value
	case float64:
		return int(value)
	default:
		return fallback
	}
}

func floatConfig(config map[string]any, key string, fallback float64) float64 {
	switch value := config[key].(type) {
	case float64:
		return value
	case int:
		return float64(value)
	default:
		return fallback
	}
}

func intSliceConfig(config map[string]any, key string, fallback []int) []int {
	raw, ok := config[key].([]any)
	if !ok {
		return fallback
	}

	codes := make([]int, 0, len(raw))

	for _, item := range raw {
		switch value := item.(type) {
		case int:
			codes = append(codes, value)
		case float64:
			codes = append(codes, int(value))
		}
	}

	if len(codes) == 0 {
		return fallback
	}

	return codes
}
