// Package updatemeta implements the update_metadata step: it applies a
// metadata patch to every page selected by an earlier query step.
package updatemeta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/curatorhq/curator/pkg/content"
	"github.com/curatorhq/curator/pkg/models"
	"github.com/curatorhq/curator/pkg/protocol"
)

// ErrMissingUpdates indicates an empty or absent updates map in the config.
var ErrMissingUpdates = errors.New("update_metadata requires a non-empty updates map")

// UpdateMetadataStep reads the match list produced by a source step and
// merges the configured field updates into each page's metadata record,
// creating records that do not exist yet. Re-invoking the step after a
// crash converges on the same metadata state.
type UpdateMetadataStep struct {
	sourceStepID string
	updates      map[string]any

	pages  content.Repository
	logger *slog.Logger
}

func NewUpdateMetadataStep(pages content.Repository, logger *slog.Logger, config map[string]any) (*UpdateMetadataStep, error) {
	sourceStepID, _ := config["source_step"].(string)
	if sourceStepID == "" {
		return nil, fmt.Errorf("%w: source_step is required", protocol.ErrInvalidStepConfig)
	}

	updates, _ := config["updates"].(map[string]any)
	if len(updates) == 0 {
		return nil, ErrMissingUpdates
	}

	return &UpdateMetadataStep{
		sourceStepID: sourceStepID,
		updates:      updates,
		pages:        pages,
		logger:       logger.With("module", "updatemeta"),
	}, nil
}

func (s *UpdateMetadataStep) Execute(ctx context.Context, execCtx models.ExecutionContext) (map[string]any, error) {
	matches, err := s.resolveMatches(execCtx)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return map[string]any{
			"updated_count": 0,
			"created_count": 0,
			"skipped_count": 0,
			"touched_ids":   []string{},
		}, nil
	}

	existing, err := s.pages.MetadataByPageIDs(ctx, execCtx.AccountID, matches)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata for %d pages: %w", len(matches), err)
	}

	var (
		updated int
		created int
		touched = make([]string, 0, len(matches))
	)

	for _, pageID := range matches {
		if _, ok := existing[pageID]; ok {
			err = s.pages.UpdateMetadata(ctx, execCtx.AccountID, pageID, s.updates)
			if err == nil {
				updated++
			}
		} else {
			err = s.pages.CreateMetadata(ctx, execCtx.AccountID, pageID, s.updates)
			if err == nil {
				created++
			}
		}

		if err != nil {
			return nil, fmt.Errorf("failed to apply metadata to page %s: %w", pageID, err)
		}

		touched = append(touched, pageID)
	}

	s.logger.InfoContext(ctx, "Applied metadata updates",
		"execution_id", execCtx.ExecutionID,
		"source_step", s.sourceStepID,
		"updated", updated,
		"created", created)

	return map[string]any{
		"updated_count": updated,
		"created_count": created,
		"skipped_count": len(matches) - updated - created,
		"touched_ids":   touched,
	}, nil
}

// resolveMatches extracts the source step's matches list from the execution
// context. Outputs restored from a snapshot arrive as []any, fresh outputs
// as []string; both are accepted. A source step that never stored an output
// is a typed failure, but an output without a recognizable matches list
// resolves to an empty set: an empty prior result is a legitimate outcome,
// not a defect.
func (s *UpdateMetadataStep) resolveMatches(execCtx models.ExecutionContext) ([]string, error) {
	output, ok := execCtx.StepOutput(s.sourceStepID)
	if !ok {
		return nil, fmt.Errorf("%w: step %q", protocol.ErrMissingSourceStepData, s.sourceStepID)
	}

	switch raw := output["matches"].(type) {
	case []string:
		return raw, nil
	case []any:
		matches := make([]string, 0, len(raw))

		for _, item := range raw {
			if id, ok := item.(string); ok {
				matches = append(matches, id)
			}
		}

		return matches, nil
	default:
		s.logger.Warn("Source step output has no recognizable matches list, treating as empty",
			"source_step", s.sourceStepID,
			"matches_type", fmt.Sprintf("%T", raw))

		return nil, nil
	}
}
