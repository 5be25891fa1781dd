// Package feedback applies reviewer corrections to a finalized draft.
package feedback

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/expense-extractor/constants"
	"github.com/joseph-ayodele/expense-extractor/internal/common"
	"github.com/joseph-ayodele/expense-extractor/internal/entity"
	"github.com/joseph-ayodele/expense-extractor/internal/storage"
)

type Handler struct {
	store  storage.Store
	prefix string
	logger *slog.Logger
}

func NewHandler(store storage.Store, prefix string, logger *slog.Logger) *Handler {
	if prefix == "" {
		prefix = constants.DefaultArtifactPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, prefix: prefix, logger: logger}
}

// ApplyFeedback rewrites the final artifact from final_draft.json with every
// correction whose key already exists at the top level of the draft. Other
// keys, including deep paths like "MasrafAlt[0].Miktar", are ignored.
// It reports false when the draft cannot be loaded, parsed or written.
func (h *Handler) ApplyFeedback(ctx context.Context, requestID string, c entity.Corrections) bool {
	logger := common.LoggerFromContext(ctx, h.logger).With("request_id", requestID)
	keys := constants.ArtifactKeys{Prefix: h.prefix, RequestID: requestID}

	var draft map[string]any
	if err := storage.GetJSON(ctx, h.store, keys.FinalDraft(), &draft); err != nil {
		logger.Warn("feedback.load.failed", "error", err)
		return false
	}

	final, _ := draft["final"].(map[string]any)
	if final == nil {
		final = map[string]any{}
	}

	applied, ignored := 0, 0
	for k, v := range c.Fields {
		if _, ok := final[k]; ok {
			final[k] = v
			applied++
		} else {
			ignored++
		}
	}
	if c.Instructions != "" {
		logger.Info("feedback.instructions", "text", c.Instructions)
	}

	out := map[string]any{
		"final":      final,
		"flags":      []entity.ConflictFlag{},
		"confidence": constants.ConfidenceCorrected,
	}
	if err := storage.PutJSON(ctx, h.store, keys.Final(), out); err != nil {
		logger.Error("feedback.store.failed", "error", err)
		return false
	}
	logger.Info("feedback.applied", "applied", applied, "ignored", ignored)
	return true
}
