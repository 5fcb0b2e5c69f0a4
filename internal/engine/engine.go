package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/model"
	"github.com/ohvee/pursecat/internal/service"
)

// Mode selects the classification strategy.
type Mode string

const (
	// ModeHybrid tries the similarity vote first and only sends the
	// leftovers to the chat model.
	ModeHybrid Mode = "hybrid"
	// ModeRAG sends every purchase to the chat model.
	ModeRAG Mode = "rag"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHybrid, ModeRAG:
		return Mode(s), nil
	default:
		return "", common.ConfigError("mode", fmt.Errorf("unknown mode %q", s))
	}
}

// defaultChunkSize bounds how many purchases share one chat prompt. Larger
// chunks save calls but make the model lose track of individual items.
const defaultChunkSize = 5

// Engine orchestrates the two classifiers over a batch of purchases.
type Engine struct {
	purchases  service.PurchaseSource
	categories service.CategorySource
	similarity *SimilarityClassifier
	rag        *RagClassifier
	chunkSize  int
}

// NewEngine builds the orchestrator. chunkSize <= 0 selects the default.
func NewEngine(
	purchases service.PurchaseSource,
	categories service.CategorySource,
	similarity *SimilarityClassifier,
	rag *RagClassifier,
	chunkSize int,
) *Engine {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Engine{
		purchases:  purchases,
		categories: categories,
		similarity: similarity,
		rag:        rag,
		chunkSize:  chunkSize,
	}
}

// ClassifyIDs loads the purchases by id and classifies them. Unknown ids are
// silently absent from the result.
func (e *Engine) ClassifyIDs(ctx context.Context, owner string, ids []string, mode Mode) ([]model.Purchase, error) {
	purchases, err := e.purchases.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchases: %w", err)
	}
	return e.Classify(ctx, owner, purchases, mode)
}

// Classify assigns categories to the given purchases. The result is the
// whole batch: resolved purchases carry their new category, and purchases
// neither classifier could place come back untouched, so callers tell them
// apart by inspecting the category field.
func (e *Engine) Classify(ctx context.Context, owner string, purchases []model.Purchase, mode Mode) ([]model.Purchase, error) {
	if len(purchases) == 0 {
		return nil, nil
	}

	categories, err := e.categories.Categories(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	var classified, remaining []model.Purchase
	switch mode {
	case ModeHybrid:
		classified, remaining, err = e.similarity.Classify(ctx, purchases, categories)
		if err != nil {
			return nil, err
		}
		slog.Info("similarity pass complete",
			"classified", len(classified), "remaining", len(remaining))

		// Only the similarity leftovers go to the model, a few at a time.
		for start := 0; start < len(remaining); start += e.chunkSize {
			end := start + e.chunkSize
			if end > len(remaining) {
				end = len(remaining)
			}
			chunk, err := e.rag.Classify(ctx, remaining[start:end], categories)
			if err != nil {
				return nil, err
			}
			classified = append(classified, chunk...)
		}
	case ModeRAG:
		remaining = purchases
		classified, err = e.rag.Classify(ctx, purchases, categories)
		if err != nil {
			return nil, err
		}
	default:
		return nil, common.ConfigError("mode", fmt.Errorf("unknown mode %q", mode))
	}

	resolved := make(map[string]bool, len(classified))
	for _, p := range classified {
		resolved[p.ID] = true
	}
	result := classified
	for _, p := range remaining {
		if !resolved[p.ID] {
			result = append(result, p)
		}
	}

	slog.Info("classification complete",
		"requested", len(purchases), "classified", len(classified), "mode", mode)
	return result, nil
}
