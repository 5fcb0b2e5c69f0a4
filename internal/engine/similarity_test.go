package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/model"
	"github.com/ohvee/pursecat/internal/service"
	"github.com/ohvee/pursecat/internal/vecstore"
)

func factMatch(categoryID string) service.SearchMatch {
	return service.SearchMatch{
		Text: fmt.Sprintf("Purchase 'x' has category 'X' with id '%s'.", categoryID),
	}
}

func TestElectCategory(t *testing.T) {
	tests := []struct {
		name      string
		matches   []service.SearchMatch
		threshold int
		want      string
	}{
		{
			name:      "unanimous vote wins",
			matches:   []service.SearchMatch{factMatch("c1"), factMatch("c1"), factMatch("c1"), factMatch("c1"), factMatch("c1")},
			threshold: 4,
			want:      "c1",
		},
		{
			name:      "count equal to threshold is not enough",
			matches:   []service.SearchMatch{factMatch("c1"), factMatch("c1"), factMatch("c1"), factMatch("c1"), factMatch("c2")},
			threshold: 4,
			want:      "",
		},
		{
			name:      "split vote below threshold",
			matches:   []service.SearchMatch{factMatch("c1"), factMatch("c1"), factMatch("c1"), factMatch("c2"), factMatch("c2")},
			threshold: 4,
			want:      "",
		},
		{
			name:      "split vote above lowered threshold",
			matches:   []service.SearchMatch{factMatch("c1"), factMatch("c1"), factMatch("c1"), factMatch("c2"), factMatch("c2")},
			threshold: 2,
			want:      "c1",
		},
		{
			name:      "tie breaks to smallest id",
			matches:   []service.SearchMatch{factMatch("c2"), factMatch("c2"), factMatch("c1"), factMatch("c1")},
			threshold: 1,
			want:      "c1",
		},
		{
			name:      "no matches",
			matches:   nil,
			threshold: 1,
			want:      "",
		},
		{
			name:      "facts without an id are not votes",
			matches:   []service.SearchMatch{{Text: "irrelevant text"}, factMatch("c1")},
			threshold: 0,
			want:      "c1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, electCategory(tt.matches, tt.threshold))
		})
	}
}

func seedSimilarityStore(t *testing.T, facts map[string]string) *vecstore.Memory {
	t.Helper()
	store := vecstore.NewMemory()
	require.NoError(t, store.CreateCollection(context.Background(), service.CollectionSchema{Dimension: 4}))

	var entries []service.IndexEntry
	i := 0
	for name, categoryID := range facts {
		i++
		text := fmt.Sprintf("Purchase '%s' has category 'X' with id '%s'.", name, categoryID)
		entries = append(entries, service.IndexEntry{
			ID:     fmt.Sprintf("seed%d-%s", i, name),
			Text:   text,
			Vector: keywordVector(text),
		})
	}
	require.NoError(t, store.Upsert(context.Background(), entries))
	return store
}

func TestSimilarityClassifierAssignsOnMajority(t *testing.T) {
	ctx := context.Background()
	store := seedSimilarityStore(t, map[string]string{
		"coffee beans":   "c1",
		"coffee to go":   "c1",
		"iced coffee":    "c1",
		"coffee grinder": "c1",
		"coffee syrup":   "c1",
		"taxi ride":      "c2",
	})

	classifier, err := NewSimilarityClassifier(newKeywordEmbedder(), store, SimilarityConfig{
		Samples: 5, Threshold: 4, MinScore: 0.8,
	})
	require.NoError(t, err)

	categories := []model.PurchaseCategory{
		{ID: "c1", Owner: "alice", Name: "Groceries"},
		{ID: "c2", Owner: "alice", Name: "Transport"},
	}
	purchases := []model.Purchase{
		{ID: "p1", Owner: "alice", Name: "morning coffee"},
		{ID: "p2", Owner: "alice", Name: "rent for march"},
	}

	classified, unresolved, err := classifier.Classify(ctx, purchases, categories)
	require.NoError(t, err)

	// All five coffee facts vote c1; the taxi fact is orthogonal to the
	// query and never makes the 0.8 floor.
	require.Len(t, classified, 1)
	assert.Equal(t, "p1", classified[0].ID)
	assert.Equal(t, "c1", classified[0].CategoryID)

	require.Len(t, unresolved, 1)
	assert.Equal(t, "p2", unresolved[0].ID)
	assert.False(t, unresolved[0].Categorized())
}

func TestSimilarityClassifierFourOfFiveStaysUnresolved(t *testing.T) {
	ctx := context.Background()
	store := seedSimilarityStore(t, map[string]string{
		"coffee a": "c1",
		"coffee b": "c1",
		"coffee c": "c1",
		"coffee d": "c1",
		"coffee e": "c2",
	})

	// Defaults: five samples, winner must beat four votes.
	classifier, err := NewSimilarityClassifier(newKeywordEmbedder(), store, SimilarityConfig{})
	require.NoError(t, err)

	classified, unresolved, err := classifier.Classify(ctx,
		[]model.Purchase{{ID: "p1", Name: "coffee"}},
		[]model.PurchaseCategory{{ID: "c1"}, {ID: "c2"}})
	require.NoError(t, err)

	assert.Empty(t, classified)
	require.Len(t, unresolved, 1)
}

func TestSimilarityClassifierLeavesSplitVoteUnresolved(t *testing.T) {
	ctx := context.Background()
	// Three facts vote c1, two vote c2; every fact matches the query.
	store := seedSimilarityStore(t, map[string]string{
		"coffee a": "c1",
		"coffee b": "c1",
		"coffee c": "c1",
		"coffee d": "c2",
		"coffee e": "c2",
	})

	classifier, err := NewSimilarityClassifier(newKeywordEmbedder(), store, SimilarityConfig{
		Samples: 5, Threshold: 4, MinScore: 0.8,
	})
	require.NoError(t, err)

	classified, unresolved, err := classifier.Classify(ctx,
		[]model.Purchase{{ID: "p1", Name: "coffee"}},
		[]model.PurchaseCategory{{ID: "c1"}, {ID: "c2"}})
	require.NoError(t, err)

	assert.Empty(t, classified)
	require.Len(t, unresolved, 1)
}

func TestSimilarityClassifierIgnoresUnknownCategories(t *testing.T) {
	ctx := context.Background()
	store := seedSimilarityStore(t, map[string]string{
		"coffee a": "stale",
		"coffee b": "stale",
	})

	classifier, err := NewSimilarityClassifier(newKeywordEmbedder(), store, SimilarityConfig{
		Samples: 5, Threshold: 1, MinScore: 0.8,
	})
	require.NoError(t, err)

	classified, unresolved, err := classifier.Classify(ctx,
		[]model.Purchase{{ID: "p1", Name: "coffee"}},
		[]model.PurchaseCategory{{ID: "c1"}})
	require.NoError(t, err)

	// The winning id no longer exists for this owner.
	assert.Empty(t, classified)
	require.Len(t, unresolved, 1)
}

func TestSimilarityClassifierEmptyInput(t *testing.T) {
	classifier, err := NewSimilarityClassifier(newKeywordEmbedder(), vecstore.NewMemory(), SimilarityConfig{})
	require.NoError(t, err)

	classified, unresolved, err := classifier.Classify(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, classified)
	assert.Empty(t, unresolved)
}

func TestNewSimilarityClassifierValidatesThreshold(t *testing.T) {
	_, err := NewSimilarityClassifier(newKeywordEmbedder(), vecstore.NewMemory(), SimilarityConfig{
		Samples: 3, Threshold: 5,
	})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	// A threshold equal to samples can never be exceeded.
	_, err = NewSimilarityClassifier(newKeywordEmbedder(), vecstore.NewMemory(), SimilarityConfig{
		Samples: 3, Threshold: 3,
	})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}
