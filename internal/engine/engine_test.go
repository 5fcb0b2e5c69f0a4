package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohvee/pursecat/internal/model"
	"github.com/ohvee/pursecat/internal/vecstore"
)

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("hybrid")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, mode)

	mode, err = ParseMode("rag")
	require.NoError(t, err)
	assert.Equal(t, ModeRAG, mode)

	_, err = ParseMode("psychic")
	assert.Error(t, err)
}

// buildTestEngine indexes the given history and wires an engine around it.
func buildTestEngine(t *testing.T, chat *stubChat, history []model.Purchase, toClassify []model.Purchase) *Engine {
	t.Helper()
	ctx := context.Background()

	categories := testCategories()
	store := vecstore.NewMemory()
	embedder := newKeywordEmbedder()

	indexer, err := NewIndexer(&stubPurchaseSource{purchases: history}, categories,
		embedder, store, newMemWatermarks(), IndexerConfig{Dimension: 4})
	require.NoError(t, err)
	report, err := indexer.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, len(history), report.Indexed)

	// The seeded history holds one fact per keyword, so let one vote win.
	similarity, err := NewSimilarityClassifier(embedder, store, SimilarityConfig{
		Samples: 5, Threshold: -1, MinScore: 0.8,
	})
	require.NoError(t, err)
	rag, err := NewRagClassifier(embedder, chat, store, RagConfig{})
	require.NoError(t, err)

	all := append(append([]model.Purchase{}, history...), toClassify...)
	return NewEngine(&stubPurchaseSource{purchases: all}, categories, similarity, rag, 0)
}

func TestEngineHybridUsesIndexBeforeModel(t *testing.T) {
	history := []model.Purchase{
		categorizedPurchase("p1", "morning coffee", "c1", testBase),
		categorizedPurchase("p2", "taxi downtown", "c2", testBase.Add(time.Minute)),
	}
	toClassify := []model.Purchase{
		{ID: "p3", Owner: "alice", Name: "coffee beans"},
		{ID: "p4", Owner: "alice", Name: "taxi to airport"},
	}

	chat := &stubChat{} // any chat call fails the test
	eng := buildTestEngine(t, chat, history, toClassify)

	classified, err := eng.ClassifyIDs(context.Background(), "alice", []string{"p3", "p4"}, ModeHybrid)
	require.NoError(t, err)

	require.Len(t, classified, 2)
	byID := make(map[string]string)
	for _, p := range classified {
		byID[p.ID] = p.CategoryID
	}
	assert.Equal(t, "c1", byID["p3"])
	assert.Equal(t, "c2", byID["p4"])
	assert.Equal(t, 0, chat.callCount())
}

func TestEngineHybridFallsBackToModel(t *testing.T) {
	history := []model.Purchase{
		categorizedPurchase("p1", "morning coffee", "c1", testBase),
	}
	toClassify := []model.Purchase{
		{ID: "p3", Owner: "alice", Name: "opera tickets"},
	}

	chat := &stubChat{responses: []string{
		`[{"purchaseId":"purchase1","categoryId":"category2","categoryName":"Transport"}]`,
	}}
	eng := buildTestEngine(t, chat, history, toClassify)

	classified, err := eng.ClassifyIDs(context.Background(), "alice", []string{"p3"}, ModeHybrid)
	require.NoError(t, err)

	require.Len(t, classified, 1)
	assert.Equal(t, "p3", classified[0].ID)
	assert.Equal(t, "c2", classified[0].CategoryID)
	assert.Equal(t, 1, chat.callCount())
}

func TestEngineRagModeSendsWholeBatchAtOnce(t *testing.T) {
	var toClassify []model.Purchase
	var ids []string
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("p%d", i+10)
		ids = append(ids, id)
		toClassify = append(toClassify, model.Purchase{ID: id, Owner: "alice", Name: fmt.Sprintf("item %d", i)})
	}

	chat := &stubChat{responses: []string{`[]`}}
	eng := buildTestEngine(t, chat,
		[]model.Purchase{categorizedPurchase("p1", "morning coffee", "c1", testBase)},
		toClassify)

	result, err := eng.ClassifyIDs(context.Background(), "alice", ids, ModeRAG)
	require.NoError(t, err)

	// The whole batch goes to the model in one call and comes back
	// untouched when the model resolves nothing.
	assert.Equal(t, 1, chat.callCount())
	require.Len(t, result, 7)
	for _, p := range result {
		assert.False(t, p.Categorized())
	}
}

func TestEngineHybridChunksModelFallback(t *testing.T) {
	var toClassify []model.Purchase
	var ids []string
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("p%d", i+10)
		ids = append(ids, id)
		toClassify = append(toClassify, model.Purchase{ID: id, Owner: "alice", Name: fmt.Sprintf("item %d", i)})
	}

	chat := &stubChat{responses: []string{`[]`, `[]`}}
	eng := buildTestEngine(t, chat,
		[]model.Purchase{categorizedPurchase("p1", "morning coffee", "c1", testBase)},
		toClassify)

	result, err := eng.ClassifyIDs(context.Background(), "alice", ids, ModeHybrid)
	require.NoError(t, err)

	// Seven similarity leftovers reach the model in chunks of five.
	assert.Equal(t, 2, chat.callCount())
	require.Len(t, result, 7)
	for _, p := range result {
		assert.False(t, p.Categorized())
	}
}

func TestEngineReturnsUnresolvedUntouched(t *testing.T) {
	history := []model.Purchase{
		categorizedPurchase("p1", "morning coffee", "c1", testBase),
	}
	toClassify := []model.Purchase{
		{ID: "p3", Owner: "alice", Name: "coffee beans"},
		{ID: "p4", Owner: "alice", Name: "opera tickets"},
	}

	chat := &stubChat{responses: []string{`[]`}}
	eng := buildTestEngine(t, chat, history, toClassify)

	result, err := eng.ClassifyIDs(context.Background(), "alice", []string{"p3", "p4"}, ModeHybrid)
	require.NoError(t, err)

	// Both purchases come back: one resolved, one untouched.
	require.Len(t, result, 2)
	byID := make(map[string]model.Purchase)
	for _, p := range result {
		byID[p.ID] = p
	}
	assert.Equal(t, "c1", byID["p3"].CategoryID)
	p4 := byID["p4"]
	assert.False(t, p4.Categorized())
}

func TestEngineEmptyInput(t *testing.T) {
	chat := &stubChat{}
	eng := buildTestEngine(t, chat,
		[]model.Purchase{categorizedPurchase("p1", "morning coffee", "c1", testBase)}, nil)

	classified, err := eng.Classify(context.Background(), "alice", nil, ModeHybrid)
	require.NoError(t, err)
	assert.Empty(t, classified)
}

func TestEngineRejectsUnknownMode(t *testing.T) {
	chat := &stubChat{}
	eng := buildTestEngine(t, chat,
		[]model.Purchase{categorizedPurchase("p1", "morning coffee", "c1", testBase)}, nil)

	_, err := eng.Classify(context.Background(), "alice",
		[]model.Purchase{{ID: "p3", Owner: "alice", Name: "coffee"}}, Mode("psychic"))
	assert.Error(t, err)
}
