package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/model"
	"github.com/ohvee/pursecat/internal/prompt"
	"github.com/ohvee/pursecat/internal/service"
)

// categoryIDPattern extracts the category id from an indexed fact string.
var categoryIDPattern = regexp.MustCompile(`with id '(.+?)'`)

// SimilarityConfig configures the nearest-neighbor classifier.
type SimilarityConfig struct {
	// Samples is how many neighbors each purchase is matched against.
	Samples int
	// Threshold is the vote count the winning category must strictly
	// exceed. Zero selects the default Samples-1 (a unanimous vote);
	// negative values let a single vote win.
	Threshold int
	// MinScore is the similarity floor below which neighbors are ignored.
	MinScore float64
	// Parallelism bounds concurrent vector searches.
	Parallelism int
	Retry       service.RetryOptions
}

func (c *SimilarityConfig) applyDefaults() error {
	if c.Samples == 0 {
		c.Samples = 5
	}
	if c.Samples < 0 {
		return common.ConfigError("samples", fmt.Errorf("must be > 0, got %d", c.Samples))
	}
	if c.Threshold == 0 {
		c.Threshold = c.Samples - 1
	}
	if c.Threshold < 0 {
		c.Threshold = 0
	}
	if c.Threshold >= c.Samples {
		return common.ConfigError("threshold", fmt.Errorf("must be < samples (%d), got %d", c.Samples, c.Threshold))
	}
	if c.MinScore == 0 {
		c.MinScore = 0.8
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	return nil
}

// SimilarityClassifier assigns categories by majority vote over the nearest
// indexed facts. It never calls a chat model, so it is cheap to run first;
// purchases without a convincing majority are handed to the RAG classifier.
type SimilarityClassifier struct {
	embedder service.EmbeddingProvider
	store    service.VectorStore
	cfg      SimilarityConfig
}

// NewSimilarityClassifier validates the configuration and builds a classifier.
func NewSimilarityClassifier(embedder service.EmbeddingProvider, store service.VectorStore, cfg SimilarityConfig) (*SimilarityClassifier, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &SimilarityClassifier{embedder: embedder, store: store, cfg: cfg}, nil
}

// Classify splits purchases into those with a confident category assignment
// and those the vote could not resolve. Purchases referencing a category id
// that is not in categories stay unresolved.
func (c *SimilarityClassifier) Classify(ctx context.Context, purchases []model.Purchase, categories []model.PurchaseCategory) (classified, unresolved []model.Purchase, err error) {
	if len(purchases) == 0 {
		return nil, nil, nil
	}

	byID := make(map[string]model.PurchaseCategory, len(categories))
	for _, category := range categories {
		byID[category.ID] = category
	}

	vectors, err := c.embedQueries(ctx, purchases)
	if err != nil {
		return nil, nil, err
	}

	winners := make([]string, len(purchases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for i, p := range purchases {
		g.Go(func() error {
			matches, searchErr := c.store.Search(gctx, vectors[i], c.cfg.Samples, c.cfg.MinScore)
			if searchErr != nil {
				return fmt.Errorf("failed to search for %q: %w", p.Name, searchErr)
			}
			winners[i] = electCategory(matches, c.cfg.Threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for i, p := range purchases {
		category, ok := byID[winners[i]]
		if winners[i] == "" || !ok {
			unresolved = append(unresolved, p)
			continue
		}
		p.AssignCategory(category)
		classified = append(classified, p)
		slog.Debug("classified by similarity", "purchase", p.Name, "category", category.Name)
	}
	return classified, unresolved, nil
}

// embedQueries embeds one search query per distinct purchase name and fans
// the vectors back out, so repeated names cost a single embedding.
func (c *SimilarityClassifier) embedQueries(ctx context.Context, purchases []model.Purchase) ([][]float32, error) {
	queries := make([]string, 0, len(purchases))
	index := make(map[string]int, len(purchases))
	for _, p := range purchases {
		query := prompt.SearchQuery(p.Name)
		if _, ok := index[query]; !ok {
			index[query] = len(queries)
			queries = append(queries, query)
		}
	}

	var embedded [][]float32
	err := common.WithRetry(ctx, func() error {
		var embedErr error
		embedded, embedErr = c.embedder.EmbedBatch(ctx, queries)
		return embedErr
	}, c.cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search queries: %w", err)
	}
	if len(embedded) != len(queries) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(queries), len(embedded))
	}

	vectors := make([][]float32, len(purchases))
	for i, p := range purchases {
		vectors[i] = embedded[index[prompt.SearchQuery(p.Name)]]
	}
	return vectors, nil
}

// electCategory counts votes per category id across the matched facts and
// returns the winner when its count strictly exceeds threshold. Ties break
// to the lexicographically smallest id so repeated runs agree.
func electCategory(matches []service.SearchMatch, threshold int) string {
	votes := make(map[string]int)
	for _, match := range matches {
		groups := categoryIDPattern.FindStringSubmatch(match.Text)
		if groups == nil {
			continue
		}
		votes[groups[1]]++
	}
	if len(votes) == 0 {
		return ""
	}

	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	winner, best := "", 0
	for _, id := range ids {
		if votes[id] > best {
			winner, best = id, votes[id]
		}
	}
	if best <= threshold {
		return ""
	}
	return winner
}
