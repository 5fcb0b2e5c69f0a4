// Package engine contains the purchase classification pipeline: the
// incremental indexer, the similarity and RAG classifiers, and the
// orchestrator that ties them together.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/model"
	"github.com/ohvee/pursecat/internal/prompt"
	"github.com/ohvee/pursecat/internal/service"
)

// DefaultWatermarkKey is the property under which indexing progress is stored.
const DefaultWatermarkKey = "ai.purchases"

// DefaultDimension matches the embedding size of the default providers.
const DefaultDimension = 1024

// IndexerConfig configures an indexing run.
type IndexerConfig struct {
	// WatermarkKey identifies this pipeline in the watermark store.
	WatermarkKey string
	// Dimension is the vector size used when the collection must be created.
	Dimension int
	// PartitionSize is how many entries go into one upsert call.
	PartitionSize int
	// Parallelism bounds concurrent embedding calls.
	Parallelism int
	Retry       service.RetryOptions
	// OnProgress, if set, is called after each purchase is embedded.
	OnProgress func(done, total int)
}

func (c *IndexerConfig) applyDefaults() error {
	if c.WatermarkKey == "" {
		c.WatermarkKey = DefaultWatermarkKey
	}
	if c.Dimension == 0 {
		c.Dimension = DefaultDimension
	}
	if c.Dimension < 0 {
		return common.ConfigError("dimension", fmt.Errorf("must be > 0, got %d", c.Dimension))
	}
	if c.PartitionSize == 0 {
		c.PartitionSize = 5
	}
	if c.PartitionSize < 0 {
		return common.ConfigError("partition_size", fmt.Errorf("must be > 0, got %d", c.PartitionSize))
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	return nil
}

// IndexReport summarizes one indexing run.
type IndexReport struct {
	Watermark time.Time
	Scanned   int
	Indexed   int
	Skipped   int
}

// Indexer keeps the vector collection in sync with the ledger. Each run picks
// up purchases updated since the last watermark, embeds their fact strings,
// and upserts them keyed by purchase id, so re-running is idempotent.
type Indexer struct {
	purchases  service.PurchaseSource
	categories service.CategorySource
	embedder   service.EmbeddingProvider
	store      service.VectorStore
	watermarks service.WatermarkStore
	cfg        IndexerConfig
}

// NewIndexer validates the configuration and builds an Indexer.
func NewIndexer(
	purchases service.PurchaseSource,
	categories service.CategorySource,
	embedder service.EmbeddingProvider,
	store service.VectorStore,
	watermarks service.WatermarkStore,
	cfg IndexerConfig,
) (*Indexer, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Indexer{
		purchases:  purchases,
		categories: categories,
		embedder:   embedder,
		store:      store,
		watermarks: watermarks,
		cfg:        cfg,
	}, nil
}

// Run performs one incremental indexing pass. The watermark only advances
// after the flush succeeds, so a failed run is retried from the same point.
func (ix *Indexer) Run(ctx context.Context) (IndexReport, error) {
	since, found, err := ix.watermarks.Read(ctx, ix.cfg.WatermarkKey)
	if err != nil {
		return IndexReport{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	if !found {
		slog.Info("no watermark found, indexing from the beginning", "key", ix.cfg.WatermarkKey)
	}

	updated, err := ix.purchases.FindUpdatedAfter(ctx, since)
	if err != nil {
		return IndexReport{}, fmt.Errorf("failed to load updated purchases: %w", err)
	}
	report := IndexReport{Watermark: since, Scanned: len(updated)}
	if len(updated) == 0 {
		slog.Info("index is up to date", "watermark", since)
		return report, nil
	}

	if err := ix.ensureCollection(ctx); err != nil {
		return report, err
	}

	entries, skipped, err := ix.embedPurchases(ctx, updated)
	if err != nil {
		return report, err
	}
	report.Skipped = skipped

	for start := 0; start < len(entries); start += ix.cfg.PartitionSize {
		end := start + ix.cfg.PartitionSize
		if end > len(entries) {
			end = len(entries)
		}
		partition := entries[start:end]
		err := common.WithRetry(ctx, func() error {
			return ix.store.Upsert(ctx, partition)
		}, ix.cfg.Retry)
		if err != nil {
			return report, fmt.Errorf("failed to upsert partition: %w", err)
		}
		report.Indexed += len(partition)
	}

	if report.Indexed == 0 {
		slog.Warn("no purchases indexed, keeping watermark", "watermark", since, "skipped", skipped)
		return report, nil
	}

	if err := ix.store.Flush(ctx); err != nil {
		return report, fmt.Errorf("failed to flush vector store: %w", err)
	}

	// Advance only past what actually made it into the index, so a skipped
	// purchase is picked up again on the next run.
	watermark := since
	for _, entry := range entries {
		if t := time.UnixMilli(entry.LastModified).UTC(); t.After(watermark) {
			watermark = t
		}
	}
	if err := ix.watermarks.Write(ctx, ix.cfg.WatermarkKey, watermark); err != nil {
		return report, fmt.Errorf("failed to write watermark: %w", err)
	}
	report.Watermark = watermark

	slog.Info("indexing run complete",
		"scanned", report.Scanned,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"watermark", watermark)
	return report, nil
}

func (ix *Indexer) ensureCollection(ctx context.Context) error {
	exists, err := ix.store.CollectionExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}
	slog.Info("creating vector collection", "dimension", ix.cfg.Dimension)
	if err := ix.store.CreateCollection(ctx, service.CollectionSchema{Dimension: ix.cfg.Dimension}); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// embedPurchases turns categorized purchases into index entries, embedding in
// parallel. A purchase whose category is unknown or whose embedding fails is
// logged and skipped; the watermark only advances over indexed purchases, so
// the next run sees it again unless something newer was indexed.
func (ix *Indexer) embedPurchases(ctx context.Context, purchases []model.Purchase) ([]service.IndexEntry, int, error) {
	lookup := newCategoryLookup(ix.categories)

	type fact struct {
		purchase model.Purchase
		text     string
	}
	facts := make([]fact, 0, len(purchases))
	skipped := 0
	for _, p := range purchases {
		category, err := lookup.byID(ctx, p.Owner, p.CategoryID)
		if err != nil {
			return nil, 0, err
		}
		if category == nil {
			slog.Warn("purchase references unknown category, skipping",
				"purchase", p.ID, "category", p.CategoryID)
			skipped++
			continue
		}
		facts = append(facts, fact{purchase: p, text: prompt.Fact(p, *category)})
	}

	vectors := make([][]float32, len(facts))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Parallelism)
	for i, f := range facts {
		g.Go(func() error {
			var vector []float32
			err := common.WithRetry(gctx, func() error {
				var embedErr error
				vector, embedErr = ix.embedder.Embed(gctx, f.text)
				return embedErr
			}, ix.cfg.Retry)
			if err != nil {
				slog.Warn("failed to embed purchase, skipping",
					"purchase", f.purchase.ID, "error", err)
			} else {
				vectors[i] = vector
			}
			if ix.cfg.OnProgress != nil {
				ix.cfg.OnProgress(int(done.Add(1)), len(facts))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	entries := make([]service.IndexEntry, 0, len(facts))
	for i, f := range facts {
		if vectors[i] == nil {
			skipped++
			continue
		}
		entries = append(entries, service.IndexEntry{
			ID:           f.purchase.ID,
			Text:         f.text,
			Vector:       vectors[i],
			LastModified: f.purchase.UpdatedOn.UnixMilli(),
		})
	}
	return entries, skipped, nil
}

// categoryLookup caches per-owner category listings for the duration of a run.
type categoryLookup struct {
	source  service.CategorySource
	byOwner map[string]map[string]model.PurchaseCategory
}

func newCategoryLookup(source service.CategorySource) *categoryLookup {
	return &categoryLookup{
		source:  source,
		byOwner: make(map[string]map[string]model.PurchaseCategory),
	}
}

func (l *categoryLookup) byID(ctx context.Context, owner, id string) (*model.PurchaseCategory, error) {
	byID, ok := l.byOwner[owner]
	if !ok {
		categories, err := l.source.Categories(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to load categories for %s: %w", owner, err)
		}
		byID = make(map[string]model.PurchaseCategory, len(categories))
		for _, c := range categories {
			byID[c.ID] = c
		}
		l.byOwner[owner] = byID
	}
	if c, ok := byID[id]; ok {
		return &c, nil
	}
	return nil, nil
}
