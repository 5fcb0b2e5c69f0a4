// Package service defines the capability interfaces the classification
// pipeline is built against.
package service

import (
	"context"
	"time"

	"github.com/ohvee/pursecat/internal/model"
)

// IndexEntry is a single vector store row. The primary key is the purchase
// identifier; upserts with the same key replace the previous row.
type IndexEntry struct {
	ID           string
	Text         string
	Vector       []float32
	LastModified int64
}

// SearchMatch is one ranked hit from a similarity search.
type SearchMatch struct {
	ID           string
	Text         string
	Score        float64
	LastModified int64
}

// CollectionSchema fixes the collection layout at creation time. The vector
// dimension cannot change after the collection exists.
type CollectionSchema struct {
	Dimension int
}

// VectorStore stores embedded fact strings and serves similarity queries.
type VectorStore interface {
	CollectionExists(ctx context.Context) (bool, error)
	CreateCollection(ctx context.Context, schema CollectionSchema) error
	Upsert(ctx context.Context, entries []IndexEntry) error
	Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]SearchMatch, error)
	Flush(ctx context.Context) error
}

// EmbeddingProvider turns text into a fixed-dimension float vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, preserving order 1:1.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatProvider produces one or more candidate completions for a prompt.
// Calls are stateless; no chat memory is kept between them.
type ChatProvider interface {
	Complete(ctx context.Context, prompt string) ([]string, error)
}

// PurchaseSource reads purchases from the ledger.
type PurchaseSource interface {
	// FindUpdatedAfter returns purchases with a non-nil category updated
	// strictly after t.
	FindUpdatedAfter(ctx context.Context, t time.Time) ([]model.Purchase, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.Purchase, error)
}

// CategorySource lists the categories visible to an owner.
type CategorySource interface {
	Categories(ctx context.Context, owner string) ([]model.PurchaseCategory, error)
}

// WatermarkStore persists per-pipeline indexing progress. Read reports
// whether a watermark has ever been written for the key.
type WatermarkStore interface {
	Read(ctx context.Context, key string) (time.Time, bool, error)
	Write(ctx context.Context, key string, t time.Time) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
