// Package vecstore provides the vector store implementations backing the
// purchase category index.
package vecstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/service"
)

// Memory is an in-memory vector store using brute-force cosine similarity.
// Upserts are idempotent on the entry ID. Intended for tests and small
// single-process deployments.
type Memory struct {
	rows   map[string]service.IndexEntry
	order  []string
	schema *service.CollectionSchema
	mu     sync.RWMutex
}

// NewMemory creates an empty in-memory store with no collection.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]service.IndexEntry)}
}

// CollectionExists reports whether CreateCollection has been called.
func (m *Memory) CollectionExists(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema != nil, nil
}

// CreateCollection fixes the vector dimension for the store.
func (m *Memory) CreateCollection(_ context.Context, schema service.CollectionSchema) error {
	if schema.Dimension <= 0 {
		return common.ConfigError("dimension", fmt.Errorf("must be > 0, got %d", schema.Dimension))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema = &schema
	return nil
}

// Upsert inserts or replaces entries by ID.
func (m *Memory) Upsert(_ context.Context, entries []service.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.schema == nil {
		return fmt.Errorf("collection does not exist")
	}
	for _, entry := range entries {
		if len(entry.Vector) != m.schema.Dimension {
			return fmt.Errorf("vector dimension mismatch: want %d, got %d", m.schema.Dimension, len(entry.Vector))
		}
	}
	for _, entry := range entries {
		if _, exists := m.rows[entry.ID]; !exists {
			m.order = append(m.order, entry.ID)
		}
		m.rows[entry.ID] = entry
	}
	return nil
}

// Search returns up to topK entries with cosine similarity >= minScore,
// ranked by descending score. Equal scores keep insertion order.
func (m *Memory) Search(_ context.Context, vector []float32, topK int, minScore float64) ([]service.SearchMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if topK <= 0 {
		topK = 5
	}

	matches := make([]service.SearchMatch, 0, topK)
	for _, id := range m.order {
		row := m.rows[id]
		score := cosine(vector, row.Vector)
		if score < minScore {
			continue
		}
		matches = append(matches, service.SearchMatch{
			ID:           row.ID,
			Text:         row.Text,
			Score:        score,
			LastModified: row.LastModified,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Flush is a no-op; memory writes are immediately visible.
func (m *Memory) Flush(_ context.Context) error {
	return nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
