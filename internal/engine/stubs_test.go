package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ohvee/pursecat/internal/model"
	"github.com/ohvee/pursecat/internal/service"
)

// keywordVector maps text onto one of four orthogonal axes, so tests get
// deterministic similarity: texts sharing a keyword are identical, texts
// that don't are orthogonal.
func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "coffee"):
		return []float32{1, 0, 0, 0}
	case strings.Contains(lower, "taxi"):
		return []float32{0, 1, 0, 0}
	case strings.Contains(lower, "rent"):
		return []float32{0, 0, 1, 0}
	default:
		return []float32{0, 0, 0, 1}
	}
}

type stubEmbedder struct {
	fn    func(text string) ([]float32, error)
	mu    sync.Mutex
	calls int
}

func newKeywordEmbedder() *stubEmbedder {
	return &stubEmbedder{fn: func(text string) ([]float32, error) {
		return keywordVector(text), nil
	}}
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(text)
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// stubChat replays canned responses and records every prompt it sees.
type stubChat struct {
	responses []string
	prompts   []string
	mu        sync.Mutex
}

func (s *stubChat) Complete(_ context.Context, prompt string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("unexpected chat call with prompt: %s", prompt)
	}
	response := s.responses[0]
	s.responses = s.responses[1:]
	return []string{response}, nil
}

func (s *stubChat) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *stubChat) allPrompts() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.prompts, "\n---\n")
}

type stubPurchaseSource struct {
	purchases []model.Purchase
}

func (s *stubPurchaseSource) FindUpdatedAfter(_ context.Context, t time.Time) ([]model.Purchase, error) {
	var out []model.Purchase
	for _, p := range s.purchases {
		if p.Categorized() && p.UpdatedOn.After(t) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubPurchaseSource) FindByIDs(_ context.Context, ids []string) ([]model.Purchase, error) {
	var out []model.Purchase
	for _, id := range ids {
		for _, p := range s.purchases {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type stubCategorySource struct {
	categories []model.PurchaseCategory
}

func (s *stubCategorySource) Categories(_ context.Context, owner string) ([]model.PurchaseCategory, error) {
	var out []model.PurchaseCategory
	for _, c := range s.categories {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

type memWatermarks struct {
	values map[string]time.Time
	writes int
}

func newMemWatermarks() *memWatermarks {
	return &memWatermarks{values: make(map[string]time.Time)}
}

func (m *memWatermarks) Read(_ context.Context, key string) (time.Time, bool, error) {
	t, ok := m.values[key]
	return t, ok, nil
}

func (m *memWatermarks) Write(_ context.Context, key string, t time.Time) error {
	m.values[key] = t
	m.writes++
	return nil
}

// countingStore counts upsert calls on its way to the real store.
type countingStore struct {
	service.VectorStore
	mu      sync.Mutex
	upserts int
}

func (s *countingStore) Upsert(ctx context.Context, entries []service.IndexEntry) error {
	s.mu.Lock()
	s.upserts++
	s.mu.Unlock()
	return s.VectorStore.Upsert(ctx, entries)
}
