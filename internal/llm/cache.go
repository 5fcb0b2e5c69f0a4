package llm

import (
	"context"
	"sync"
	"time"

	"github.com/ohvee/pursecat/internal/service"
)

// cacheEntry represents a cached embedding vector.
type cacheEntry struct {
	expiry time.Time
	vector []float32
}

// embeddingCache provides thread-safe TTL caching of embeddings by input
// text, so repeated fact strings don't cost another provider round trip.
type embeddingCache struct {
	entries map[string]cacheEntry
	stopCh  chan struct{}
	ttl     time.Duration
	mu      sync.RWMutex
}

func newEmbeddingCache(ttl time.Duration) *embeddingCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	cache := &embeddingCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

func (c *embeddingCache) get(text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[text]
	if !exists || time.Now().After(entry.expiry) {
		return nil, false
	}
	return entry.vector, true
}

func (c *embeddingCache) set(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[text] = cacheEntry{
		vector: vector,
		expiry: time.Now().Add(c.ttl),
	}
}

func (c *embeddingCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (c *embeddingCache) Close() {
	close(c.stopCh)
}

// cachedEmbedder serves embeddings from the cache before hitting the provider.
type cachedEmbedder struct {
	inner service.EmbeddingProvider
	cache *embeddingCache
}

func newCachedEmbedder(inner service.EmbeddingProvider, ttl time.Duration) service.EmbeddingProvider {
	return &cachedEmbedder{
		inner: inner,
		cache: newEmbeddingCache(ttl),
	}
}

func (e *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := e.cache.get(text); ok {
		return vector, nil
	}
	vector, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.set(text, vector)
	return vector, nil
}

func (e *cachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vector, ok := e.cache.get(text); ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		fresh, err := e.inner.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for j, vector := range fresh {
			e.cache.set(missing[j], vector)
			vectors[missingIdx[j]] = vector
		}
	}
	return vectors, nil
}
