// Package llm provides the chat and embedding provider implementations the
// classification pipeline runs against.
package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/service"
)

// Config holds configuration for the model providers.
type Config struct {
	Provider           string
	APIKey             string
	BaseURL            string
	ChatModel          string
	EmbeddingModel     string
	Scope              string
	InsecureSkipVerify bool
	Timeout            time.Duration
	RateLimit          int
	CacheTTL           time.Duration
}

// Providers bundles the chat and embedding capabilities of one backend.
type Providers struct {
	Chat      service.ChatProvider
	Embedding service.EmbeddingProvider
}

// NewProviders creates chat and embedding providers for the configured
// backend. The chat provider is rate limited and the embedding provider
// caches vectors by input text.
func NewProviders(cfg Config) (*Providers, error) {
	var (
		chat     service.ChatProvider
		embedder service.EmbeddingProvider
		err      error
	)

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		chat, embedder, err = newOpenAIClient(cfg)
	case "gigachat":
		chat, embedder, err = newGigaChatClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported model provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Provider, err)
	}

	return &Providers{
		Chat:      newRateLimitedChat(chat, cfg.RateLimit),
		Embedding: newCachedEmbedder(embedder, cfg.CacheTTL),
	}, nil
}
