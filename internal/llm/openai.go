package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/service"
)

// openAIClient implements both ChatProvider and EmbeddingProvider against an
// OpenAI-compatible API.
type openAIClient struct {
	httpClient     *http.Client
	apiKey         string
	baseURL        string
	chatModel      string
	embeddingModel string
}

func newOpenAIClient(cfg Config) (service.ChatProvider, service.EmbeddingProvider, error) {
	if cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("%w: OpenAI API key", common.ErrMissingConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	c := &openAIClient{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	return c, c, nil
}

// Complete sends a chat completion request and returns the candidate texts.
func (c *openAIClient) Complete(ctx context.Context, prompt string) ([]string, error) {
	requestBody := map[string]any{
		"model": c.chatModel,
		"messages": []map[string]string{
			{
				"role":    "system",
				"content": "You are a purchase classification assistant. Respond strictly in the format the prompt asks for, with no extra commentary.",
			},
			{
				"role":    "user",
				"content": prompt,
			},
		},
		"temperature": 0.2,
	}

	body, err := c.post(ctx, "/chat/completions", requestBody)
	if err != nil {
		return nil, err
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, common.ErrNoCompletion
	}

	completions := make([]string, 0, len(response.Choices))
	for _, choice := range response.Choices {
		completions = append(completions, choice.Message.Content)
	}
	return completions, nil
}

// Embed computes the embedding for a single text.
func (c *openAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch computes embeddings for all texts in one request, preserving
// input order.
func (c *openAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]any{
		"model": c.embeddingModel,
		"input": texts,
	}

	body, err := c.post(ctx, "/embeddings", requestBody)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse embeddings response: %w", err)
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(response.Data))
	}

	// The API may return entries out of order; the index field is canonical.
	sort.Slice(response.Data, func(i, j int) bool {
		return response.Data[i].Index < response.Data[j].Index
	})

	vectors := make([][]float32, len(texts))
	for i, d := range response.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (c *openAIClient) post(ctx context.Context, path string, requestBody any) ([]byte, error) {
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.Retryable(fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, common.ErrRateLimit
	}
	if resp.StatusCode >= 500 {
		return nil, common.Retryable(fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
