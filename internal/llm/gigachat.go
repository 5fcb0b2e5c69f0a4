package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Role1776/gigago"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/service"
)

const (
	gigaChatOAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	gigaChatBaseURL  = "https://gigachat.devices.sberbank.ru/api/v1"
)

// gigaChatClient implements ChatProvider via the gigago SDK and
// EmbeddingProvider via the GigaChat REST embeddings endpoint.
type gigaChatClient struct {
	client         *gigago.Client
	model          *gigago.GenerativeModel
	httpClient     *http.Client
	tokens         oauth2.TokenSource
	baseURL        string
	embeddingModel string
}

func newGigaChatClient(cfg Config) (service.ChatProvider, service.EmbeddingProvider, error) {
	if cfg.APIKey == "" {
		return nil, nil, fmt.Errorf("%w: GigaChat API key", common.ErrMissingConfig)
	}

	scope := cfg.Scope
	if scope == "" {
		scope = "GIGACHAT_API_PERS"
	}

	opts := []gigago.Option{gigago.WithCustomScope(scope)}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
	}

	client, err := gigago.NewClient(context.Background(), cfg.APIKey, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = "GigaChat"
	}
	model := client.GenerativeModel(chatModel)
	model.Temperature = 0.2

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "Embeddings"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = gigaChatBaseURL
	}

	// The token source caches the access token and refreshes it only after
	// expiry, so there is no shared mutable token holder.
	source := &gigaChatTokenSource{
		apiKey:     cfg.APIKey,
		scope:      scope,
		httpClient: httpClient,
	}

	c := &gigaChatClient{
		client:         client,
		model:          model,
		httpClient:     httpClient,
		tokens:         oauth2.ReuseTokenSource(nil, source),
		baseURL:        baseURL,
		embeddingModel: embeddingModel,
	}
	return c, c, nil
}

// Complete generates candidate completions for the prompt.
func (c *gigaChatClient) Complete(ctx context.Context, prompt string) ([]string, error) {
	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: prompt},
	}

	resp, err := c.model.Generate(ctx, messages)
	if err != nil {
		return nil, common.Retryable(fmt.Errorf("generate failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, common.ErrNoCompletion
	}

	completions := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		completions = append(completions, strings.TrimSpace(choice.Message.Content))
	}
	return completions, nil
}

// Embed computes the embedding for a single text.
func (c *gigaChatClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch computes embeddings for all texts in one request, preserving
// input order.
func (c *gigaChatClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	requestBody := map[string]any{
		"model": c.embeddingModel,
		"input": texts,
	}
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, common.Retryable(fmt.Errorf("embeddings request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, common.ErrRateLimit
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings failed (status %d): %s", resp.StatusCode, string(body))
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

	vectors := make([][]float32, len(texts))
	for _, d := range response.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Close releases the underlying SDK client.
func (c *gigaChatClient) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// gigaChatTokenSource obtains GigaChat access tokens from the OAuth endpoint.
// Wrap it in oauth2.ReuseTokenSource to get expiry-check-and-refresh caching.
type gigaChatTokenSource struct {
	httpClient *http.Client
	apiKey     string
	scope      string
}

// Token requests a fresh access token.
func (s *gigaChatTokenSource) Token() (*oauth2.Token, error) {
	form := url.Values{}
	form.Set("scope", s.scope)

	req, err := http.NewRequest(http.MethodPost, gigaChatOAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.New().String())
	// The API key is already Base64-encoded per the GigaChat API contract.
	req.Header.Set("Authorization", "Basic "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OAuth request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OAuth failed with status %d: %s", resp.StatusCode, string(body))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return nil, fmt.Errorf("failed to decode OAuth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in OAuth response")
	}

	return &oauth2.Token{
		AccessToken: oauthResp.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.UnixMilli(oauthResp.ExpiresAt),
	}, nil
}
