package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/llm"
	"github.com/ohvee/pursecat/internal/model"
	"github.com/ohvee/pursecat/internal/prompt"
	"github.com/ohvee/pursecat/internal/service"
)

// newCategoryID is what the model is told to answer when none of the allowed
// categories fit and it invents a name instead.
const newCategoryID = "<new>"

// RagConfig configures the retrieval-augmented classifier.
type RagConfig struct {
	// TopK is how many facts are retrieved per purchase.
	TopK int
	// MinScore is the retrieval similarity floor.
	MinScore float64
	Retry    service.RetryOptions
}

func (c *RagConfig) applyDefaults() error {
	if c.TopK == 0 {
		c.TopK = 2
	}
	if c.TopK < 0 {
		return common.ConfigError("top_k", fmt.Errorf("must be > 0, got %d", c.TopK))
	}
	if c.MinScore == 0 {
		c.MinScore = 0.5
	}
	return nil
}

// RagClassifier asks a chat model to categorize purchases, grounding the
// prompt in facts retrieved from the vector store. Real identifiers never
// reach the model: each call builds a fresh token mapping, and the model's
// answer is mapped back before anything is returned.
type RagClassifier struct {
	embedder service.EmbeddingProvider
	chat     service.ChatProvider
	store    service.VectorStore
	cfg      RagConfig
}

// NewRagClassifier validates the configuration and builds a classifier.
func NewRagClassifier(embedder service.EmbeddingProvider, chat service.ChatProvider, store service.VectorStore, cfg RagConfig) (*RagClassifier, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &RagClassifier{embedder: embedder, chat: chat, store: store, cfg: cfg}, nil
}

type ragAssignment struct {
	PurchaseID   string `json:"purchaseId"`
	CategoryID   string `json:"categoryId"`
	CategoryName string `json:"categoryName"`
}

type promptCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type promptPurchase struct {
	PurchaseID   string `json:"purchaseId"`
	PurchaseName string `json:"purchaseName"`
}

// Classify asks the model to categorize purchases and returns those it could
// resolve to a known category. A malformed model response yields an empty
// result, not an error: the caller simply sees every purchase unresolved.
func (c *RagClassifier) Classify(ctx context.Context, purchases []model.Purchase, categories []model.PurchaseCategory) ([]model.Purchase, error) {
	if len(purchases) == 0 || len(categories) == 0 {
		return nil, nil
	}

	categoryIDs := make([]string, len(categories))
	for i, category := range categories {
		categoryIDs[i] = category.ID
	}
	purchaseIDs := make([]string, len(purchases))
	for i, p := range purchases {
		purchaseIDs[i] = p.ID
	}
	obf := prompt.NewObfuscator(categoryIDs, purchaseIDs)

	retrieved, err := c.retrieveContext(ctx, purchases, obf)
	if err != nil {
		return nil, err
	}

	possibleAnswers, err := marshalCategories(categories, obf)
	if err != nil {
		return nil, err
	}
	purchasesJSON, err := marshalPurchases(purchases, obf)
	if err != nil {
		return nil, err
	}

	question := prompt.AssignCategoriesQuestion(purchasesJSON)
	answer, err := c.complete(ctx, prompt.BoundedRAG(retrieved, possibleAnswers, question))
	if err != nil {
		return nil, err
	}

	assignments := parseAssignments(answer)
	if len(assignments) == 0 {
		return nil, nil
	}

	byID := make(map[string]model.PurchaseCategory, len(categories))
	byName := make(map[string]model.PurchaseCategory, len(categories))
	for _, category := range categories {
		byID[category.ID] = category
		byName[strings.ToLower(category.Name)] = category
	}
	byPurchaseID := make(map[string]model.Purchase, len(purchases))
	for _, p := range purchases {
		byPurchaseID[p.ID] = p
	}

	resolver := &parentResolver{classifier: c, context: possibleAnswers, cache: make(map[string]string)}

	var classified []model.Purchase
	for _, a := range assignments {
		purchaseID, ok := obf.PurchaseID(a.PurchaseID)
		if !ok {
			slog.Warn("model answered with unknown purchase token", "token", a.PurchaseID)
			continue
		}
		p, ok := byPurchaseID[purchaseID]
		if !ok {
			continue
		}

		categoryID := c.resolveCategory(ctx, a, obf, byName, resolver)
		category, ok := byID[categoryID]
		if !ok {
			slog.Debug("model could not place purchase in a known category",
				"purchase", p.Name, "answer", a.CategoryName)
			continue
		}
		p.AssignCategory(category)
		classified = append(classified, p)
		slog.Debug("classified by model", "purchase", p.Name, "category", category.Name)
	}
	return classified, nil
}

// resolveCategory maps the model's categoryId back to a real identifier,
// falling back to a name lookup and finally to a follow-up question asking
// which allowed category the invented name belongs under.
func (c *RagClassifier) resolveCategory(ctx context.Context, a ragAssignment, obf *prompt.Obfuscator, byName map[string]model.PurchaseCategory, resolver *parentResolver) string {
	if a.CategoryID != "" && a.CategoryID != newCategoryID {
		if id, ok := obf.CategoryID(a.CategoryID); ok {
			return id
		}
	}
	if category, ok := byName[strings.ToLower(a.CategoryName)]; ok {
		return category.ID
	}
	if a.CategoryName == "" {
		return ""
	}
	return resolver.resolve(ctx, a.CategoryName, obf)
}

// retrieveContext gathers the facts nearest to each purchase name, de-duplicated
// in retrieval order, with real category ids replaced by their tokens.
func (c *RagClassifier) retrieveContext(ctx context.Context, purchases []model.Purchase, obf *prompt.Obfuscator) (string, error) {
	queries := make([]string, len(purchases))
	for i, p := range purchases {
		queries[i] = prompt.SearchQuery(p.Name)
	}

	var vectors [][]float32
	err := common.WithRetry(ctx, func() error {
		var embedErr error
		vectors, embedErr = c.embedder.EmbedBatch(ctx, queries)
		return embedErr
	}, c.cfg.Retry)
	if err != nil {
		return "", fmt.Errorf("failed to embed retrieval queries: %w", err)
	}
	if len(vectors) != len(queries) {
		return "", fmt.Errorf("embedding count mismatch: want %d, got %d", len(queries), len(vectors))
	}

	seen := make(map[string]bool)
	var snippets []string
	for _, vector := range vectors {
		matches, err := c.store.Search(ctx, vector, c.cfg.TopK, c.cfg.MinScore)
		if err != nil {
			return "", fmt.Errorf("failed to retrieve context: %w", err)
		}
		for _, match := range matches {
			if seen[match.Text] {
				continue
			}
			seen[match.Text] = true
			snippets = append(snippets, obfuscateFact(match.Text, obf))
		}
	}
	return strings.Join(snippets, "\n"), nil
}

func (c *RagClassifier) complete(ctx context.Context, p string) (string, error) {
	var completions []string
	err := common.WithRetry(ctx, func() error {
		var chatErr error
		completions, chatErr = c.chat.Complete(ctx, p)
		return chatErr
	}, c.cfg.Retry)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completions) == 0 {
		return "", common.ErrNoCompletion
	}
	return completions[0], nil
}

// parseAssignments extracts the JSON array from a model answer. Anything the
// parser cannot make sense of degrades to zero assignments.
func parseAssignments(answer string) []ragAssignment {
	raw := llm.ExtractJSONArray(answer)
	if raw == "" {
		slog.Warn("model answer contains no JSON array", "answer", truncate(answer, 200))
		return nil
	}
	var assignments []ragAssignment
	if err := json.Unmarshal([]byte(raw), &assignments); err != nil {
		slog.Warn("failed to parse model answer", "error", err, "answer", truncate(raw, 200))
		return nil
	}
	return assignments
}

// parentResolver answers "which allowed category does this invented name fit
// into", one chat call per distinct name.
type parentResolver struct {
	classifier *RagClassifier
	context    string
	cache      map[string]string
}

func (r *parentResolver) resolve(ctx context.Context, name string, obf *prompt.Obfuscator) string {
	key := strings.ToLower(name)
	if id, ok := r.cache[key]; ok {
		return id
	}
	r.cache[key] = ""

	question := prompt.SuggestParentCategoryQuestion(name)
	answer, err := r.classifier.complete(ctx, prompt.RAG(r.context, question))
	if err != nil {
		slog.Warn("failed to suggest parent category", "name", name, "error", err)
		return ""
	}

	raw := llm.ExtractJSONObject(answer)
	if raw == "" {
		return ""
	}
	var suggested promptCategory
	if err := json.Unmarshal([]byte(raw), &suggested); err != nil {
		slog.Warn("failed to parse parent category answer", "name", name, "error", err)
		return ""
	}
	if id, ok := obf.CategoryID(suggested.ID); ok {
		r.cache[key] = id
	}
	return r.cache[key]
}

func marshalCategories(categories []model.PurchaseCategory, obf *prompt.Obfuscator) (string, error) {
	entries := make([]promptCategory, 0, len(categories))
	for _, category := range categories {
		token, ok := obf.CategoryToken(category.ID)
		if !ok {
			continue
		}
		entries = append(entries, promptCategory{ID: token, Name: category.Name})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal categories: %w", err)
	}
	return string(raw), nil
}

func marshalPurchases(purchases []model.Purchase, obf *prompt.Obfuscator) (string, error) {
	entries := make([]promptPurchase, 0, len(purchases))
	for _, p := range purchases {
		token, ok := obf.PurchaseToken(p.ID)
		if !ok {
			continue
		}
		entries = append(entries, promptPurchase{PurchaseID: token, PurchaseName: p.Name})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal purchases: %w", err)
	}
	return string(raw), nil
}

// obfuscateFact swaps real category ids inside an indexed fact for tokens.
// Ids of categories the caller no longer has stay as they are; the model
// cannot map them to anything either way.
func obfuscateFact(text string, obf *prompt.Obfuscator) string {
	return categoryIDPattern.ReplaceAllStringFunc(text, func(s string) string {
		groups := categoryIDPattern.FindStringSubmatch(s)
		if token, ok := obf.CategoryToken(groups[1]); ok {
			return fmt.Sprintf("with id '%s'", token)
		}
		return s
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
