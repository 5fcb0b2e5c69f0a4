package prompt

import "fmt"

// Obfuscator maps real category and purchase identifiers to short synthetic
// tokens for use inside model prompts, and reverses the mapping on parsed
// output. Tokens are assigned in first-seen input order, so the mapping is
// reproducible for a given ordering. An Obfuscator is scoped to a single
// classification call and never persisted.
type Obfuscator struct {
	categoryTokens map[string]string
	purchaseTokens map[string]string
	categoryIDs    map[string]string
	purchaseIDs    map[string]string
}

// NewObfuscator builds the forward and reverse maps for the given identifier
// collections. Duplicate identifiers keep their first-assigned token.
func NewObfuscator(categoryIDs, purchaseIDs []string) *Obfuscator {
	o := &Obfuscator{
		categoryTokens: make(map[string]string, len(categoryIDs)),
		purchaseTokens: make(map[string]string, len(purchaseIDs)),
		categoryIDs:    make(map[string]string, len(categoryIDs)),
		purchaseIDs:    make(map[string]string, len(purchaseIDs)),
	}
	for _, id := range categoryIDs {
		if _, ok := o.categoryTokens[id]; ok {
			continue
		}
		token := fmt.Sprintf("category%d", len(o.categoryTokens)+1)
		o.categoryTokens[id] = token
		o.categoryIDs[token] = id
	}
	for _, id := range purchaseIDs {
		if _, ok := o.purchaseTokens[id]; ok {
			continue
		}
		token := fmt.Sprintf("purchase%d", len(o.purchaseTokens)+1)
		o.purchaseTokens[id] = token
		o.purchaseIDs[token] = id
	}
	return o
}

// CategoryToken returns the token for a real category identifier.
func (o *Obfuscator) CategoryToken(id string) (string, bool) {
	token, ok := o.categoryTokens[id]
	return token, ok
}

// PurchaseToken returns the token for a real purchase identifier.
func (o *Obfuscator) PurchaseToken(id string) (string, bool) {
	token, ok := o.purchaseTokens[id]
	return token, ok
}

// CategoryID resolves a token back to the real category identifier. An
// unknown token yields ok=false; callers treat that as "no match".
func (o *Obfuscator) CategoryID(token string) (string, bool) {
	id, ok := o.categoryIDs[token]
	return id, ok
}

// PurchaseID resolves a token back to the real purchase identifier.
func (o *Obfuscator) PurchaseID(token string) (string, bool) {
	id, ok := o.purchaseIDs[token]
	return id, ok
}
