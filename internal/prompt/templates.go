// Package prompt builds the deterministic prompt strings used by the
// classification pipeline and maps real identifiers to opaque tokens before
// they reach a model.
package prompt

import (
	"fmt"

	"github.com/ohvee/pursecat/internal/model"
)

// Fact renders the indexed fact string for a categorized purchase.
func Fact(p model.Purchase, c model.PurchaseCategory) string {
	return fmt.Sprintf("Purchase '%s' has category '%s' with id '%s'.", p.Name, c.Name, c.ID)
}

// SearchQuery renders the retrieval query for a purchase name.
func SearchQuery(purchaseName string) string {
	return fmt.Sprintf("Purchase '%s' has category", purchaseName)
}

// RAG renders the plain retrieval-augmented prompt.
func RAG(context, question string) string {
	return fmt.Sprintf(`Use the following pieces of context to answer the question at the end. If you don't know the answer, use null value.
<context>
%s
</context>

Question: %s
Useful answer:
`, context, question)
}

// BoundedRAG renders the retrieval-augmented prompt with an explicit list of
// allowed answers.
func BoundedRAG(context, possibleAnswers, question string) string {
	return fmt.Sprintf(`Use the following pieces of context to answer the question at the end. If you don't know the answer, use null value.
<context>
%s
</context>
The list of possible response entries is specified in possible_answers:
<possible_answers>
%s
</possible_answers>

Question: %s
Useful answer:
`, context, possibleAnswers, question)
}

// AssignCategoriesQuestion renders the batch classification instruction.
// purchasesJSON is the obfuscated [{purchaseId, purchaseName}] list.
func AssignCategoriesQuestion(purchasesJSON string) string {
	return fmt.Sprintf("Please answer which categories the list of purchases belong to: `%s`\n"+
		"Go through each purchase step by step and select a category for it.\n"+
		"Try to use the categories that are listed in possible_answers.\n"+
		"If the context doesn't provide useful information, as a last resort, propose your own category name for this purchase and specify <new> as its identifier.\n"+
		"As an answer, provide a JSON array of this form:\n\n"+
		"[\n"+
		"  {\n"+
		"    \"purchaseId\": id_of_purchase,\n"+
		"    \"categoryId\": id_of_category,\n"+
		"    \"categoryName\": name_of_category\n"+
		"  },\n"+
		"  ...\n"+
		"]\n\n"+
		"Your response will be used as the input string for the JSON parser, so format it strictly as a JSON response, do not provide any explanations or comments.\n", purchasesJSON)
}

// SuggestParentCategoryQuestion renders the fallback instruction asking which
// allowed category a free-form category name fits into best.
func SuggestParentCategoryQuestion(subcategory string) string {
	return fmt.Sprintf("Please answer to which category from the context in the meaning of the name the subcategory with name `%s` best fits into.\n"+
		"As an answer give JSON object with category name in the \"name\" field and category id in the \"id\" field.\n"+
		"Use only the categories that are listed in the context.\n"+
		"Your response will be used as an input string for the JSON parser, so form it strictly as a JSON response, don't give any explanations or comments.\n", subcategory)
}
