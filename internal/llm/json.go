package llm

import "strings"

// CleanMarkdownWrapper strips a markdown code fence around a model response,
// since models routinely wrap JSON in ```json blocks despite instructions.
func CleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}

// ExtractJSONArray returns the first top-level JSON array in content, or ""
// when no array delimiters are present.
func ExtractJSONArray(content string) string {
	content = CleanMarkdownWrapper(content)
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}

// ExtractJSONObject returns the first top-level JSON object in content, or ""
// when no object delimiters are present.
func ExtractJSONObject(content string) string {
	content = CleanMarkdownWrapper(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}
