package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanMarkdownWrapper(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain json untouched",
			input: `[{"a":1}]`,
			want:  `[{"a":1}]`,
		},
		{
			name:  "json fence",
			input: "```json\n[{\"a\":1}]\n```",
			want:  `[{"a":1}]`,
		},
		{
			name:  "bare fence",
			input: "```\n{\"a\":1}\n```",
			want:  `{"a":1}`,
		},
		{
			name:  "surrounding whitespace",
			input: "  \n[1,2]\n  ",
			want:  `[1,2]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanMarkdownWrapper(tt.input))
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "array with chatter around it",
			input: "Sure! Here you go: [{\"purchaseId\":\"purchase1\"}] Hope that helps.",
			want:  `[{"purchaseId":"purchase1"}]`,
		},
		{
			name:  "fenced array",
			input: "```json\n[1,2,3]\n```",
			want:  `[1,2,3]`,
		},
		{
			name:  "no array",
			input: "I don't know.",
			want:  "",
		},
		{
			name:  "mismatched delimiters",
			input: "] nothing here [",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONArray(tt.input))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"id":"category1","name":"Food"}`,
		ExtractJSONObject("Answer: {\"id\":\"category1\",\"name\":\"Food\"}"))
	assert.Equal(t, "", ExtractJSONObject("null"))
}
