package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/timmy/flashtag/internal/analysis"
)

func TestBuildEmbeddingText(t *testing.T) {
	result := analysis.Result{
		Description: "  A red   apple\nnext to a ball ",
		Confidence:  0.9,
		Tags: map[string]any{
			"objects":           []any{"apple", "ball", "apple", " "},
			"colors":            []any{"red"},
			"category":          "food",
			"relativePositions": []any{"apple left of ball"},
			"backgroundColor":   "white",
		},
	}

	got := BuildEmbeddingText(result, analysis.FlashcardSchema())

	want := "A red apple next to a ball. Confidence: 0.9. Objects: apple, ball. Colors: red. Shapes: . " +
		"Letters: . Numbers: . Words: . People: . Animals: . Category: food. " +
		"Relationships: apple left of ball. Background: white"
	assert.Equal(t, want, got)
}

func TestFlattenTag(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "  two  words ", "two words"},
		{"list", []any{"a", "b", "a"}, "a, b"},
		{"string list", []string{"x", "x", "y"}, "x, y"},
		{"map sorted", map[string]any{"b": "2", "a": "1"}, "a=1, b=2"},
		{"number", 3.0, "3"},
		{"bool", true, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flattenTag(tt.in))
		})
	}
}
