package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/timmy/flashtag/internal/analysis"
)

// BuildEmbeddingText renders a result as "description. Confidence: c. Label: v1, v2. ..."
// using the schema's embedding labels. Missing tags still print their label.
func BuildEmbeddingText(result analysis.Result, schema *analysis.Schema) string {
	segments := make([]string, 0, len(schema.Embed)+2)
	segments = append(segments,
		normalizeWhitespace(result.Description),
		"Confidence: "+strconv.FormatFloat(result.Confidence, 'f', -1, 64),
	)
	for _, f := range schema.Embed {
		segments = append(segments, f.Label+": "+flattenTag(result.Tags[f.Key]))
	}
	return strings.TrimSpace(strings.Join(segments, ". "))
}

func flattenTag(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return normalizeWhitespace(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, flattenTag(item))
		}
		return strings.Join(dedupeStrings(items), ", ")
	case []string:
		return strings.Join(dedupeStrings(t), ", ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+flattenTag(t[k]))
		}
		return strings.Join(pairs, ", ")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
