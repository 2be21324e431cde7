package analysis

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoJSON is returned alongside the fallback when the text holds no '{'...'}' span.
var ErrNoJSON = errors.New("no JSON object in model response")

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

type step struct {
	stage   Stage
	extract func(string) (string, bool)
	clean   bool
}

// Normalizer recovers a Result from text that should contain one JSON object.
type Normalizer struct {
	schema *Schema
	steps  []step
}

// NewNormalizer creates a normalizer whose fallback follows schema.
func NewNormalizer(schema *Schema) *Normalizer {
	return &Normalizer{
		schema: schema,
		steps: []step{
			{stage: StageVerbatim, extract: whole},
			{stage: StageCleaned, extract: whole, clean: true},
			{stage: StageFenced, extract: firstFence, clean: true},
			{stage: StageBraces, extract: outerBraces, clean: true},
		},
	}
}

// Normalize tries each step in order and returns the first object that parses.
// It never returns nil; when every step fails the schema fallback is used.
// Parameters:
//   - text: raw message content from the model.
//
// Returns:
//   - *Normalized: recovered result and the stage that produced it.
//   - error: ErrNoJSON when text has no brace span at all, nil otherwise.
func (n *Normalizer) Normalize(text string) (*Normalized, error) {
	if _, ok := outerBraces(text); !ok {
		return n.fallback(), ErrNoJSON
	}

	for _, s := range n.steps {
		candidate, ok := s.extract(text)
		if !ok {
			continue
		}
		if s.clean {
			candidate = Cleanup(candidate)
		}
		if result, ok := parse(candidate); ok {
			n.completeTags(result.Tags)
			return &Normalized{Result: result, Stage: s.stage}, nil
		}
	}
	return n.fallback(), nil
}

func (n *Normalizer) fallback() *Normalized {
	return &Normalized{
		Result: Result{
			Description: FallbackDescription,
			Confidence:  FallbackConfidence,
			Tags:        n.schema.FallbackTags(),
		},
		Stage: StageFallback,
	}
}

// completeTags adds schema fields the model left out, at their fallback value.
func (n *Normalizer) completeTags(tags map[string]any) {
	for key, def := range n.schema.FallbackTags() {
		if _, ok := tags[key]; !ok {
			tags[key] = def
		}
	}
}

func whole(text string) (string, bool) {
	return text, true
}

func firstFence(text string) (string, bool) {
	m := fencePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func outerBraces(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

// parse accepts only a top-level object and reads fields leniently.
func parse(text string) (Result, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return Result{}, false
	}

	result := Result{
		Confidence: ParseConfidence(obj["confidence"]),
		Tags:       map[string]any{},
	}
	if d, ok := obj["description"].(string); ok {
		result.Description = d
	}
	if tags, ok := obj["tags"].(map[string]any); ok {
		result.Tags = tags
	}
	return result, true
}

// ParseConfidence reads a number or numeric string and clamps it to [0,1].
// Anything else is 0.
func ParseConfidence(v any) float64 {
	var f float64
	switch c := v.(type) {
	case float64:
		f = c
	case json.Number:
		parsed, err := c.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return math.Min(f, 1)
}
