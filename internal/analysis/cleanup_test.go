package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupLeavesValidJSONEquivalent(t *testing.T) {
	docs := []string{
		validDoc,
		`{"description":"quote \"inside\" already escaped","confidence":1}`,
		`{"a":[1, 2, 3], "b": {"c": "d, e]"}, "f": "g}"}`,
		`{"text": "comma, then } brace"}`,
		"{\n  \"nested\": {\"x\": [\"y\", \"z\"]},\n  \"n\": null\n}",
	}

	for _, doc := range docs {
		var want, got any
		require.NoError(t, json.Unmarshal([]byte(doc), &want))
		require.NoError(t, json.Unmarshal([]byte(Cleanup(doc)), &got), "cleaned %q", Cleanup(doc))
		assert.Equal(t, want, got)
	}
}

func TestStripTrailingCommas(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1,}`, `{"a":1}`},
		{`[1,2, ]`, `[1,2 ]`},
		{"{\"a\":[1,\n],\n}", "{\"a\":[1\n]\n}"},
		{`{"s":",}"}`, `{"s":",}"}`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, stripTrailingCommas(tt.in))
	}
}

func TestEscapeInnerQuotes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no change", `{"a":"b"}`, `{"a":"b"}`},
		{"inner word", `{"a":"say "hi" now"}`, `{"a":"say \"hi\" now"}`},
		{"inner before comma and prose", `{"a":"x "y", z"}`, `{"a":"x \"y\", z"}`},
		{"already escaped", `{"a":"x \"y\""}`, `{"a":"x \"y\""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeInnerQuotes(tt.in))
		})
	}
}
