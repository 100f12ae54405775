package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]any
	}{
		{
			name:  "empty input",
			input: "",
			want:  map[string]any{},
		},
		{
			name:  "whitespace only",
			input: "   \n  ",
			want:  map[string]any{},
		},
		{
			name:  "json object",
			input: `{"filename": "data.csv", "limit": 10}`,
			want:  map[string]any{"filename": "data.csv", "limit": float64(10)},
		},
		{
			name:  "json array wrapped",
			input: `["a", "b"]`,
			want:  map[string]any{"input": []any{"a", "b"}},
		},
		{
			name:  "json string wrapped",
			input: `"just a string"`,
			want:  map[string]any{"input": "just a string"},
		},
		{
			name:  "yaml with nesting",
			input: "query:\n  filters:\n    - active\n    - recent",
			want: map[string]any{
				"query": map[string]any{"filters": []any{"active", "recent"}},
			},
		},
		{
			name:  "key-value colon pairs",
			input: "namespace: prod, limit: 5",
			want:  map[string]any{"namespace": "prod", "limit": int64(5)},
		},
		{
			name:  "key-value equals pairs",
			input: "name=web, replicas=3",
			want:  map[string]any{"name": "web", "replicas": int64(3)},
		},
		{
			name:  "newline separated pairs",
			input: "host: db1\nverbose: true",
			want:  map[string]any{"host": "db1", "verbose": true},
		},
		{
			name:  "null coercion",
			input: "filter: none",
			want:  map[string]any{"filter": nil},
		},
		{
			name:  "float coercion",
			input: "threshold: 0.95",
			want:  map[string]any{"threshold": 0.95},
		},
		{
			name:  "plain string fallback",
			input: "show me the pods in the default namespace",
			want:  map[string]any{"input": "show me the pods in the default namespace"},
		},
		{
			name:  "malformed json falls through",
			input: `{"broken": `,
			want:  map[string]any{"input": `{"broken":`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseToolArguments(tt.input))
		})
	}
}
