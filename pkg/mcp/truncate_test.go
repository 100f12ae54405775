package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{name: "empty", text: "", want: 0},
		{name: "short", text: "abc", want: 1},
		{name: "exact multiple", text: "abcdefgh", want: 2},
		{name: "rounds up", text: "abcdefghi", want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestTruncateResultPassesSmallContent(t *testing.T) {
	content := "line one\nline two"
	assert.Equal(t, content, TruncateResult(content))
}

func TestTruncateResultCutsAtLineBoundary(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 5000; i++ {
		b.WriteString("log line with some padding content here\n")
	}
	content := b.String()

	truncated := TruncateResult(content)
	assert.Less(t, len(truncated), len(content))
	assert.Contains(t, truncated, "[TRUNCATED:")
	// Content before the marker ends at a complete line.
	head := truncated[:strings.Index(truncated, "\n\n[TRUNCATED:")]
	assert.True(t, strings.HasSuffix(head, "content here"))
}

func TestTruncateDoesNotSplitUTF8(t *testing.T) {
	content := strings.Repeat("日本語テキスト", 10000)
	truncated := truncateAtLineBoundary(content, 1000, "test")
	head := truncated[:strings.Index(truncated, "\n\n[TRUNCATED:")]
	assert.True(t, len(head) <= 1000)
	// Every rune must decode cleanly.
	for _, r := range head {
		assert.NotEqual(t, '�', r)
	}
}
