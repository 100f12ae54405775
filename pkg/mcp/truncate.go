package mcp

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken approximates token length for English text. Threshold
// estimation only, not exact counting.
const charsPerToken = 4

// DefaultResultMaxTokens bounds tool output stored in conversation history
// and fed back to the LLM.
const DefaultResultMaxTokens = 8000

// EstimateTokens approximates the token count of text at ~4 characters per
// token, rounding up. Byte-based, so multi-byte content overestimates —
// truncation triggers slightly early, which is the safe direction.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TruncateResult bounds tool output before it enters conversation history.
func TruncateResult(content string) string {
	return truncateAtLineBoundary(content, DefaultResultMaxTokens*charsPerToken,
		"tool output exceeded history limit")
}

// truncateAtLineBoundary cuts at the last newline before the byte limit so
// indented JSON, YAML, or log output is not split mid-line. The cut point
// backs up to avoid splitting a multi-byte UTF-8 character.
func truncateAtLineBoundary(content string, maxChars int, marker string) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: %s — original size: %s, limit: %s]",
		marker, formatSize(len(content)), formatSize(maxChars),
	)
}

func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}
