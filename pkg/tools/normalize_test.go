package tools

import (
	"encoding/base64"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeResultStructuredContent(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		StructuredContent: map[string]any{
			"results":   []any{"row1", "row2"},
			"meta_data": map[string]any{"row_count": float64(2)},
		},
	}

	norm := normalizeResult(raw)
	assert.Equal(t, []any{"row1", "row2"}, norm.content["results"])
	assert.Equal(t, float64(2), norm.metaData["row_count"])
	assert.Nil(t, norm.display)
	assert.Empty(t, norm.artifacts)
}

func TestNormalizeResultLegacyResultKey(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		StructuredContent: map[string]any{"result": "done"},
	}
	norm := normalizeResult(raw)
	assert.Equal(t, "done", norm.content["results"])
}

func TestNormalizeResultTextContentJSON(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: `{"results": {"answer": 42}}`},
		},
	}
	norm := normalizeResult(raw)
	results, ok := norm.content["results"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), results["answer"])
}

func TestNormalizeResultPlainText(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: "line one"},
			&mcpsdk.TextContent{Text: "line two"},
		},
	}
	norm := normalizeResult(raw)
	assert.Equal(t, "line one\nline two", norm.content["results"])
}

func TestNormalizeResultFallbackMapping(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		StructuredContent: map[string]any{
			"rows":                   []any{"a", "b"},
			"count":                  float64(2),
			"returned_file_contents": "should be excluded",
		},
	}
	norm := normalizeResult(raw)
	fallback, ok := norm.content["results"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, fallback["rows"])
	assert.NotContains(t, fallback, "returned_file_contents")
}

func TestNormalizeResultSizeGuard(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		StructuredContent: map[string]any{
			"huge": strings.Repeat("x", resultsSizeGuard+1),
		},
	}
	norm := normalizeResult(raw)
	assert.NotContains(t, norm.content, "results")
	summary, ok := norm.content["results_summary"].(string)
	require.True(t, ok)
	assert.Contains(t, summary, "huge")
}

func TestNormalizeResultMetaDataGuard(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		StructuredContent: map[string]any{
			"results":   "ok",
			"meta_data": map[string]any{"blob": strings.Repeat("y", metaDataSizeGuard+1)},
		},
	}
	norm := normalizeResult(raw)
	meta, ok := norm.content["meta_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, meta["truncated"])
	assert.Nil(t, norm.metaData)
}

func TestNormalizeResultArtifacts(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		StructuredContent: map[string]any{
			"results": "ok",
			"artifacts": []any{
				map[string]any{"name": "chart.png", "b64": "aGVsbG8=", "mime": "image/png", "viewer": "image"},
				map[string]any{"name": "no-payload.txt"},
				"not a mapping",
			},
		},
	}
	norm := normalizeResult(raw)
	require.Len(t, norm.artifacts, 1)
	assert.Equal(t, "chart.png", norm.artifacts[0].Name)
	assert.Equal(t, "image/png", norm.artifacts[0].Mime)
	// An image artifact with no explicit display opens the canvas.
	require.NotNil(t, norm.display)
	assert.True(t, norm.display.OpenCanvas)
	assert.Equal(t, "chart.png", norm.display.PrimaryFile)
}

func TestNormalizeResultSyntheticImages(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	raw := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: "rendered a chart"},
			&mcpsdk.ImageContent{Data: payload, MIMEType: "image/png"},
		},
	}
	norm := normalizeResult(raw)
	require.Len(t, norm.artifacts, 1)
	assert.Equal(t, "mcp_image_1.png", norm.artifacts[0].Name)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), norm.artifacts[0].B64)
	assert.Equal(t, "image", norm.artifacts[0].Viewer)
	require.NotNil(t, norm.display)
	assert.True(t, norm.display.OpenCanvas)
}

func TestNormalizeResultExplicitDisplay(t *testing.T) {
	raw := &mcpsdk.CallToolResult{
		StructuredContent: map[string]any{
			"results": "ok",
			"display": map[string]any{"open_canvas": true, "primary_file": "report.html", "mode": "html"},
		},
	}
	norm := normalizeResult(raw)
	require.NotNil(t, norm.display)
	assert.True(t, norm.display.OpenCanvas)
	assert.Equal(t, "report.html", norm.display.PrimaryFile)
	assert.Equal(t, "html", norm.display.Mode)
}

func TestScrubBase64(t *testing.T) {
	bigBase64 := strings.Repeat("QUJDRA==", 2000) // > 10 KB, base64 charset
	content := map[string]any{
		"results": map[string]any{
			"text":       "normal result text",
			"inline_img": bigBase64,
			"b64":        strings.Repeat("a", 2048),
			"data":       "short",
			"nested":     []any{map[string]any{"image_data": strings.Repeat("b", 4096)}},
		},
	}

	scrubbed, ok := scrubBase64(content).(map[string]any)
	require.True(t, ok)
	results := scrubbed["results"].(map[string]any)

	assert.Equal(t, "normal result text", results["text"])
	assert.Contains(t, results["inline_img"], "bytes removed")
	assert.Contains(t, results["b64"], "bytes removed")
	// Small payloads under known keys are kept.
	assert.Equal(t, "short", results["data"])
	nested := results["nested"].([]any)[0].(map[string]any)
	assert.Contains(t, nested["image_data"], "bytes removed")

	// Original mapping untouched.
	assert.Equal(t, bigBase64, content["results"].(map[string]any)["inline_img"])
}

func TestLooksLikeBase64(t *testing.T) {
	assert.True(t, looksLikeBase64("QUJDRA=="))
	assert.True(t, looksLikeBase64("with\nnewlines\nQUJD"))
	assert.False(t, looksLikeBase64("plain english sentence"))
	assert.False(t, looksLikeBase64(`{"json": true}`))
}
