package tools

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chatloom/chatloom/pkg/models"
)

const (
	// resultsSizeGuard caps the serialized fallback results mapping.
	resultsSizeGuard = 8 * 1024
	// metaDataSizeGuard caps the serialized meta_data mapping.
	metaDataSizeGuard = 4 * 1024
)

// normalized is the decoded shape of a tool response before it is serialized
// into ToolResult.Content.
type normalized struct {
	content   map[string]any
	artifacts []models.Artifact
	display   *models.DisplayConfig
	metaData  map[string]any
}

// normalizeResult reduces a raw MCP response to the uniform result contract.
// Priority for the structured payload: StructuredContent, then the first
// text content entry parsed as JSON when it looks like an object.
func normalizeResult(raw *mcpsdk.CallToolResult) *normalized {
	structured := structuredMapping(raw)
	out := &normalized{content: make(map[string]any)}

	if structured == nil {
		out.content["results"] = joinTextContent(raw)
		out.artifacts = syntheticImageArtifacts(raw)
		applyImageDisplay(out)
		return out
	}

	if results, ok := pickFirst(structured, "results", "result"); ok {
		out.content["results"] = results
	} else {
		fallback := make(map[string]any, len(structured))
		for k, v := range structured {
			if k == "returned_file_contents" || k == "artifacts" || k == "display" ||
				k == "meta_data" || k == "meta-data" || k == "metadata" {
				continue
			}
			fallback[k] = v
		}
		if jsonSize(fallback) <= resultsSizeGuard {
			out.content["results"] = fallback
		} else {
			keys := make([]string, 0, len(fallback))
			for k := range fallback {
				keys = append(keys, k)
			}
			out.content["results_summary"] = fmt.Sprintf(
				"Result too large to inline; top-level keys: %s", strings.Join(keys, ", "))
		}
	}

	if meta, ok := pickFirst(structured, "meta_data", "meta-data", "metadata"); ok {
		if mapping, ok := meta.(map[string]any); ok {
			if jsonSize(mapping) < metaDataSizeGuard {
				out.metaData = mapping
				out.content["meta_data"] = mapping
			} else {
				out.content["meta_data"] = map[string]any{"truncated": true}
			}
		}
	}

	out.artifacts = append(out.artifacts, declaredArtifacts(structured)...)
	out.artifacts = append(out.artifacts, syntheticImageArtifacts(raw)...)

	if display, ok := structured["display"].(map[string]any); ok {
		out.display = decodeDisplayConfig(display)
	}
	applyImageDisplay(out)
	return out
}

// structuredMapping extracts the structured payload of a tool response.
func structuredMapping(raw *mcpsdk.CallToolResult) map[string]any {
	if mapping, ok := raw.StructuredContent.(map[string]any); ok {
		return mapping
	}
	text := firstTextContent(raw)
	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		return nil
	}
	var mapping map[string]any
	if err := json.Unmarshal([]byte(text), &mapping); err != nil {
		return nil
	}
	return mapping
}

func firstTextContent(raw *mcpsdk.CallToolResult) string {
	for _, c := range raw.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func joinTextContent(raw *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range raw.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// declaredArtifacts decodes the artifacts[] array; entries without both name
// and b64 are skipped.
func declaredArtifacts(structured map[string]any) []models.Artifact {
	raw, ok := structured["artifacts"].([]any)
	if !ok {
		return nil
	}
	artifacts := make([]models.Artifact, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		b64, _ := entry["b64"].(string)
		if name == "" || b64 == "" {
			continue
		}
		artifact := models.Artifact{Name: name, B64: b64}
		artifact.Mime, _ = entry["mime"].(string)
		artifact.Description, _ = entry["description"].(string)
		artifact.Viewer, _ = entry["viewer"].(string)
		if size, ok := entry["size"].(float64); ok {
			artifact.Size = int(size)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts
}

var imageExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
}

// syntheticImageArtifacts lifts inline image content entries into artifacts.
func syntheticImageArtifacts(raw *mcpsdk.CallToolResult) []models.Artifact {
	var artifacts []models.Artifact
	for i, c := range raw.Content {
		img, ok := c.(*mcpsdk.ImageContent)
		if !ok || len(img.Data) == 0 {
			continue
		}
		ext, known := imageExtensions[strings.ToLower(img.MIMEType)]
		if !known {
			continue
		}
		artifacts = append(artifacts, models.Artifact{
			Name:   fmt.Sprintf("mcp_image_%d.%s", i, ext),
			B64:    encodeBase64(img.Data),
			Mime:   img.MIMEType,
			Size:   len(img.Data),
			Viewer: "image",
		})
	}
	return artifacts
}

// applyImageDisplay synthesizes a canvas display when image artifacts exist
// and the tool did not set one.
func applyImageDisplay(out *normalized) {
	if out.display != nil {
		return
	}
	for _, artifact := range out.artifacts {
		if artifact.Viewer == "image" {
			out.display = &models.DisplayConfig{OpenCanvas: true, PrimaryFile: artifact.Name}
			return
		}
	}
}

func decodeDisplayConfig(display map[string]any) *models.DisplayConfig {
	cfg := &models.DisplayConfig{}
	cfg.OpenCanvas, _ = display["open_canvas"].(bool)
	cfg.PrimaryFile, _ = display["primary_file"].(string)
	cfg.Mode, _ = display["mode"].(string)
	cfg.ViewerHint, _ = display["viewer_hint"].(string)
	cfg.Title, _ = display["title"].(string)
	cfg.URL, _ = display["url"].(string)
	return cfg
}

func pickFirst(mapping map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := mapping[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func jsonSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
