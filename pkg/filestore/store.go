// Package filestore provides per-user file storage for uploads and
// tool-produced artifacts, plus short-lived signed download URLs.
package filestore

import (
	"context"
	"strings"

	"github.com/chatloom/chatloom/pkg/models"
)

// FileMeta describes a stored file.
type FileMeta struct {
	Key          string   `json:"key"`
	Filename     string   `json:"filename"`
	ContentType  string   `json:"content_type"`
	Size         int64    `json:"size"`
	LastModified string   `json:"last_modified"`
	Source       string   `json:"source"`
	Tags         []string `json:"tags,omitempty"`
}

// StoredFile is a retrieved file with its content.
type StoredFile struct {
	FileMeta
	ContentBase64 string `json:"content_base64"`
}

// Store is the file store port. Implementations are process-wide and must
// be safe for concurrent use.
type Store interface {
	// UploadFile stores base64 content under a fresh storage key scoped
	// to the user.
	UploadFile(ctx context.Context, userEmail, filename, contentBase64, sourceType string, tags []string) (*FileMeta, error)
	// GetFile retrieves a file by storage key. Fails for keys the user
	// does not own.
	GetFile(ctx context.Context, userEmail, key string) (*StoredFile, error)
	// DeleteFile removes a file by storage key.
	DeleteFile(ctx context.Context, userEmail, key string) error
}

// OrganizeFilesMetadata renders session file references into the manifest
// shape sent to clients in files_update events.
func OrganizeFilesMetadata(refs map[string]models.FileRef) map[string]any {
	files := make([]map[string]any, 0, len(refs))
	for name, ref := range refs {
		entry := map[string]any{
			"filename":     name,
			"key":          ref.Key,
			"content_type": ref.ContentType,
			"size":         ref.Size,
			"source":       string(ref.Source),
		}
		if !ref.LastModified.IsZero() {
			entry["last_modified"] = ref.LastModified.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		if ref.ExtractedPreview != "" {
			entry["preview"] = ref.ExtractedPreview
		}
		if ref.ToolCallID != "" {
			entry["tool_call_id"] = ref.ToolCallID
		}
		files = append(files, entry)
	}
	return map[string]any{"files": files}
}

// canvasFileTypes maps file extensions to the canvas viewer type.
var canvasFileTypes = map[string]string{
	"html": "html",
	"htm":  "html",
	"md":   "markdown",
	"svg":  "image",
	"png":  "image",
	"jpg":  "image",
	"jpeg": "image",
	"gif":  "image",
	"webp": "image",
	"csv":  "table",
	"json": "code",
	"py":   "code",
	"go":   "code",
	"js":   "code",
	"ts":   "code",
	"sql":  "code",
	"yaml": "code",
	"yml":  "code",
	"txt":  "text",
	"log":  "text",
	"pdf":  "pdf",
}

// GetFileExtension returns the lowercase extension without the dot.
func GetFileExtension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// ShouldDisplayInCanvas reports whether a file is renderable in the canvas.
func ShouldDisplayInCanvas(filename string) bool {
	_, ok := canvasFileTypes[GetFileExtension(filename)]
	return ok
}

// GetCanvasFileType maps an extension to its canvas viewer type, defaulting
// to plain text.
func GetCanvasFileType(ext string) string {
	if t, ok := canvasFileTypes[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return t
	}
	return "text"
}
