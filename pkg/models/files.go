package models

import "time"

// FileSource distinguishes user uploads from tool-produced artifacts.
type FileSource string

const (
	FileSourceUser FileSource = "user"
	FileSourceTool FileSource = "tool"
)

// ExtractMode controls how much of a file's content is surfaced in the
// files manifest handed to the LLM.
type ExtractMode string

const (
	ExtractModeNone    ExtractMode = "none"
	ExtractModePreview ExtractMode = "preview"
	ExtractModeFull    ExtractMode = "full"
)

// FileRef is a session-scoped reference to a stored file. Keys are filenames
// unique within a session.
type FileRef struct {
	Key                string         `json:"key"`
	ContentType        string         `json:"content_type"`
	Size               int            `json:"size"`
	Source             FileSource     `json:"source"`
	LastModified       time.Time      `json:"last_modified"`
	ExtractMode        ExtractMode    `json:"extract_mode"`
	ExtractedContent   string         `json:"extracted_content,omitempty"`
	ExtractedPreview   string         `json:"extracted_preview,omitempty"`
	ExtractionMetadata map[string]any `json:"extraction_metadata,omitempty"`
	ToolCallID         string         `json:"tool_call_id,omitempty"`
}
