package models

// ToolCall is a tool invocation requested by the LLM. ID is an opaque string
// chosen by the LLM, used to correlate the call with its result. Name is the
// fully qualified "<server>_<tool>" form. Arguments may arrive as a JSON
// string or a decoded mapping; the tool executor shapes them before dispatch.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// RawArguments carries the undecoded arguments string from streaming
	// responses. Empty once Arguments has been populated.
	RawArguments string `json:"-"`
}

// Artifact is a file produced by a tool, referenced by name and base64 payload.
type Artifact struct {
	Name        string `json:"name"`
	B64         string `json:"b64"`
	Mime        string `json:"mime,omitempty"`
	Size        int    `json:"size,omitempty"`
	Description string `json:"description,omitempty"`
	Viewer      string `json:"viewer,omitempty"`
}

// DisplayConfig instructs the client how to present a tool result.
type DisplayConfig struct {
	OpenCanvas  bool   `json:"open_canvas,omitempty"`
	PrimaryFile string `json:"primary_file,omitempty"`
	Mode        string `json:"mode,omitempty"`
	ViewerHint  string `json:"viewer_hint,omitempty"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ToolResult is the normalized outcome of one tool call. Content is the
// JSON string fed back to the LLM (base64 payloads scrubbed); Artifacts
// retain the original bytes. Tool execution never raises — failures are
// encoded as Success=false with Error set.
type ToolResult struct {
	ToolCallID    string         `json:"tool_call_id"`
	Content       string         `json:"content"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	Artifacts     []Artifact     `json:"artifacts,omitempty"`
	DisplayConfig *DisplayConfig `json:"display_config,omitempty"`
	MetaData      map[string]any `json:"meta_data,omitempty"`
}
