// Package events defines the client event contract and the Publisher port.
//
// Every message delivered to a client is a JSON object with a "type" field.
// Two transports are provided: WebSocket (per-connection) and CLI (streaming
// to stdout/stderr, or collecting into a CollectedResult for programmatic
// use). Publishers are non-throwing from the caller's perspective: transport
// errors are logged and swallowed so orchestration never fails on delivery.
package events

// Client event types. The payload shape for each is documented on the
// corresponding payload struct.
const (
	EventTypeTokenStream        = "token_stream"
	EventTypeChatResponse       = "chat_response"
	EventTypeResponseComplete   = "response_complete"
	EventTypeAgentUpdate        = "agent_update"
	EventTypeToolStart          = "tool_start"
	EventTypeToolProgress       = "tool_progress"
	EventTypeToolComplete       = "tool_complete"
	EventTypeToolError          = "tool_error"
	EventTypeIntermediateUpdate = "intermediate_update"
	EventTypeCanvasContent      = "canvas_content"
	EventTypeElicitationRequest = "elicitation_request"
	EventTypeError              = "error"
	EventTypeSecurityWarning    = "security_warning"
	EventTypeConversationSaved  = "conversation_saved"
	EventTypeSessionReset       = "session_reset"
)

// Intermediate update subtypes (intermediate_update.update_type).
const (
	IntermediateFilesUpdate       = "files_update"
	IntermediateCanvasFiles       = "canvas_files"
	IntermediateProgressArtifacts = "progress_artifacts"
	IntermediateSystemMessage     = "system_message"
	IntermediateToolLog           = "tool_log"
)

// Security warning statuses.
const (
	SecurityStatusBlocked = "blocked"
	SecurityStatusWarning = "warning"
)

// TokenStreamPayload carries one incremental assistant token.
// IsFirst is true at most once per stream; IsLast exactly once — the
// zero-length terminator that closes the stream.
type TokenStreamPayload struct {
	Type    string `json:"type"`
	Token   string `json:"token"`
	IsFirst bool   `json:"is_first"`
	IsLast  bool   `json:"is_last"`
}

// ChatResponsePayload carries terminal assistant content for non-streaming
// delivery.
type ChatResponsePayload struct {
	Type            string `json:"type"`
	Message         string `json:"message"`
	HasPendingTools bool   `json:"has_pending_tools"`
}

// ToolStartPayload announces a tool dispatch. Arguments are UI-sanitized
// (signed URLs and storage prefixes reduced to clean basenames).
type ToolStartPayload struct {
	Type       string         `json:"type"`
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	ServerName string         `json:"server_name"`
	Arguments  map[string]any `json:"arguments"`
}

// ToolProgressPayload relays mid-execution progress from the MCP server.
type ToolProgressPayload struct {
	Type       string  `json:"type"`
	ToolCallID string  `json:"tool_call_id"`
	ToolName   string  `json:"tool_name"`
	Progress   float64 `json:"progress"`
	Total      float64 `json:"total"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
}

// ToolCompletePayload carries the UI-sanitized result of a finished tool call.
type ToolCompletePayload struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Success    bool   `json:"success"`
	Result     any    `json:"result"`
}

// ToolErrorPayload reports a failed tool call.
type ToolErrorPayload struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Error      string `json:"error"`
}

// IntermediateUpdatePayload carries auxiliary UI updates (files, canvas
// files, progress artifacts, system messages, tool logs).
type IntermediateUpdatePayload struct {
	Type       string         `json:"type"`
	UpdateType string         `json:"update_type"`
	Data       map[string]any `json:"data"`
}

// CanvasContentPayload pushes renderable content to the client's canvas panel.
type CanvasContentPayload struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// ElicitationRequestPayload asks the client to approve, reject, or edit a
// pending tool call.
type ElicitationRequestPayload struct {
	Type           string         `json:"type"`
	ElicitationID  string         `json:"elicitation_id"`
	ToolCallID     string         `json:"tool_call_id"`
	ToolName       string         `json:"tool_name"`
	Message        string         `json:"message"`
	ResponseSchema map[string]any `json:"response_schema,omitempty"`
}

// SecurityWarningPayload notifies the client of a blocked or flagged
// interaction.
type SecurityWarningPayload struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ConversationSavedPayload confirms history persistence.
type ConversationSavedPayload struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// SessionResetPayload tells the client its session was reset.
type SessionResetPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}
