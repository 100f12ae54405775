package events

import "context"

// Publisher is the port through which the runtime emits events to a client.
//
// Implementations must be non-throwing: transport failures are logged and
// swallowed so orchestration never aborts on delivery. Calls for a single
// request are made from a single goroutine; ordering on the wire matches
// call order.
type Publisher interface {
	// PublishChatResponse delivers terminal assistant content for
	// non-streaming mode. Precedes PublishResponseComplete when both occur.
	PublishChatResponse(ctx context.Context, message string, hasPendingTools bool)

	// PublishResponseComplete signals the end of the request turn.
	PublishResponseComplete(ctx context.Context)

	// PublishAgentUpdate surfaces agent-loop progress. extra holds the
	// update-type-specific fields merged into the emitted object.
	PublishAgentUpdate(ctx context.Context, updateType string, extra map[string]any)

	// PublishToolStart announces a tool dispatch with UI-sanitized arguments.
	PublishToolStart(ctx context.Context, toolCallID, toolName, serverName string, arguments map[string]any)

	// PublishToolProgress relays mid-execution progress for a tool call.
	PublishToolProgress(ctx context.Context, toolCallID, toolName string, progress, total float64, message string)

	// PublishToolComplete delivers the UI-sanitized result of a tool call.
	PublishToolComplete(ctx context.Context, toolCallID, toolName string, success bool, result any)

	// PublishToolError reports a failed tool call.
	PublishToolError(ctx context.Context, toolCallID, toolName, errMsg string)

	// PublishTokenStream emits one incremental assistant token.
	// isFirst is true at most once per stream; isLast exactly once.
	PublishTokenStream(ctx context.Context, token string, isFirst, isLast bool)

	// PublishFilesUpdate pushes the current files manifest to the client.
	PublishFilesUpdate(ctx context.Context, files map[string]any)

	// PublishCanvasContent pushes renderable content to the canvas panel.
	PublishCanvasContent(ctx context.Context, content, contentType string)

	// PublishIntermediateUpdate emits an auxiliary UI update.
	PublishIntermediateUpdate(ctx context.Context, updateType string, data map[string]any)

	// PublishElicitationRequest asks the client to approve/reject/edit a
	// pending tool call.
	PublishElicitationRequest(ctx context.Context, elicitationID, toolCallID, toolName, message string, responseSchema map[string]any)

	// SendJSON is the raw escape hatch for security warnings and structured
	// errors. data must already contain a "type" field.
	SendJSON(ctx context.Context, data map[string]any)
}
