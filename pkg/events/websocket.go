package events

import (
	"context"
	"log/slog"
)

// JSONSender delivers one JSON-marshalable message to a client. Implemented
// by the WebSocket connection wrapper in pkg/api.
type JSONSender interface {
	SendJSON(ctx context.Context, v any) error
}

// WebSocketPublisher forwards events to a single client connection.
// All sends go through the connection's serialized writer; failures are
// logged and swallowed per the Publisher contract.
type WebSocketPublisher struct {
	sender JSONSender
	logger *slog.Logger
}

var _ Publisher = (*WebSocketPublisher)(nil)

// NewWebSocketPublisher creates a publisher bound to one connection.
func NewWebSocketPublisher(sender JSONSender) *WebSocketPublisher {
	return &WebSocketPublisher{sender: sender, logger: slog.Default()}
}

func (p *WebSocketPublisher) send(ctx context.Context, eventType string, v any) {
	if err := p.sender.SendJSON(ctx, v); err != nil {
		p.logger.Warn("Failed to deliver event to WebSocket client",
			"event_type", eventType, "error", err)
	}
}

func (p *WebSocketPublisher) PublishChatResponse(ctx context.Context, message string, hasPendingTools bool) {
	p.send(ctx, EventTypeChatResponse, ChatResponsePayload{
		Type: EventTypeChatResponse, Message: message, HasPendingTools: hasPendingTools,
	})
}

func (p *WebSocketPublisher) PublishResponseComplete(ctx context.Context) {
	p.send(ctx, EventTypeResponseComplete, map[string]any{"type": EventTypeResponseComplete})
}

func (p *WebSocketPublisher) PublishAgentUpdate(ctx context.Context, updateType string, extra map[string]any) {
	payload := map[string]any{
		"type":        EventTypeAgentUpdate,
		"update_type": updateType,
	}
	for k, v := range extra {
		payload[k] = v
	}
	p.send(ctx, EventTypeAgentUpdate, payload)
}

func (p *WebSocketPublisher) PublishToolStart(ctx context.Context, toolCallID, toolName, serverName string, arguments map[string]any) {
	p.send(ctx, EventTypeToolStart, ToolStartPayload{
		Type: EventTypeToolStart, ToolCallID: toolCallID, ToolName: toolName,
		ServerName: serverName, Arguments: arguments,
	})
}

func (p *WebSocketPublisher) PublishToolProgress(ctx context.Context, toolCallID, toolName string, progress, total float64, message string) {
	p.send(ctx, EventTypeToolProgress, ToolProgressPayload{
		Type: EventTypeToolProgress, ToolCallID: toolCallID, ToolName: toolName,
		Progress: progress, Total: total, Percentage: percentage(progress, total), Message: message,
	})
}

func (p *WebSocketPublisher) PublishToolComplete(ctx context.Context, toolCallID, toolName string, success bool, result any) {
	p.send(ctx, EventTypeToolComplete, ToolCompletePayload{
		Type: EventTypeToolComplete, ToolCallID: toolCallID, ToolName: toolName,
		Success: success, Result: result,
	})
}

func (p *WebSocketPublisher) PublishToolError(ctx context.Context, toolCallID, toolName, errMsg string) {
	p.send(ctx, EventTypeToolError, ToolErrorPayload{
		Type: EventTypeToolError, ToolCallID: toolCallID, ToolName: toolName, Error: errMsg,
	})
}

func (p *WebSocketPublisher) PublishTokenStream(ctx context.Context, token string, isFirst, isLast bool) {
	p.send(ctx, EventTypeTokenStream, TokenStreamPayload{
		Type: EventTypeTokenStream, Token: token, IsFirst: isFirst, IsLast: isLast,
	})
}

func (p *WebSocketPublisher) PublishFilesUpdate(ctx context.Context, files map[string]any) {
	p.send(ctx, EventTypeIntermediateUpdate, IntermediateUpdatePayload{
		Type: EventTypeIntermediateUpdate, UpdateType: IntermediateFilesUpdate, Data: files,
	})
}

func (p *WebSocketPublisher) PublishCanvasContent(ctx context.Context, content, contentType string) {
	p.send(ctx, EventTypeCanvasContent, CanvasContentPayload{
		Type: EventTypeCanvasContent, Content: content, ContentType: contentType,
	})
}

func (p *WebSocketPublisher) PublishIntermediateUpdate(ctx context.Context, updateType string, data map[string]any) {
	p.send(ctx, EventTypeIntermediateUpdate, IntermediateUpdatePayload{
		Type: EventTypeIntermediateUpdate, UpdateType: updateType, Data: data,
	})
}

func (p *WebSocketPublisher) PublishElicitationRequest(ctx context.Context, elicitationID, toolCallID, toolName, message string, responseSchema map[string]any) {
	p.send(ctx, EventTypeElicitationRequest, ElicitationRequestPayload{
		Type: EventTypeElicitationRequest, ElicitationID: elicitationID,
		ToolCallID: toolCallID, ToolName: toolName, Message: message, ResponseSchema: responseSchema,
	})
}

func (p *WebSocketPublisher) SendJSON(ctx context.Context, data map[string]any) {
	eventType, _ := data["type"].(string)
	p.send(ctx, eventType, data)
}

// percentage computes progress/total as a 0-100 value, guarding division by
// zero for servers that report progress without a known total.
func percentage(progress, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return progress / total * 100
}
