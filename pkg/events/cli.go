package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// CLIStreamingPublisher writes assistant tokens to stdout and status events
// to stderr. Used by the one-shot CLI client in interactive mode.
type CLIStreamingPublisher struct {
	out io.Writer
	err io.Writer
}

var _ Publisher = (*CLIStreamingPublisher)(nil)

// NewCLIStreamingPublisher creates a publisher writing to stdout/stderr.
func NewCLIStreamingPublisher() *CLIStreamingPublisher {
	return &CLIStreamingPublisher{out: os.Stdout, err: os.Stderr}
}

// NewCLIStreamingPublisherTo creates a publisher with explicit writers.
// Tests use this to capture output.
func NewCLIStreamingPublisherTo(out, errOut io.Writer) *CLIStreamingPublisher {
	return &CLIStreamingPublisher{out: out, err: errOut}
}

func (p *CLIStreamingPublisher) status(format string, args ...any) {
	fmt.Fprintf(p.err, format+"\n", args...)
}

func (p *CLIStreamingPublisher) PublishChatResponse(_ context.Context, message string, _ bool) {
	fmt.Fprintln(p.out, message)
}

func (p *CLIStreamingPublisher) PublishResponseComplete(_ context.Context) {
	fmt.Fprintln(p.out)
}

func (p *CLIStreamingPublisher) PublishAgentUpdate(_ context.Context, updateType string, extra map[string]any) {
	if step, ok := extra["step"]; ok {
		p.status("[agent] %s (step %v)", updateType, step)
		return
	}
	p.status("[agent] %s", updateType)
}

func (p *CLIStreamingPublisher) PublishToolStart(_ context.Context, _, toolName, serverName string, _ map[string]any) {
	p.status("[tool] %s/%s started", serverName, toolName)
}

func (p *CLIStreamingPublisher) PublishToolProgress(_ context.Context, _, toolName string, progress, total float64, message string) {
	if total > 0 {
		p.status("[tool] %s %.0f%% %s", toolName, percentage(progress, total), message)
		return
	}
	p.status("[tool] %s %s", toolName, message)
}

func (p *CLIStreamingPublisher) PublishToolComplete(_ context.Context, _, toolName string, success bool, _ any) {
	p.status("[tool] %s completed (success=%v)", toolName, success)
}

func (p *CLIStreamingPublisher) PublishToolError(_ context.Context, _, toolName, errMsg string) {
	p.status("[tool] %s failed: %s", toolName, errMsg)
}

func (p *CLIStreamingPublisher) PublishTokenStream(_ context.Context, token string, _, isLast bool) {
	if isLast {
		fmt.Fprintln(p.out)
		return
	}
	fmt.Fprint(p.out, token)
}

func (p *CLIStreamingPublisher) PublishFilesUpdate(_ context.Context, files map[string]any) {
	p.status("[files] %d file(s) in session", len(files))
}

func (p *CLIStreamingPublisher) PublishCanvasContent(_ context.Context, _, contentType string) {
	p.status("[canvas] content updated (%s)", contentType)
}

func (p *CLIStreamingPublisher) PublishIntermediateUpdate(_ context.Context, updateType string, _ map[string]any) {
	p.status("[update] %s", updateType)
}

func (p *CLIStreamingPublisher) PublishElicitationRequest(_ context.Context, _, _, toolName, message string, _ map[string]any) {
	p.status("[approval] %s: %s", toolName, message)
}

func (p *CLIStreamingPublisher) SendJSON(_ context.Context, data map[string]any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	p.status("%s", raw)
}

// CollectedResult aggregates everything a request emitted, for programmatic
// CLI use (and tests).
type CollectedResult struct {
	Message       string           `json:"message"`
	ToolCalls     []map[string]any `json:"tool_calls,omitempty"`
	Files         map[string]any   `json:"files,omitempty"`
	CanvasContent string           `json:"canvas_content,omitempty"`
	RawEvents     []map[string]any `json:"raw_events,omitempty"`
}

// CLICollectingPublisher buffers all events into a CollectedResult instead of
// writing to a terminal. Safe for concurrent publishes.
type CLICollectingPublisher struct {
	mu     sync.Mutex
	tokens []string
	result CollectedResult
}

var _ Publisher = (*CLICollectingPublisher)(nil)

// NewCLICollectingPublisher creates an empty collecting publisher.
func NewCLICollectingPublisher() *CLICollectingPublisher {
	return &CLICollectingPublisher{}
}

// Result returns a snapshot of everything collected so far. The assistant
// message is the accumulated token stream, or the last chat_response when no
// tokens were streamed.
func (p *CLICollectingPublisher) Result() CollectedResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.result
	if len(p.tokens) > 0 {
		var msg string
		for _, t := range p.tokens {
			msg += t
		}
		out.Message = msg
	}
	return out
}

func (p *CLICollectingPublisher) record(event map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.RawEvents = append(p.result.RawEvents, event)
}

func (p *CLICollectingPublisher) PublishChatResponse(_ context.Context, message string, hasPendingTools bool) {
	p.mu.Lock()
	p.result.Message = message
	p.mu.Unlock()
	p.record(map[string]any{
		"type": EventTypeChatResponse, "message": message, "has_pending_tools": hasPendingTools,
	})
}

func (p *CLICollectingPublisher) PublishResponseComplete(_ context.Context) {
	p.record(map[string]any{"type": EventTypeResponseComplete})
}

func (p *CLICollectingPublisher) PublishAgentUpdate(_ context.Context, updateType string, extra map[string]any) {
	event := map[string]any{"type": EventTypeAgentUpdate, "update_type": updateType}
	for k, v := range extra {
		event[k] = v
	}
	p.record(event)
}

func (p *CLICollectingPublisher) PublishToolStart(_ context.Context, toolCallID, toolName, serverName string, arguments map[string]any) {
	p.mu.Lock()
	p.result.ToolCalls = append(p.result.ToolCalls, map[string]any{
		"tool_call_id": toolCallID, "tool_name": toolName,
		"server_name": serverName, "arguments": arguments,
	})
	p.mu.Unlock()
	p.record(map[string]any{
		"type": EventTypeToolStart, "tool_call_id": toolCallID,
		"tool_name": toolName, "server_name": serverName, "arguments": arguments,
	})
}

func (p *CLICollectingPublisher) PublishToolProgress(_ context.Context, toolCallID, toolName string, progress, total float64, message string) {
	p.record(map[string]any{
		"type": EventTypeToolProgress, "tool_call_id": toolCallID, "tool_name": toolName,
		"progress": progress, "total": total, "percentage": percentage(progress, total), "message": message,
	})
}

func (p *CLICollectingPublisher) PublishToolComplete(_ context.Context, toolCallID, toolName string, success bool, result any) {
	p.record(map[string]any{
		"type": EventTypeToolComplete, "tool_call_id": toolCallID,
		"tool_name": toolName, "success": success, "result": result,
	})
}

func (p *CLICollectingPublisher) PublishToolError(_ context.Context, toolCallID, toolName, errMsg string) {
	p.record(map[string]any{
		"type": EventTypeToolError, "tool_call_id": toolCallID, "tool_name": toolName, "error": errMsg,
	})
}

func (p *CLICollectingPublisher) PublishTokenStream(_ context.Context, token string, isFirst, isLast bool) {
	p.mu.Lock()
	if token != "" {
		p.tokens = append(p.tokens, token)
	}
	p.mu.Unlock()
	p.record(map[string]any{
		"type": EventTypeTokenStream, "token": token, "is_first": isFirst, "is_last": isLast,
	})
}

func (p *CLICollectingPublisher) PublishFilesUpdate(_ context.Context, files map[string]any) {
	p.mu.Lock()
	p.result.Files = files
	p.mu.Unlock()
	p.record(map[string]any{
		"type": EventTypeIntermediateUpdate, "update_type": IntermediateFilesUpdate, "data": files,
	})
}

func (p *CLICollectingPublisher) PublishCanvasContent(_ context.Context, content, contentType string) {
	p.mu.Lock()
	p.result.CanvasContent = content
	p.mu.Unlock()
	p.record(map[string]any{
		"type": EventTypeCanvasContent, "content": content, "content_type": contentType,
	})
}

func (p *CLICollectingPublisher) PublishIntermediateUpdate(_ context.Context, updateType string, data map[string]any) {
	p.record(map[string]any{
		"type": EventTypeIntermediateUpdate, "update_type": updateType, "data": data,
	})
}

func (p *CLICollectingPublisher) PublishElicitationRequest(_ context.Context, elicitationID, toolCallID, toolName, message string, responseSchema map[string]any) {
	p.record(map[string]any{
		"type": EventTypeElicitationRequest, "elicitation_id": elicitationID,
		"tool_call_id": toolCallID, "tool_name": toolName,
		"message": message, "response_schema": responseSchema,
	})
}

func (p *CLICollectingPublisher) SendJSON(_ context.Context, data map[string]any) {
	p.record(data)
}
