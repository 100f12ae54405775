// Package llm defines the LLM caller port: plain, tool-augmented, and
// RAG-augmented entry points with streaming variants, plus the provider
// adapter contract and the failure classifier.
package llm

import (
	"context"

	"github.com/chatloom/chatloom/pkg/models"
)

// ChatMessage is the provider-facing message shape. Assistant messages may
// carry tool calls; tool messages pair with a call via ToolCallID.
type ChatMessage struct {
	Role       models.MessageRole `json:"role"`
	Content    string             `json:"content"`
	ToolCalls  []models.ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Name       string             `json:"name,omitempty"`
}

// ToolDefinition describes one callable tool for native function calling.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Response is a complete (non-streamed or fully collected) LLM response.
type Response struct {
	Content   string            `json:"content"`
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the response requests tool execution.
func (r *Response) HasToolCalls() bool { return r != nil && len(r.ToolCalls) > 0 }

// CompletionRequest is the provider-facing request.
type CompletionRequest struct {
	Model              string
	Messages           []ChatMessage
	Tools              []ToolDefinition
	ToolChoiceRequired bool
	Temperature        float32
}

// StreamItem is one element of a token stream: a text token, the terminal
// response object (carrying tool calls), or a mid-stream failure.
type StreamItem interface{ streamItem() }

// Token is an incremental text delta.
type Token struct{ Text string }

// Final is the terminal item of a stream. Present when the provider reports
// a complete response object (e.g. accumulated tool calls); absent for plain
// text streams that simply close.
type Final struct{ Response *Response }

// StreamErr conveys a mid-stream failure. The channel closes after it.
type StreamErr struct{ Err error }

func (Token) streamItem()     {}
func (Final) streamItem()     {}
func (StreamErr) streamItem() {}

// Stream is a channel of stream items. The producer closes it when the
// stream ends, after at most one Final or StreamErr.
type Stream <-chan StreamItem

// Provider is the external LLM adapter contract. Implementations own any
// process-wide SDK state (environment mutation, client caches).
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Response, error)
	StreamCompletion(ctx context.Context, req CompletionRequest) (Stream, error)
}
