package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// RAGResult is the outcome of querying one data source.
type RAGResult struct {
	Content      string
	Metadata     map[string]any
	IsCompletion bool
}

// Retriever is the RAG port consumed by the caller. Qualified sources use
// the "<server>:<source_id>" form.
type Retriever interface {
	Query(ctx context.Context, userEmail, qualifiedSource string, messages []ChatMessage) (*RAGResult, error)
}

// Caller provides the eight LLM entry points: {call,stream} × {plain,
// with-tools, with-RAG, with-RAG-and-tools}. RAG variants retrieve context
// from the configured sources and inject it ahead of the latest user message
// before delegating to the provider.
type Caller struct {
	provider  Provider
	retriever Retriever
	logger    *slog.Logger
}

// NewCaller creates a caller. retriever may be nil when RAG is not
// configured; RAG entry points then degrade to their plain equivalents.
func NewCaller(provider Provider, retriever Retriever) *Caller {
	return &Caller{provider: provider, retriever: retriever, logger: slog.Default()}
}

// CallPlain performs a tool-less, retrieval-less completion.
func (c *Caller) CallPlain(ctx context.Context, model string, messages []ChatMessage, temperature float32) (string, error) {
	resp, err := c.provider.Complete(ctx, CompletionRequest{
		Model: model, Messages: messages, Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// StreamPlain streams a tool-less, retrieval-less completion.
func (c *Caller) StreamPlain(ctx context.Context, model string, messages []ChatMessage, temperature float32) (Stream, error) {
	return c.provider.StreamCompletion(ctx, CompletionRequest{
		Model: model, Messages: messages, Temperature: temperature,
	})
}

// CallWithTools performs a completion with tools bound for native calling.
func (c *Caller) CallWithTools(ctx context.Context, model string, messages []ChatMessage, tools []ToolDefinition, toolChoiceRequired bool, temperature float32) (*Response, error) {
	return c.provider.Complete(ctx, CompletionRequest{
		Model: model, Messages: messages, Tools: tools,
		ToolChoiceRequired: toolChoiceRequired, Temperature: temperature,
	})
}

// StreamWithTools streams a completion with tools bound. The terminal Final
// item carries any accumulated tool calls.
func (c *Caller) StreamWithTools(ctx context.Context, model string, messages []ChatMessage, tools []ToolDefinition, toolChoiceRequired bool, temperature float32) (Stream, error) {
	return c.provider.StreamCompletion(ctx, CompletionRequest{
		Model: model, Messages: messages, Tools: tools,
		ToolChoiceRequired: toolChoiceRequired, Temperature: temperature,
	})
}

// CallWithRAG retrieves context from the data sources and completes.
// When a backend answers with a full completion (IsCompletion), that answer
// is returned directly without an LLM round trip.
func (c *Caller) CallWithRAG(ctx context.Context, model string, messages []ChatMessage, userEmail string, dataSources []string, temperature float32) (string, error) {
	augmented, direct, err := c.augmentWithRAG(ctx, messages, userEmail, dataSources)
	if err != nil {
		return "", err
	}
	if direct != "" {
		return direct, nil
	}
	return c.CallPlain(ctx, model, augmented, temperature)
}

// StreamWithRAG retrieves context from the data sources and streams the
// completion. A backend completion is replayed as a single-token stream so
// downstream accumulation behaves identically.
func (c *Caller) StreamWithRAG(ctx context.Context, model string, messages []ChatMessage, userEmail string, dataSources []string, temperature float32) (Stream, error) {
	augmented, direct, err := c.augmentWithRAG(ctx, messages, userEmail, dataSources)
	if err != nil {
		return nil, err
	}
	if direct != "" {
		return literalStream(direct), nil
	}
	return c.StreamPlain(ctx, model, augmented, temperature)
}

// CallWithRAGAndTools combines retrieval context with bound tools.
func (c *Caller) CallWithRAGAndTools(ctx context.Context, model string, messages []ChatMessage, userEmail string, dataSources []string, tools []ToolDefinition, toolChoiceRequired bool, temperature float32) (*Response, error) {
	augmented, direct, err := c.augmentWithRAG(ctx, messages, userEmail, dataSources)
	if err != nil {
		return nil, err
	}
	if direct != "" {
		return &Response{Content: direct}, nil
	}
	return c.CallWithTools(ctx, model, augmented, tools, toolChoiceRequired, temperature)
}

// StreamWithRAGAndTools combines retrieval context with bound tools,
// streaming the result.
func (c *Caller) StreamWithRAGAndTools(ctx context.Context, model string, messages []ChatMessage, userEmail string, dataSources []string, tools []ToolDefinition, toolChoiceRequired bool, temperature float32) (Stream, error) {
	augmented, direct, err := c.augmentWithRAG(ctx, messages, userEmail, dataSources)
	if err != nil {
		return nil, err
	}
	if direct != "" {
		return literalStream(direct), nil
	}
	return c.StreamWithTools(ctx, model, augmented, tools, toolChoiceRequired, temperature)
}

// augmentWithRAG queries each data source and injects the retrieved context
// as a system message ahead of the existing conversation. When any backend
// reports a full completion, its content is returned as direct and no
// augmentation happens. Per-source failures are logged and skipped — partial
// context is better than none.
func (c *Caller) augmentWithRAG(ctx context.Context, messages []ChatMessage, userEmail string, dataSources []string) (augmented []ChatMessage, direct string, err error) {
	if c.retriever == nil || len(dataSources) == 0 {
		return messages, "", nil
	}

	var sections []string
	for _, source := range dataSources {
		result, qerr := c.retriever.Query(ctx, userEmail, source, messages)
		if qerr != nil {
			c.logger.Warn("RAG query failed, skipping source",
				"source", source, "error", qerr)
			continue
		}
		if result == nil || result.Content == "" {
			continue
		}
		if result.IsCompletion {
			return nil, result.Content, nil
		}
		sections = append(sections, fmt.Sprintf("### Source: %s\n%s", source, result.Content))
	}

	if len(sections) == 0 {
		return messages, "", nil
	}

	contextMsg := ChatMessage{
		Role: "system",
		Content: "Use the following retrieved context to answer the user's question. " +
			"Cite the source when relevant.\n\n" + strings.Join(sections, "\n\n"),
	}

	augmented = make([]ChatMessage, 0, len(messages)+1)
	augmented = append(augmented, contextMsg)
	augmented = append(augmented, messages...)
	return augmented, "", nil
}

// literalStream wraps a pre-computed answer in a closed single-token stream.
func literalStream(content string) Stream {
	ch := make(chan StreamItem, 2)
	ch <- Token{Text: content}
	ch <- Final{Response: &Response{Content: content}}
	close(ch)
	return ch
}
