package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chatloom/chatloom/pkg/models"
)

// OpenAIProvider adapts any OpenAI-compatible chat completions endpoint to
// the Provider contract. Safe for concurrent use; each streaming call owns
// its own goroutine and channel.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider for api.openai.com.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return newOpenAIProvider(openai.DefaultConfig(apiKey))
}

// NewOpenAICompatibleProvider creates a provider for a self-hosted
// OpenAI-compatible endpoint (vLLM, Ollama, a gateway).
func NewOpenAICompatibleProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newOpenAIProvider(cfg)
}

func newOpenAIProvider(cfg openai.ClientConfig) *OpenAIProvider {
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cfg),
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     slog.Default(),
	}
}

// Complete performs a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Response, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp openai.ChatCompletionResponse
	err = p.withRetry(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	out := &Response{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		call, convErr := toModelToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments)
		if convErr != nil {
			return nil, convErr
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

// StreamCompletion starts a streaming chat completion. Text deltas arrive as
// Token items; accumulated tool calls arrive on the terminal Final item.
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, req CompletionRequest) (Stream, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true

	var stream *openai.ChatCompletionStream
	err = p.withRetry(ctx, func() error {
		var callErr error
		stream, callErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("starting completion stream failed: %w", err)
	}

	items := make(chan StreamItem)
	go p.pumpStream(ctx, stream, items)
	return items, nil
}

// pumpStream drains the SDK stream, accumulating incremental tool-call
// fragments by index. The SDK streams a tool call's id and name in the first
// fragment and its JSON arguments across subsequent ones.
func (p *OpenAIProvider) pumpStream(ctx context.Context, stream *openai.ChatCompletionStream, items chan<- StreamItem) {
	defer close(items)
	defer stream.Close()

	type partialCall struct {
		id   string
		name string
		args string
	}
	partials := make(map[int]*partialCall)
	var order []int
	var content string

	emitFinal := func() {
		final := &Response{Content: content}
		for _, idx := range order {
			pc := partials[idx]
			if pc.id == "" || pc.name == "" {
				continue
			}
			call, err := toModelToolCall(pc.id, pc.name, pc.args)
			if err != nil {
				p.logger.Warn("Dropping malformed streamed tool call",
					"tool", pc.name, "error", err)
				continue
			}
			final.ToolCalls = append(final.ToolCalls, call)
		}
		items <- Final{Response: final}
	}

	for {
		select {
		case <-ctx.Done():
			items <- StreamErr{Err: ctx.Err()}
			return
		default:
		}

		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				emitFinal()
			} else {
				items <- StreamErr{Err: err}
			}
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			items <- Token{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc := partials[idx]
			if pc == nil {
				pc = &partialCall{}
				partials[idx] = pc
				order = append(order, idx)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args += tc.Function.Arguments
		}
	}
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) (openai.ChatCompletionRequest, error) {
	messages, err := toOpenAIMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		if req.ToolChoiceRequired {
			chatReq.ToolChoice = "required"
		}
	}
	return chatReq, nil
}

// withRetry runs call with linear backoff on transient failures.
func (p *OpenAIProvider) withRetry(ctx context.Context, call func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("Retrying LLM request",
				"attempt", attempt+1, "max_attempts", p.maxRetries, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable reports whether an API failure is worth retrying: rate limits
// and server-side errors, not auth or validation failures.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return false
}

func toOpenAIMessages(messages []ChatMessage) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			args := tc.RawArguments
			if args == "" {
				raw, err := json.Marshal(tc.Arguments)
				if err != nil {
					return nil, fmt.Errorf("marshaling tool call %s arguments: %w", tc.Name, err)
				}
				args = string(raw)
			}
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, oaiMsg)
	}
	return out, nil
}

func toOpenAITools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

func toModelToolCall(id, name, rawArgs string) (models.ToolCall, error) {
	args, err := ParseToolCallArguments(rawArgs)
	if err != nil {
		return models.ToolCall{}, fmt.Errorf("tool call %s: %w", name, err)
	}
	return models.ToolCall{ID: id, Name: name, Arguments: args, RawArguments: rawArgs}, nil
}
