// Package agentloop implements the autonomous execution strategies: ReAct
// (text-based reason/act/observe), Think-Act (a think control tool paired
// with one user tool per step), and Act (tool-only with a synthetic finished
// tool). Each strategy drives the LLM caller and tool executor and reports
// progress through agent events.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/stream"
	"github.com/chatloom/chatloom/pkg/tools"
)

// DefaultMaxSteps bounds a loop when the request does not set one.
const DefaultMaxSteps = 10

// EventHandler receives loop progress events. The relay maps them to
// publisher calls; handlers must not block.
type EventHandler func(ctx context.Context, event models.AgentEvent)

// Params carries everything a strategy needs for one run.
type Params struct {
	Model        string
	Messages     []llm.ChatMessage
	AgentContext *models.AgentContext
	// SelectedTools are qualified "<server>_<tool>" names the run may use.
	SelectedTools []string
	DataSources   []string
	MaxSteps      int
	Temperature   float32
	Streaming     bool
	EventHandler  EventHandler
	Publisher     events.Publisher
	Exec          *tools.ExecContext
}

func (p *Params) maxSteps() int {
	if p.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return p.MaxSteps
}

func (p *Params) emit(ctx context.Context, eventType models.AgentEventType, payload map[string]any) {
	if p.EventHandler == nil {
		return
	}
	p.EventHandler(ctx, models.AgentEvent{Type: eventType, Payload: payload})
}

// Strategy is one agent execution policy.
type Strategy interface {
	Name() string
	Run(ctx context.Context, p *Params) (*models.AgentResult, error)
}

// New returns the strategy for a configured name.
func New(name string, caller *llm.Caller, executor *tools.Executor) (Strategy, error) {
	switch name {
	case "react", "":
		return NewReActLoop(caller, executor), nil
	case "think-act", "think_act":
		return NewThinkActLoop(caller, executor), nil
	case "act":
		return NewActLoop(caller, executor), nil
	default:
		return nil, fmt.Errorf("unknown agent strategy %q", name)
	}
}

// emitFinalAnswer delivers the final answer: streamed token-by-token through
// the accumulator when streaming is on, otherwise left to the caller's
// response handling.
func emitFinalAnswer(ctx context.Context, p *Params, answer string) {
	if !p.Streaming || answer == "" {
		return
	}
	result := stream.Accumulate(ctx, literalStream(answer), p.Publisher, nil, "agent final answer")
	if result.Err != nil {
		slog.Warn("Agent final answer stream failed", "error", result.Err)
	}
}

func literalStream(text string) llm.Stream {
	ch := make(chan llm.StreamItem, 1)
	ch <- llm.Token{Text: text}
	close(ch)
	return ch
}

// forceSummarize asks for a best-effort final answer once max steps are
// exhausted without a conclusion.
func forceSummarize(ctx context.Context, caller *llm.Caller, p *Params, messages []llm.ChatMessage) (string, error) {
	prompt := llm.ChatMessage{
		Role: models.RoleSystem,
		Content: "You have reached the step limit. Summarize what you found so far " +
			"and give your best final answer to the user's question. Do not request any more tools.",
	}
	return caller.CallPlain(ctx, p.Model, append(append([]llm.ChatMessage{}, messages...), prompt), p.Temperature)
}

// executeToolCall runs one tool through the executor and reports the
// tool-level agent events around it.
func executeToolCall(ctx context.Context, executor *tools.Executor, p *Params, call models.ToolCall) *models.ToolResult {
	p.emit(ctx, models.AgentEventToolStart, map[string]any{
		"tool_call_id": call.ID, "tool_name": call.Name,
	})
	result := executor.Execute(ctx, call, p.Exec)
	p.emit(ctx, models.AgentEventToolComplete, map[string]any{
		"tool_call_id": call.ID, "tool_name": call.Name, "success": result.Success,
	})
	p.emit(ctx, models.AgentEventToolResults, map[string]any{
		"results": []*models.ToolResult{result},
	})
	return result
}
