package agentloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/tools"
)

// scriptProvider plays back a fixed sequence of completions.
type scriptProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	calls     int
}

func (p *scriptProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.responses) {
		return nil, errors.New("script exhausted")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptProvider) StreamCompletion(context.Context, llm.CompletionRequest) (llm.Stream, error) {
	return nil, errors.New("streaming not scripted")
}

type recordedEvents struct {
	events []models.AgentEvent
}

func (r *recordedEvents) handler() EventHandler {
	return func(_ context.Context, event models.AgentEvent) {
		r.events = append(r.events, event)
	}
}

func (r *recordedEvents) types() []models.AgentEventType {
	out := make([]models.AgentEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newLoopParams(rec *recordedEvents, pub *events.CLICollectingPublisher, selectedTools []string) *Params {
	return &Params{
		Model:         "gpt-4o",
		Messages:      []llm.ChatMessage{{Role: models.RoleUser, Content: "show hi in the canvas, then finish"}},
		AgentContext:  &models.AgentContext{SessionID: "s1", UserEmail: "alice@example.com"},
		SelectedTools: selectedTools,
		MaxSteps:      4,
		Temperature:   0.7,
		EventHandler:  rec.handler(),
		Publisher:     pub,
		Exec:          &tools.ExecContext{UserEmail: "alice@example.com", Publisher: pub},
	}
}

func newLoopExecutor() *tools.Executor {
	registry := config.NewMCPServerRegistry(nil)
	return tools.NewExecutor(nil, registry, nil, nil, nil, config.SecurityConfig{}, 0)
}

func TestParseReAct(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		expect reactResponse
	}{
		{
			name: "action with input",
			text: "Thought: I should read the file.\nAction: reader_read\nAction Input: {\"filename\": \"a.txt\"}",
			expect: reactResponse{
				Thought:     "I should read the file.",
				HasAction:   true,
				Action:      "reader_read",
				ActionInput: `{"filename": "a.txt"}`,
			},
		},
		{
			name:   "final answer",
			text:   "Thought: done\nFinal Answer: The file holds 42 rows.",
			expect: reactResponse{Thought: "done", IsFinalAnswer: true, FinalAnswer: "The file holds 42 rows."},
		},
		{
			name: "action wins over final answer",
			text: "Action: reader_read\nAction Input: {}\nFinal Answer: premature",
			expect: reactResponse{
				HasAction: true, Action: "reader_read", ActionInput: "{}",
			},
		},
		{
			name:   "thought only is not final",
			text:   "Thought: hmm, let me think more",
			expect: reactResponse{Thought: "hmm, let me think more"},
		},
		{
			name:   "hallucinated observation ignored",
			text:   "Thought: ok\nObservation: fabricated\nFinal Answer: real answer",
			expect: reactResponse{Thought: "ok", IsFinalAnswer: true, FinalAnswer: "real answer"},
		},
		{
			name: "multiline final answer",
			text: "Final Answer: line one\nline two",
			expect: reactResponse{
				IsFinalAnswer: true, FinalAnswer: "line one\nline two",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := parseReAct(tt.text)
			assert.Equal(t, tt.expect.Thought, parsed.Thought)
			assert.Equal(t, tt.expect.HasAction, parsed.HasAction)
			assert.Equal(t, tt.expect.Action, parsed.Action)
			assert.Equal(t, tt.expect.ActionInput, parsed.ActionInput)
			assert.Equal(t, tt.expect.IsFinalAnswer, parsed.IsFinalAnswer)
			assert.Equal(t, tt.expect.FinalAnswer, parsed.FinalAnswer)
		})
	}
}

func TestReActLoopToolThenFinalAnswer(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{
		{Content: "Thought: render it\nAction: canvas_canvas\nAction Input: {\"content\": \"hi\"}"},
		{Content: "Thought: displayed\nFinal Answer: Rendered the content in the canvas."},
	}}
	rec := &recordedEvents{}
	pub := events.NewCLICollectingPublisher()

	loop := NewReActLoop(llm.NewCaller(provider, nil), newLoopExecutor())
	result, err := loop.Run(context.Background(), newLoopParams(rec, pub, []string{tools.CanvasToolName}))
	require.NoError(t, err)

	assert.Equal(t, "Rendered the content in the canvas.", result.FinalAnswer)
	require.Len(t, result.Steps, 2)
	require.Len(t, result.Steps[0].ToolCalls, 1)
	assert.Equal(t, tools.CanvasToolName, result.Steps[0].ToolCalls[0].Name)
	assert.Equal(t, "hi", pub.Result().CanvasContent)

	types := rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, models.AgentEventStart, types[0])
	assert.Equal(t, models.AgentEventCompletion, types[len(types)-1])
	assert.Contains(t, types, models.AgentEventToolStart)
	assert.Contains(t, types, models.AgentEventToolComplete)
	assert.Contains(t, types, models.AgentEventToolResults)
	assert.Contains(t, types, models.AgentEventObserve)
}

func TestReActLoopUnknownTool(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{
		{Content: "Thought: try this\nAction: mystery_tool\nAction Input: {}"},
		{Content: "Final Answer: Gave up on the tool."},
	}}
	rec := &recordedEvents{}
	pub := events.NewCLICollectingPublisher()

	loop := NewReActLoop(llm.NewCaller(provider, nil), newLoopExecutor())
	result, err := loop.Run(context.Background(), newLoopParams(rec, pub, []string{tools.CanvasToolName}))
	require.NoError(t, err)
	assert.Equal(t, "Gave up on the tool.", result.FinalAnswer)
	// Unknown tool produced an observation, not an execution.
	assert.Empty(t, result.Steps[0].ToolCalls)
	assert.Contains(t, result.Steps[0].Observation, "unknown tool")
}

func TestReActLoopForcedSummarization(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{
		{Content: "Thought: pondering"},
		{Content: "Thought: still pondering"},
		{Content: "Best-effort summary."},
	}}
	rec := &recordedEvents{}
	pub := events.NewCLICollectingPublisher()

	params := newLoopParams(rec, pub, nil)
	params.MaxSteps = 2

	loop := NewReActLoop(llm.NewCaller(provider, nil), newLoopExecutor())
	result, err := loop.Run(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "Best-effort summary.", result.FinalAnswer)
	assert.Equal(t, true, result.Metadata["forced_summarization"])
}

func TestReActLoopStreamingFinalAnswer(t *testing.T) {
	provider := &scriptProvider{responses: []*llm.Response{
		{Content: "Final Answer: Streamed answer."},
	}}
	rec := &recordedEvents{}
	pub := events.NewCLICollectingPublisher()

	params := newLoopParams(rec, pub, nil)
	params.Streaming = true

	loop := NewReActLoop(llm.NewCaller(provider, nil), newLoopExecutor())
	result, err := loop.Run(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "Streamed answer.", result.FinalAnswer)

	var sawLast bool
	for _, event := range pub.Result().RawEvents {
		if event["type"] == events.EventTypeTokenStream && event["is_last"] == true {
			sawLast = true
		}
	}
	assert.True(t, sawLast, "final answer should stream with a terminator")
	assert.Equal(t, "Streamed answer.", pub.Result().Message)
}

func TestNewStrategy(t *testing.T) {
	caller := llm.NewCaller(&scriptProvider{}, nil)
	executor := newLoopExecutor()

	for name, want := range map[string]string{
		"":          "react",
		"react":     "react",
		"think-act": "think-act",
		"act":       "act",
	} {
		strategy, err := New(name, caller, executor)
		require.NoError(t, err, name)
		assert.Equal(t, want, strategy.Name(), fmt.Sprintf("strategy for %q", name))
	}

	_, err := New("spiral", caller, executor)
	assert.ErrorContains(t, err, "unknown agent strategy")
}
