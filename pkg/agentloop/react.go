package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/mcp"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/tools"
)

// ReActLoop is the Reason + Act + Observe strategy with text-based tool
// calling: tools are described in the system prompt and invoked through
// Action / Action Input sections rather than native function calls.
type ReActLoop struct {
	caller   *llm.Caller
	executor *tools.Executor
	logger   *slog.Logger
}

var _ Strategy = (*ReActLoop)(nil)

// NewReActLoop creates the ReAct strategy.
func NewReActLoop(caller *llm.Caller, executor *tools.Executor) *ReActLoop {
	return &ReActLoop{caller: caller, executor: executor, logger: slog.Default().With("strategy", "react")}
}

func (l *ReActLoop) Name() string { return "react" }

func (l *ReActLoop) Run(ctx context.Context, p *Params) (*models.AgentResult, error) {
	maxSteps := p.maxSteps()
	p.emit(ctx, models.AgentEventStart, map[string]any{"max_steps": maxSteps, "strategy": l.Name()})

	defs := l.executor.GetToolsSchema(ctx, p.SelectedTools)
	messages := append([]llm.ChatMessage{reactSystemMessage(defs)}, p.Messages...)
	toolNames := make(map[string]bool, len(defs))
	for _, def := range defs {
		toolNames[def.Name] = true
	}

	result := &models.AgentResult{Metadata: map[string]any{"strategy": l.Name()}}

	for step := 1; step <= maxSteps; step++ {
		p.emit(ctx, models.AgentEventTurnStart, map[string]any{"step": step})

		text, err := l.complete(ctx, p, messages)
		if err != nil {
			p.emit(ctx, models.AgentEventError, map[string]any{"step": step, "error": err.Error()})
			// Feed the failure back as an observation and keep going.
			messages = append(messages, llm.ChatMessage{
				Role:    models.RoleUser,
				Content: fmt.Sprintf("Observation: the previous attempt failed (%s). Please try again.", err),
			})
			continue
		}
		messages = append(messages, llm.ChatMessage{Role: models.RoleAssistant, Content: text})

		parsed := parseReAct(text)
		if parsed.Thought != "" {
			p.emit(ctx, models.AgentEventReason, map[string]any{"step": step, "thought": parsed.Thought})
		}
		stepRecord := models.AgentStep{Step: step, Thought: parsed.Thought}

		switch {
		case parsed.HasAction:
			observation := l.runAction(ctx, p, parsed, toolNames, defs, &stepRecord)
			p.emit(ctx, models.AgentEventObserve, map[string]any{"step": step})
			messages = append(messages, llm.ChatMessage{Role: models.RoleUser, Content: observation})
			stepRecord.Observation = observation
			result.Steps = append(result.Steps, stepRecord)

		case parsed.IsFinalAnswer:
			result.Steps = append(result.Steps, stepRecord)
			result.FinalAnswer = parsed.FinalAnswer
			emitFinalAnswer(ctx, p, result.FinalAnswer)
			p.emit(ctx, models.AgentEventCompletion, map[string]any{"steps": step})
			return result, nil

		default:
			feedback := formatFeedback(parsed)
			messages = append(messages, llm.ChatMessage{Role: models.RoleUser, Content: feedback})
			stepRecord.Observation = feedback
			result.Steps = append(result.Steps, stepRecord)
		}
	}

	answer, err := forceSummarize(ctx, l.caller, p, messages)
	if err != nil {
		p.emit(ctx, models.AgentEventError, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("forced summarization failed: %w", err)
	}
	result.FinalAnswer = answer
	result.Metadata["forced_summarization"] = true
	emitFinalAnswer(ctx, p, answer)
	p.emit(ctx, models.AgentEventCompletion, map[string]any{"steps": maxSteps})
	return result, nil
}

func (l *ReActLoop) complete(ctx context.Context, p *Params, messages []llm.ChatMessage) (string, error) {
	if len(p.DataSources) > 0 {
		return l.caller.CallWithRAG(ctx, p.Model, messages, p.AgentContext.UserEmail, p.DataSources, p.Temperature)
	}
	return l.caller.CallPlain(ctx, p.Model, messages, p.Temperature)
}

// runAction validates and executes the parsed tool call, returning the
// observation text appended to the conversation.
func (l *ReActLoop) runAction(ctx context.Context, p *Params, parsed *reactResponse, toolNames map[string]bool, defs []llm.ToolDefinition, stepRecord *models.AgentStep) string {
	if !toolNames[parsed.Action] {
		l.logger.Warn("Agent requested unknown tool", "tool", parsed.Action)
		return unknownToolObservation(parsed.Action, defs)
	}

	call := models.ToolCall{
		ID:        uuid.NewString(),
		Name:      parsed.Action,
		Arguments: mcp.ParseToolArguments(parsed.ActionInput),
	}
	stepRecord.ToolCalls = append(stepRecord.ToolCalls, call)

	toolResult := executeToolCall(ctx, l.executor, p, call)
	stepRecord.ToolResults = append(stepRecord.ToolResults, *toolResult)

	if !toolResult.Success {
		return fmt.Sprintf("Observation: Error executing %s: %s", call.Name, toolResult.Error)
	}
	return fmt.Sprintf("Observation: %s", toolResult.Content)
}

// reactSystemMessage describes the available tools and the expected format.
func reactSystemMessage(defs []llm.ToolDefinition) llm.ChatMessage {
	var b strings.Builder
	b.WriteString("You can use the following tools:\n")
	for _, def := range defs {
		fmt.Fprintf(&b, "  - %s: %s\n", def.Name, def.Description)
	}
	b.WriteString(`
Respond using this exact format:

Thought: your reasoning about what to do next
Action: the tool name to call
Action Input: the tool arguments as JSON

or, when you know the answer:

Thought: your final reasoning
Final Answer: the complete answer for the user

Stop after Action Input; the system will provide the Observation.`)
	return llm.ChatMessage{Role: models.RoleSystem, Content: b.String()}
}

func unknownToolObservation(name string, defs []llm.ToolDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Observation: Error - unknown tool %q.", name)
	if len(defs) > 0 {
		b.WriteString("\nAvailable tools:\n")
		for _, def := range defs {
			fmt.Fprintf(&b, "  - %s\n", def.Name)
		}
	}
	return b.String()
}

// reactResponse is a parsed ReAct-format reply.
type reactResponse struct {
	Thought       string
	HasAction     bool
	Action        string
	ActionInput   string
	IsFinalAnswer bool
	FinalAnswer   string
}

// parseReAct splits a response into Thought / Action / Action Input /
// Final Answer sections. When both an action and a final answer appear the
// action wins: a final answer is terminal, nothing should follow it.
func parseReAct(text string) *reactResponse {
	sections := map[string][]string{}
	current := ""
	for _, rawLine := range strings.Split(strings.TrimSpace(text), "\n") {
		line := strings.TrimSpace(rawLine)
		switch {
		case strings.HasPrefix(line, "Thought:"):
			current = "thought"
			sections[current] = append(sections[current], strings.TrimSpace(strings.TrimPrefix(line, "Thought:")))
		case strings.HasPrefix(line, "Action Input:"):
			current = "action_input"
			sections[current] = append(sections[current], strings.TrimSpace(strings.TrimPrefix(line, "Action Input:")))
		case strings.HasPrefix(line, "Action:"):
			current = "action"
			sections[current] = append(sections[current], strings.TrimSpace(strings.TrimPrefix(line, "Action:")))
		case strings.HasPrefix(line, "Final Answer:"):
			current = "final_answer"
			sections[current] = append(sections[current], strings.TrimSpace(strings.TrimPrefix(line, "Final Answer:")))
		case strings.HasPrefix(line, "Observation:"):
			// Hallucinated observation: stop, the system supplies these.
			current = ""
		default:
			if current != "" {
				sections[current] = append(sections[current], rawLine)
			}
		}
	}

	join := func(key string) string {
		return strings.TrimSpace(strings.Join(sections[key], "\n"))
	}

	out := &reactResponse{Thought: join("thought")}
	if action := join("action"); action != "" {
		out.HasAction = true
		out.Action = strings.TrimSpace(strings.SplitN(action, "\n", 2)[0])
		out.ActionInput = join("action_input")
		return out
	}
	if answer := join("final_answer"); answer != "" {
		out.IsFinalAnswer = true
		out.FinalAnswer = answer
	}
	return out
}

// formatFeedback tells the model what was missing from a malformed reply.
func formatFeedback(parsed *reactResponse) string {
	if parsed.Thought != "" {
		return "Your response only contained a Thought. After reasoning you must either call a tool " +
			"with \"Action:\" and \"Action Input:\" or conclude with \"Final Answer:\"."
	}
	return "Could not parse your response. Use the exact section headers " +
		"\"Thought:\", \"Action:\", \"Action Input:\", and \"Final Answer:\", each on its own line."
}
