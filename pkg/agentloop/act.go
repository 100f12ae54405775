package agentloop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/tools"
)

// finishedToolName is the synthetic control tool that ends an Act run.
const finishedToolName = "finished"

// ActLoop is the tool-only strategy: every turn forces a tool choice, and
// the run ends when the model calls the synthetic finished tool.
type ActLoop struct {
	caller   *llm.Caller
	executor *tools.Executor
	logger   *slog.Logger
}

var _ Strategy = (*ActLoop)(nil)

// NewActLoop creates the Act strategy.
func NewActLoop(caller *llm.Caller, executor *tools.Executor) *ActLoop {
	return &ActLoop{caller: caller, executor: executor, logger: slog.Default().With("strategy", "act")}
}

func (l *ActLoop) Name() string { return "act" }

func finishedToolDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        finishedToolName,
		Description: "Call this when the task is complete, with the final answer for the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"final_answer": map[string]any{"type": "string", "description": "The complete answer for the user."},
			},
			"required": []any{"final_answer"},
		},
	}
}

func (l *ActLoop) Run(ctx context.Context, p *Params) (*models.AgentResult, error) {
	maxSteps := p.maxSteps()
	p.emit(ctx, models.AgentEventStart, map[string]any{"max_steps": maxSteps, "strategy": l.Name()})

	defs := append(l.executor.GetToolsSchema(ctx, p.SelectedTools), finishedToolDefinition())
	messages := append([]llm.ChatMessage{}, p.Messages...)
	result := &models.AgentResult{Metadata: map[string]any{"strategy": l.Name()}}

	for step := 1; step <= maxSteps; step++ {
		p.emit(ctx, models.AgentEventTurnStart, map[string]any{"step": step})

		resp, err := l.complete(ctx, p, messages, defs)
		if err != nil {
			p.emit(ctx, models.AgentEventError, map[string]any{"step": step, "error": err.Error()})
			return nil, err
		}

		if !resp.HasToolCalls() {
			// tool_choice=required should prevent this; treat content as the
			// answer rather than failing the run.
			l.logger.Warn("Act loop received a response without tool calls", "step", step)
			result.FinalAnswer = resp.Content
			emitFinalAnswer(ctx, p, result.FinalAnswer)
			p.emit(ctx, models.AgentEventCompletion, map[string]any{"steps": step})
			return result, nil
		}

		messages = append(messages, llm.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		stepRecord := models.AgentStep{Step: step}
		for _, call := range resp.ToolCalls {
			if call.Name == finishedToolName {
				answer, _ := call.Arguments["final_answer"].(string)
				result.Steps = append(result.Steps, stepRecord)
				result.FinalAnswer = answer
				emitFinalAnswer(ctx, p, answer)
				p.emit(ctx, models.AgentEventCompletion, map[string]any{"steps": step})
				return result, nil
			}

			stepRecord.ToolCalls = append(stepRecord.ToolCalls, call)
			toolResult := executeToolCall(ctx, l.executor, p, call)
			stepRecord.ToolResults = append(stepRecord.ToolResults, *toolResult)
			messages = append(messages, llm.ChatMessage{
				Role:       models.RoleTool,
				Content:    toolResult.Content,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
		result.Steps = append(result.Steps, stepRecord)
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

func (l *ActLoop) complete(ctx context.Context, p *Params, messages []llm.ChatMessage, defs []llm.ToolDefinition) (*llm.Response, error) {
	if len(p.DataSources) > 0 {
		return l.caller.CallWithRAGAndTools(ctx, p.Model, messages, p.AgentContext.UserEmail, p.DataSources, defs, true, p.Temperature)
	}
	return l.caller.CallWithTools(ctx, p.Model, messages, defs, true, p.Temperature)
}
