package agentloop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/tools"
)

// thinkToolName is the control tool the model calls to reflect or conclude.
const thinkToolName = "think"

// ThinkActLoop interleaves an explicit think step with at most one user-tool
// call per turn. The model reflects through the think tool; finish=true ends
// the loop with the provided final answer.
type ThinkActLoop struct {
	caller   *llm.Caller
	executor *tools.Executor
	logger   *slog.Logger
}

var _ Strategy = (*ThinkActLoop)(nil)

// NewThinkActLoop creates the Think-Act strategy.
func NewThinkActLoop(caller *llm.Caller, executor *tools.Executor) *ThinkActLoop {
	return &ThinkActLoop{caller: caller, executor: executor, logger: slog.Default().With("strategy", "think-act")}
}

func (l *ThinkActLoop) Name() string { return "think-act" }

func thinkToolDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: thinkToolName,
		Description: "Reflect on your progress. Set finish=true with a final_answer when the " +
			"task is complete; otherwise describe the next action to take.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"finish":           map[string]any{"type": "boolean", "description": "True when the task is complete."},
				"final_answer":     map[string]any{"type": "string", "description": "The answer for the user; required when finish is true."},
				"next_action_hint": map[string]any{"type": "string", "description": "What to do next when not finished."},
			},
			"required": []any{"finish"},
		},
	}
}

func (l *ThinkActLoop) Run(ctx context.Context, p *Params) (*models.AgentResult, error) {
	maxSteps := p.maxSteps()
	p.emit(ctx, models.AgentEventStart, map[string]any{"max_steps": maxSteps, "strategy": l.Name()})

	defs := append([]llm.ToolDefinition{thinkToolDefinition()}, l.executor.GetToolsSchema(ctx, p.SelectedTools)...)
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
			// The model answered directly; accept it as the final answer.
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
		finished := false
		userToolsRun := 0

		for _, call := range resp.ToolCalls {
			if call.Name == thinkToolName {
				thought := l.processThink(ctx, p, call, step, &stepRecord, result)
				messages = append(messages, llm.ChatMessage{
					Role:       models.RoleTool,
					Content:    thought.content,
					ToolCallID: call.ID,
					Name:       call.Name,
				})
				if thought.finish {
					finished = true
				}
				continue
			}

			if userToolsRun >= 1 {
				// One user tool per step; tell the model to re-issue the rest.
				messages = append(messages, llm.ChatMessage{
					Role:       models.RoleTool,
					Content:    `{"error": "only one tool call per step; repeat this call next step"}`,
					ToolCallID: call.ID,
					Name:       call.Name,
				})
				continue
			}
			userToolsRun++

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
		if finished {
			emitFinalAnswer(ctx, p, result.FinalAnswer)
			p.emit(ctx, models.AgentEventCompletion, map[string]any{"steps": step})
			return result, nil
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

func (l *ThinkActLoop) complete(ctx context.Context, p *Params, messages []llm.ChatMessage, defs []llm.ToolDefinition) (*llm.Response, error) {
	if len(p.DataSources) > 0 {
		return l.caller.CallWithRAGAndTools(ctx, p.Model, messages, p.AgentContext.UserEmail, p.DataSources, defs, false, p.Temperature)
	}
	return l.caller.CallWithTools(ctx, p.Model, messages, defs, false, p.Temperature)
}

type thinkOutcome struct {
	finish  bool
	content string
}

// processThink interprets one think tool call, recording the reasoning and
// capturing the final answer when the model declares itself done.
func (l *ThinkActLoop) processThink(ctx context.Context, p *Params, call models.ToolCall, step int, stepRecord *models.AgentStep, result *models.AgentResult) thinkOutcome {
	args := call.Arguments
	finish, _ := args["finish"].(bool)
	finalAnswer, _ := args["final_answer"].(string)
	hint, _ := args["next_action_hint"].(string)

	if hint != "" {
		stepRecord.Thought = hint
		p.emit(ctx, models.AgentEventReason, map[string]any{"step": step, "thought": hint})
	}

	if finish {
		if finalAnswer == "" {
			l.logger.Warn("think tool finished without a final answer", "step", step)
			return thinkOutcome{content: `{"error": "finish=true requires final_answer"}`}
		}
		result.FinalAnswer = finalAnswer
		return thinkOutcome{finish: true, content: `{"acknowledged": true}`}
	}
	return thinkOutcome{content: `{"acknowledged": true}`}
}
