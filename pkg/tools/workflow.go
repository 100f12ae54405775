package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/stream"
)

// WorkflowResult is the outcome of one tools round: the executed tool calls,
// the synthesized answer, and the messages as extended during the round.
type WorkflowResult struct {
	Content  string
	Messages []llm.ChatMessage
	Results  []*models.ToolResult
	// Partial is true when synthesis streaming failed after emitting tokens.
	Partial bool
	Err     error
}

// ExecuteWorkflow runs every tool call of an LLM response, appends the
// assistant and tool messages, then synthesizes a final answer over the tool
// outputs. Synthesis streams through the accumulator when streaming is set.
func (e *Executor) ExecuteWorkflow(ctx context.Context, response *llm.Response, messages []llm.ChatMessage, model string, temperature float32, streaming bool, ec *ExecContext) *WorkflowResult {
	out := &WorkflowResult{Messages: messages}

	schemas := e.resolveSchemas(ctx, toolNames(response.ToolCalls))

	out.Messages = append(out.Messages, llm.ChatMessage{
		Role:      models.RoleAssistant,
		Content:   response.Content,
		ToolCalls: response.ToolCalls,
	})

	allCanvas := true
	for _, call := range response.ToolCalls {
		result := e.executeSingleTool(ctx, call, schemas, ec)
		out.Results = append(out.Results, result)
		if call.Name != CanvasToolName {
			allCanvas = false
		}
		if len(result.Artifacts) > 0 && ec.OnArtifacts != nil {
			ec.OnArtifacts(ctx, result)
		}
		out.Messages = append(out.Messages, llm.ChatMessage{
			Role:       models.RoleTool,
			Content:    result.Content,
			ToolCallID: result.ToolCallID,
			Name:       call.Name,
		})
	}

	if allCanvas {
		out.Content = response.Content
		if out.Content == "" {
			out.Content = "Content displayed in canvas."
		}
		return out
	}

	e.synthesize(ctx, out, model, temperature, streaming, ec)
	return out
}

// synthesize asks the LLM to answer the user's question from the tool
// outputs now present in the message history.
func (e *Executor) synthesize(ctx context.Context, out *WorkflowResult, model string, temperature float32, streaming bool, ec *ExecContext) {
	synthMessages := out.Messages
	if manifest := filesManifestMessage(ec.Files); manifest != "" {
		synthMessages = append(synthMessages, llm.ChatMessage{Role: models.RoleSystem, Content: manifest})
	}

	question := latestUserQuestion(out.Messages)
	if question != "" {
		synthMessages = append(synthMessages, llm.ChatMessage{
			Role: models.RoleSystem,
			Content: fmt.Sprintf(
				"Using the tool results above, answer the user's question: %q. "+
					"Do not repeat raw tool output; summarize what matters.", question),
		})
	}

	fallback := func(ctx context.Context) (string, error) {
		return e.caller.CallPlain(ctx, model, synthMessages, temperature)
	}

	if !streaming {
		content, err := fallback(ctx)
		if err != nil {
			out.Err = err
			return
		}
		out.Content = content
		return
	}

	source, err := e.caller.StreamPlain(ctx, model, synthMessages, temperature)
	if err != nil {
		content, ferr := fallback(ctx)
		if ferr != nil {
			out.Err = err
			return
		}
		ec.Publisher.PublishChatResponse(ctx, content, false)
		out.Content = content
		return
	}

	result := stream.Accumulate(ctx, source, ec.Publisher, fallback, "tool synthesis")
	out.Content = result.Content
	out.Partial = result.Partial
	out.Err = result.Err
}

// filesManifestMessage summarizes the session's files for the synthesis
// prompt. Empty when the session holds no files.
func filesManifestMessage(files map[string]models.FileRef) string {
	if len(files) == 0 {
		return ""
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Files currently available in this session:\n")
	for _, name := range names {
		ref := files[name]
		fmt.Fprintf(&b, "- %s (%s, %d bytes)\n", name, ref.ContentType, ref.Size)
	}
	return strings.TrimRight(b.String(), "\n")
}

// latestUserQuestion walks the messages in reverse for the newest user turn.
func latestUserQuestion(messages []llm.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func toolNames(calls []models.ToolCall) []string {
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Name)
	}
	return names
}
