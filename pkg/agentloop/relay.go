package agentloop

import (
	"context"

	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/models"
)

// ArtifactSink ingests the tool results of an agent step (file uploads,
// files manifest refresh). Invoked from the relay on agent_tool_results.
type ArtifactSink func(ctx context.Context, results []*models.ToolResult)

// NewRelay maps agent events onto publisher calls. agent_tool_results is the
// one non-publishing event: it feeds the artifact sink instead. Token stream
// payloads pass through to the token channel so agent answers render like
// any other stream.
func NewRelay(publisher events.Publisher, sink ArtifactSink) EventHandler {
	return func(ctx context.Context, event models.AgentEvent) {
		switch event.Type {
		case models.AgentEventToolResults:
			if sink == nil {
				return
			}
			if results, ok := event.Payload["results"].([]*models.ToolResult); ok {
				sink(ctx, results)
			}
		case models.AgentEventTokenStream:
			token, _ := event.Payload["token"].(string)
			isFirst, _ := event.Payload["is_first"].(bool)
			isLast, _ := event.Payload["is_last"].(bool)
			publisher.PublishTokenStream(ctx, token, isFirst, isLast)
		default:
			publisher.PublishAgentUpdate(ctx, string(event.Type), event.Payload)
		}
	}
}
