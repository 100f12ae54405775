package orchestrator

import (
	"context"

	"github.com/chatloom/chatloom/pkg/agentloop"
	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/stream"
)

// runPlain streams (or calls) the LLM with no tools and no retrieval.
func (o *Orchestrator) runPlain(ctx context.Context, run *runContext, streaming bool) (*Response, error) {
	fallback := func(ctx context.Context) (string, error) {
		return o.caller.CallPlain(ctx, run.model, run.messages, run.temperature)
	}

	if !streaming {
		content, err := fallback(ctx)
		if err != nil {
			return nil, llm.ClassifyToDomainError(err)
		}
		run.pub.PublishChatResponse(ctx, content, false)
		run.session.Append(models.NewMessage(models.RoleAssistant, content))
		run.pub.PublishResponseComplete(ctx)
		return &Response{Content: content, Mode: ModePlain}, nil
	}

	source, err := o.caller.StreamPlain(ctx, run.model, run.messages, run.temperature)
	if err != nil {
		content, ferr := fallback(ctx)
		if ferr != nil {
			return nil, llm.ClassifyToDomainError(ferr)
		}
		run.pub.PublishChatResponse(ctx, content, false)
		run.session.Append(models.NewMessage(models.RoleAssistant, content))
		run.pub.PublishResponseComplete(ctx)
		return &Response{Content: content, Mode: ModePlain}, nil
	}

	result := stream.Accumulate(ctx, source, run.pub, fallback, "plain")
	run.session.Append(models.NewMessage(models.RoleAssistant, result.Content))
	run.pub.PublishResponseComplete(ctx)
	return &Response{Content: result.Content, Mode: ModePlain}, nil
}

// runRAG is the plain runner fed from the retrieval-augmented stream. The
// assistant message records which data sources were queried.
func (o *Orchestrator) runRAG(ctx context.Context, run *runContext, dataSources []string, streaming bool) (*Response, error) {
	metadata := map[string]any{"data_sources": dataSources}
	fallback := func(ctx context.Context) (string, error) {
		return o.caller.CallWithRAG(ctx, run.model, run.messages, run.userEmail, dataSources, run.temperature)
	}

	finish := func(content string) (*Response, error) {
		if err := o.checkRAGOutput(ctx, run, content); err != nil {
			return nil, err
		}
		run.session.Append(models.NewMessageWithMetadata(models.RoleAssistant, content, metadata))
		run.pub.PublishResponseComplete(ctx)
		return &Response{Content: content, Mode: ModeRAG, Metadata: metadata}, nil
	}

	if !streaming {
		content, err := fallback(ctx)
		if err != nil {
			return nil, llm.ClassifyToDomainError(err)
		}
		run.pub.PublishChatResponse(ctx, content, false)
		return finish(content)
	}

	source, err := o.caller.StreamWithRAG(ctx, run.model, run.messages, run.userEmail, dataSources, run.temperature)
	if err != nil {
		content, ferr := fallback(ctx)
		if ferr != nil {
			return nil, llm.ClassifyToDomainError(ferr)
		}
		run.pub.PublishChatResponse(ctx, content, false)
		return finish(content)
	}

	result := stream.Accumulate(ctx, source, run.pub, fallback, "rag")
	return finish(result.Content)
}

// checkRAGOutput applies the tool/RAG output check. Blocked content is not
// appended to history; the client gets a security warning.
func (o *Orchestrator) checkRAGOutput(ctx context.Context, run *runContext, content string) error {
	if o.checker == nil || content == "" {
		return nil
	}
	result, err := o.checker.CheckToolRAGOutput(ctx, content, "rag", run.session.History, run.userEmail)
	if err != nil {
		o.logger.Warn("RAG output security check failed, admitting", "error", err)
		return nil
	}
	if !result.Blocked() {
		return nil
	}
	run.pub.SendJSON(ctx, map[string]any{
		"type": events.EventTypeSecurityWarning, "status": events.SecurityStatusBlocked,
		"message": securityMessage(result.Message, "The retrieved content was blocked by the security policy."),
	})
	return models.NewDomainError(models.KindValidation, "Retrieved content blocked by security policy.")
}

// runTools performs the initial tool-bound LLM call, executes the requested
// tools through the workflow, and delivers the synthesized answer.
func (o *Orchestrator) runTools(ctx context.Context, run *runContext, req *Request, selected []string) (*Response, error) {
	defs := o.executor.GetToolsSchema(ctx, selected)
	ec := o.execContext(run.session, run.userEmail, run.pub)

	var initial *llm.Response
	if req.Streaming {
		source, err := o.caller.StreamWithTools(ctx, run.model, run.messages, defs, req.ToolChoiceRequired, run.temperature)
		if err != nil {
			// Stream never started: structured error, then close the turn.
			c := llm.Classify(err)
			run.pub.SendJSON(ctx, map[string]any{"type": events.EventTypeError, "message": c.UserMessage})
			run.pub.PublishResponseComplete(ctx)
			return nil, llm.ClassifyToDomainError(err)
		}
		result := stream.Accumulate(ctx, source, run.pub, nil, "tools initial")
		if result.Err != nil && !result.Partial && !result.Final.HasToolCalls() {
			// Stream died before any real content. Result.Content holds the
			// classified user message, not an answer: never persist it.
			c := llm.Classify(result.Err)
			run.pub.SendJSON(ctx, map[string]any{"type": events.EventTypeError, "message": c.UserMessage})
			run.pub.PublishResponseComplete(ctx)
			return nil, llm.ClassifyToDomainError(result.Err)
		}
		if !result.Final.HasToolCalls() {
			// The model answered directly; tokens already went out.
			run.session.Append(models.NewMessage(models.RoleAssistant, result.Content))
			run.pub.PublishResponseComplete(ctx)
			return &Response{Content: result.Content, Mode: ModeTools}, nil
		}
		initial = &llm.Response{Content: result.Content, ToolCalls: result.Final.ToolCalls}
	} else {
		resp, err := o.caller.CallWithTools(ctx, run.model, run.messages, defs, req.ToolChoiceRequired, run.temperature)
		if err != nil {
			return nil, llm.ClassifyToDomainError(err)
		}
		if !resp.HasToolCalls() {
			run.pub.PublishChatResponse(ctx, resp.Content, false)
			run.session.Append(models.NewMessage(models.RoleAssistant, resp.Content))
			run.pub.PublishResponseComplete(ctx)
			return &Response{Content: resp.Content, Mode: ModeTools}, nil
		}
		initial = resp
	}

	wf := o.executor.ExecuteWorkflow(ctx, initial, run.messages, run.model, run.temperature, req.Streaming, ec)
	if wf.Err != nil && wf.Content == "" {
		return nil, llm.ClassifyToDomainError(wf.Err)
	}

	if err := o.checkToolsOutput(ctx, run, wf.Content); err != nil {
		return nil, err
	}

	metadata := map[string]any{"tools_used": selected}
	run.session.Append(models.NewMessageWithMetadata(models.RoleAssistant, wf.Content, metadata))
	if !req.Streaming {
		run.pub.PublishChatResponse(ctx, wf.Content, false)
	}
	run.pub.PublishResponseComplete(ctx)
	return &Response{Content: wf.Content, Mode: ModeTools, ToolResults: wf.Results, Metadata: metadata}, nil
}

// checkToolsOutput applies the output security check to the synthesized
// answer. Blocked output clears the session history (the compensating action
// persisted on the next save) and fails the request.
func (o *Orchestrator) checkToolsOutput(ctx context.Context, run *runContext, content string) error {
	if o.checker == nil || content == "" {
		return nil
	}
	result, err := o.checker.CheckOutput(ctx, content, run.session.History, run.userEmail)
	if err != nil {
		o.logger.Warn("Output security check failed, admitting", "error", err)
		return nil
	}
	if !result.Blocked() {
		return nil
	}
	run.session.ClearHistory()
	run.pub.SendJSON(ctx, map[string]any{
		"type": events.EventTypeSecurityWarning, "status": events.SecurityStatusBlocked,
		"message": securityMessage(result.Message, "The response was blocked by the security policy and the conversation was reset."),
	})
	return models.NewDomainError(models.KindValidation, "Response blocked by security policy.")
}

// runAgent hands the turn to the configured agent strategy. Agent events
// relay to the client; tool artifacts ingest into the session as they appear.
func (o *Orchestrator) runAgent(ctx context.Context, run *runContext, req *Request) (*Response, error) {
	strategy, err := agentloop.New(o.agent.Strategy, o.caller, o.executor)
	if err != nil {
		return nil, models.WrapDomainError(models.KindConfiguration, "agent strategy unavailable", err)
	}

	selected := o.FilterAuthorizedTools(ctx, req.SelectedTools, run.userEmail)
	ec := o.execContext(run.session, run.userEmail, run.pub)
	relay := agentloop.NewRelay(run.pub, func(ctx context.Context, results []*models.ToolResult) {
		for _, result := range results {
			o.ingestArtifacts(ctx, run.session, run.userEmail, result, run.pub)
		}
	})

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = o.agent.MaxSteps
	}

	result, err := strategy.Run(ctx, &agentloop.Params{
		Model:    run.model,
		Messages: run.messages,
		AgentContext: &models.AgentContext{
			SessionID: run.session.ID,
			UserEmail: run.userEmail,
			Files:     run.session.Files(),
			History:   run.session.History,
		},
		SelectedTools: selected,
		DataSources:   req.SelectedDataSources,
		MaxSteps:      maxSteps,
		Temperature:   run.temperature,
		Streaming:     req.Streaming,
		EventHandler:  relay,
		Publisher:     run.pub,
		Exec:          ec,
	})
	if err != nil {
		return nil, llm.ClassifyToDomainError(err)
	}

	metadata := map[string]any{
		"agent_strategy": strategy.Name(),
		"agent_steps":    len(result.Steps),
	}
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	run.session.Append(models.NewMessageWithMetadata(models.RoleAssistant, result.FinalAnswer, metadata))
	if !req.Streaming {
		run.pub.PublishChatResponse(ctx, result.FinalAnswer, false)
	}
	run.pub.PublishResponseComplete(ctx)
	return &Response{Content: result.FinalAnswer, Mode: ModeAgent, Metadata: metadata}, nil
}
