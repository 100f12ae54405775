package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/filestore"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/mcp"
	"github.com/chatloom/chatloom/pkg/models"
)

// mcpUpdatePrefix marks progress messages that carry structured UI updates.
const mcpUpdatePrefix = "MCP_UPDATE:"

// rejectedContent is the sentinel fed back to the LLM for a rejected call.
const rejectedContent = `{"results": "Tool execution was rejected by the user."}`

// Executor runs tool calls end to end. It is process-wide and safe for
// concurrent use; per-request state travels in ExecContext.
type Executor struct {
	client          *mcp.Client
	registry        *config.MCPServerRegistry
	signer          *filestore.URLSigner
	broker          *events.ElicitationBroker
	caller          *llm.Caller
	requireApproval map[string]bool
	forceApproval   bool
	toolTimeout     time.Duration
	logger          *slog.Logger
}

// NewExecutor wires the executor. signer and broker may be nil (no URL
// rewriting / approvals auto-approve); caller is required only for the
// synthesis step of ExecuteWorkflow.
func NewExecutor(client *mcp.Client, registry *config.MCPServerRegistry, signer *filestore.URLSigner, broker *events.ElicitationBroker, caller *llm.Caller, security config.SecurityConfig, toolTimeout time.Duration) *Executor {
	return &Executor{
		client:          client,
		registry:        registry,
		signer:          signer,
		broker:          broker,
		caller:          caller,
		requireApproval: registry.RequireApprovalSet(),
		forceApproval:   security.ForceToolApproval,
		toolTimeout:     toolTimeout,
		logger:          slog.Default().With("component", "tools"),
	}
}

// ExecContext carries the per-request state a tool call may touch.
type ExecContext struct {
	SessionID string
	UserEmail string
	// Files maps session filenames to stored file references.
	Files     map[string]models.FileRef
	Publisher events.Publisher
	// OnArtifacts ingests a result's artifacts into the session (file store
	// upload, files manifest update). Nil skips ingestion.
	OnArtifacts func(ctx context.Context, result *models.ToolResult)
}

// Execute runs one standalone tool call, resolving its schema on the fly.
// Agent loops use this; the tools workflow resolves schemas once per batch.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall, ec *ExecContext) *models.ToolResult {
	schemas := e.resolveSchemas(ctx, []string{call.Name})
	return e.executeSingleTool(ctx, call, schemas, ec)
}

// executeSingleTool runs one tool call and returns its result. It never
// returns an error; failures are encoded in the ToolResult.
func (e *Executor) executeSingleTool(ctx context.Context, call models.ToolCall, schemas map[string]*toolSchema, ec *ExecContext) *models.ToolResult {
	args := call.Arguments
	if args == nil {
		args = mcp.ParseToolArguments(call.RawArguments)
	}

	if call.Name == CanvasToolName {
		return e.executeCanvas(ctx, call, args, ec)
	}

	schema := schemas[call.Name]
	if schema == nil {
		return failedResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name))
	}

	shaped := e.shapeArguments(args, schema, ec.UserEmail, ec.Files)
	ec.Publisher.PublishToolStart(ctx, call.ID, call.Name, schema.server, SanitizeArgumentsForUI(shaped))

	if e.needsApproval(call.Name) {
		approved, edited, err := e.awaitApproval(ctx, call, schema, shaped, ec)
		if err != nil {
			return failedResult(call.ID, fmt.Sprintf("approval wait aborted: %s", err))
		}
		if !approved {
			e.logger.Info("Tool call rejected by user", "tool", call.Name, "tool_call_id", call.ID)
			result := &models.ToolResult{
				ToolCallID: call.ID,
				Content:    rejectedContent,
				Success:    false,
				Error:      "rejected by user",
			}
			ec.Publisher.PublishToolComplete(ctx, call.ID, call.Name, false, map[string]any{"results": "rejected by user"})
			return result
		}
		if edited != nil {
			shaped = e.shapeArguments(edited, schema, ec.UserEmail, ec.Files)
		}
	}

	return e.dispatch(ctx, call, schema, shaped, ec)
}

func (e *Executor) needsApproval(qualifiedName string) bool {
	if qualifiedName == CanvasToolName {
		return false
	}
	return e.forceApproval || e.requireApproval[qualifiedName]
}

// awaitApproval publishes an elicitation request and blocks for the client's
// decision. With no broker configured, calls are auto-approved.
func (e *Executor) awaitApproval(ctx context.Context, call models.ToolCall, schema *toolSchema, args map[string]any, ec *ExecContext) (approved bool, edited map[string]any, err error) {
	if e.broker == nil {
		return true, nil, nil
	}

	elicitationID := uuid.NewString()
	ch := e.broker.Register(elicitationID)
	ec.Publisher.PublishElicitationRequest(ctx, elicitationID, call.ID, call.Name,
		fmt.Sprintf("Approve execution of %s?", call.Name), map[string]any{
			"arguments":  SanitizeArgumentsForUI(args),
			"parameters": schemaSummary(schema),
		})

	select {
	case resp := <-ch:
		if resp.Rejected {
			return false, nil, nil
		}
		return true, resp.EditedArguments, nil
	case <-ctx.Done():
		e.broker.Cancel(elicitationID)
		return false, nil, ctx.Err()
	}
}

// dispatch sends the call to the MCP server, relaying progress and applying
// the per-tool timeout.
func (e *Executor) dispatch(ctx context.Context, call models.ToolCall, schema *toolSchema, args map[string]any, ec *ExecContext) *models.ToolResult {
	callCtx := ctx
	if e.toolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.toolTimeout)
		defer cancel()
	}

	onProgress := func(progress, total float64, message string) {
		e.relayProgress(ctx, call, message, ec.Publisher)
		ec.Publisher.PublishToolProgress(ctx, call.ID, call.Name, progress, total, message)
	}

	raw, err := e.client.CallTool(callCtx, schema.server, schema.tool, args, onProgress)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			seconds := int(e.toolTimeout.Seconds())
			msg := fmt.Sprintf("Tool call timed out after %d seconds", seconds)
			e.logger.Warn("Tool call timed out", "tool", call.Name, "timeout_seconds", seconds)
			ec.Publisher.PublishToolError(ctx, call.ID, call.Name, msg)
			return &models.ToolResult{
				ToolCallID: call.ID,
				Content: fmt.Sprintf(`{"results": "%s. Consider raising MCP_TOOL_TIMEOUT_SECONDS for long-running tools."}`,
					msg),
				Success: false,
				Error:   msg,
			}
		}
		e.logger.Error("Tool call failed", "tool", call.Name, "server", schema.server, "error", err)
		ec.Publisher.PublishToolError(ctx, call.ID, call.Name, err.Error())
		return failedResult(call.ID, err.Error())
	}

	norm := normalizeResult(raw)
	scrubbed, _ := scrubBase64(norm.content).(map[string]any)
	contentJSON, err := json.Marshal(scrubbed)
	if err != nil {
		contentJSON = []byte(`{"results": "result could not be serialized"}`)
	}

	success := !raw.IsError
	result := &models.ToolResult{
		ToolCallID:    call.ID,
		Content:       string(contentJSON),
		Success:       success,
		Artifacts:     norm.artifacts,
		DisplayConfig: norm.display,
		MetaData:      norm.metaData,
	}
	if !success {
		result.Error = joinTextContent(raw)
	}

	ec.Publisher.PublishToolComplete(ctx, call.ID, call.Name, success, scrubbed)
	return result
}

// relayProgress interprets MCP_UPDATE-prefixed progress messages as
// structured UI updates.
func (e *Executor) relayProgress(ctx context.Context, call models.ToolCall, message string, pub events.Publisher) {
	if len(message) <= len(mcpUpdatePrefix) || message[:len(mcpUpdatePrefix)] != mcpUpdatePrefix {
		return
	}
	var update struct {
		Type        string         `json:"type"`
		Content     string         `json:"content"`
		ContentType string         `json:"content_type"`
		Message     string         `json:"message"`
		Artifacts   []any          `json:"artifacts"`
		Data        map[string]any `json:"data"`
	}
	payload := message[len(mcpUpdatePrefix):]
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		e.logger.Warn("Malformed MCP_UPDATE payload", "tool", call.Name, "error", err)
		return
	}

	switch update.Type {
	case "canvas_update":
		contentType := update.ContentType
		if contentType == "" {
			contentType = "markdown"
		}
		pub.PublishCanvasContent(ctx, update.Content, contentType)
	case "system_message":
		pub.PublishIntermediateUpdate(ctx, "system_message", map[string]any{
			"message": update.Message, "tool_call_id": call.ID,
		})
	case "artifacts":
		pub.PublishIntermediateUpdate(ctx, "progress_artifacts", map[string]any{
			"artifacts": update.Artifacts, "tool_call_id": call.ID,
		})
	default:
		e.logger.Debug("Unknown MCP_UPDATE type", "type", update.Type, "tool", call.Name)
	}
}

// executeCanvas renders the canvas pseudo-tool: no MCP dispatch, content is
// pushed straight to the client.
func (e *Executor) executeCanvas(ctx context.Context, call models.ToolCall, args map[string]any, ec *ExecContext) *models.ToolResult {
	ec.Publisher.PublishToolStart(ctx, call.ID, call.Name, "", SanitizeArgumentsForUI(args))

	content, _ := args["content"].(string)
	contentType, _ := args["content_type"].(string)
	if contentType == "" {
		contentType = "markdown"
	}
	ec.Publisher.PublishCanvasContent(ctx, content, contentType)

	result := &models.ToolResult{
		ToolCallID: call.ID,
		Content:    `{"results": "Content displayed in canvas."}`,
		Success:    true,
	}
	ec.Publisher.PublishToolComplete(ctx, call.ID, call.Name, true, map[string]any{"results": "Content displayed in canvas."})
	return result
}

func failedResult(toolCallID, errMsg string) *models.ToolResult {
	content, err := json.Marshal(map[string]any{"error": errMsg})
	if err != nil {
		content = []byte(`{"error": "tool execution failed"}`)
	}
	return &models.ToolResult{
		ToolCallID: toolCallID,
		Content:    string(content),
		Success:    false,
		Error:      errMsg,
	}
}
