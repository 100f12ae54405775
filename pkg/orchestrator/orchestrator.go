// Package orchestrator wires one chat request end to end: session lookup,
// input checks, file ingestion, message assembly, mode routing (plain, RAG,
// tools, agent), and conversation persistence.
package orchestrator

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/filestore"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/mcp"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/repo"
	"github.com/chatloom/chatloom/pkg/security"
	"github.com/chatloom/chatloom/pkg/tools"
)

// Execution modes, recorded on the response for clients and tests.
const (
	ModePlain = "plain"
	ModeRAG   = "rag"
	ModeTools = "tools"
	ModeAgent = "agent"
)

// Request is one chat turn. Files maps filename to base64 payload.
type Request struct {
	SessionID           string
	Content             string
	Model               string
	UserEmail           string
	SelectedTools       []string
	SelectedPrompts     []string
	SelectedDataSources []string
	OnlyRAG             bool
	ToolChoiceRequired  bool
	AgentMode           bool
	Streaming           bool
	Incognito           bool
	Temperature         float32
	MaxSteps            int
	Files               map[string]string
}

// Response is the terminal outcome of one request. Streaming callers have
// already received the content token by token.
type Response struct {
	Content     string               `json:"content"`
	Mode        string               `json:"mode"`
	ToolResults []*models.ToolResult `json:"tool_results,omitempty"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

// Deps are the collaborators the orchestrator composes. Conversations,
// MCPClient, Store, Checker, and Groups are optional; nil disables the
// corresponding step.
type Deps struct {
	Sessions      repo.SessionRepository
	Conversations repo.ConversationRepository
	Caller        *llm.Caller
	Executor      *tools.Executor
	MCPClient     *mcp.Client
	Store         filestore.Store
	Checker       security.Checker
	Groups        GroupResolver
}

// Orchestrator executes chat requests. Process-wide; per-request state lives
// on the stack and in the borrowed session.
type Orchestrator struct {
	sessions      repo.SessionRepository
	conversations repo.ConversationRepository
	caller        *llm.Caller
	executor      *tools.Executor
	mcpClient     *mcp.Client
	store         filestore.Store
	checker       security.Checker
	groups        GroupResolver
	registry      *config.MCPServerRegistry

	systemPrompt       string
	defaultModel       string
	defaultTemperature float32
	agent              config.AgentConfig

	// One mutex per session id: no two concurrent executes may borrow the
	// same session.
	locks  sync.Map
	logger *slog.Logger
}

// New creates the orchestrator from the loaded configuration and its
// collaborators. A Config built outside config.Load carries no server
// registry; an empty one keeps the tool authorization filter total.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	registry := cfg.MCPServers()
	if registry == nil {
		registry = config.NewMCPServerRegistry(nil)
	}
	return &Orchestrator{
		sessions:           deps.Sessions,
		conversations:      deps.Conversations,
		caller:             deps.Caller,
		executor:           deps.Executor,
		mcpClient:          deps.MCPClient,
		store:              deps.Store,
		checker:            deps.Checker,
		groups:             deps.Groups,
		registry:           registry,
		systemPrompt:       cfg.SystemPrompt,
		defaultModel:       cfg.LLM.DefaultModel,
		defaultTemperature: cfg.LLM.Temperature,
		agent:              cfg.Agent,
		logger:             slog.Default().With("component", "orchestrator"),
	}
}

// Execute runs one chat turn. Domain errors propagate for the transport to
// render; the publisher has already received any partial output.
func (o *Orchestrator) Execute(ctx context.Context, req *Request, pub events.Publisher) (*Response, error) {
	unlock := o.lockSession(req.SessionID)
	defer unlock()

	session, err := o.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = o.defaultTemperature
	}
	userEmail := req.UserEmail
	if userEmail == "" {
		userEmail = session.UserEmail
	}

	session.Append(models.NewMessage(models.RoleUser, req.Content))

	if err := o.checkInput(ctx, session, req.Content, userEmail, pub); err != nil {
		return nil, err
	}

	o.ingestFiles(ctx, session, userEmail, req.Files, pub)

	messages := o.buildMessages(session, userEmail)
	messages = o.applyPromptOverride(ctx, req.SelectedPrompts, messages)

	run := runContext{
		session:     session,
		model:       model,
		temperature: temperature,
		userEmail:   userEmail,
		messages:    messages,
		pub:         pub,
	}

	var resp *Response
	switch {
	case req.AgentMode:
		resp, err = o.runAgent(ctx, &run, req)
	case len(req.SelectedTools) > 0 && !req.OnlyRAG:
		selected := o.FilterAuthorizedTools(ctx, req.SelectedTools, userEmail)
		resp, err = o.runTools(ctx, &run, req, selected)
	case len(req.SelectedDataSources) > 0:
		resp, err = o.runRAG(ctx, &run, req.SelectedDataSources, req.Streaming)
	default:
		resp, err = o.runPlain(ctx, &run, req.Streaming)
	}
	if err != nil {
		// Persist what the failed turn already wrote (the user message,
		// ingested files, a compensating history clear).
		o.saveSession(ctx, session)
		return nil, err
	}

	o.persistConversation(ctx, session, userEmail, req.Incognito, pub)
	o.saveSession(ctx, session)
	return resp, nil
}

// runContext bundles the per-request values every mode runner needs.
type runContext struct {
	session     *models.Session
	model       string
	temperature float32
	userEmail   string
	messages    []llm.ChatMessage
	pub         events.Publisher
}

func (o *Orchestrator) lockSession(id string) func() {
	v, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (o *Orchestrator) saveSession(ctx context.Context, session *models.Session) {
	if _, err := o.sessions.Update(ctx, session); err != nil {
		o.logger.Warn("Session update failed", "session_id", session.ID, "error", err)
	}
}

// checkInput runs the input security check. A blocked verdict backs the user
// message out of the history, warns the client, and fails the request.
// Checker failures degrade to admit.
func (o *Orchestrator) checkInput(ctx context.Context, session *models.Session, content, userEmail string, pub events.Publisher) error {
	if o.checker == nil {
		return nil
	}
	result, err := o.checker.CheckInput(ctx, content, session.History, userEmail)
	if err != nil {
		o.logger.Warn("Input security check failed, admitting", "error", err)
		return nil
	}
	switch {
	case result.Blocked():
		session.PopLastMessage()
		pub.SendJSON(ctx, map[string]any{
			"type": events.EventTypeSecurityWarning, "status": events.SecurityStatusBlocked,
			"message": securityMessage(result.Message, "Your message was blocked by the security policy."),
		})
		return models.NewDomainError(models.KindValidation, "Input blocked by security policy.")
	case result.Status == security.StatusWarnings:
		pub.SendJSON(ctx, map[string]any{
			"type": events.EventTypeSecurityWarning, "status": events.SecurityStatusWarning,
			"message": securityMessage(result.Message, "Your message triggered a security warning."),
		})
	}
	return nil
}

func securityMessage(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// ingestFiles uploads request attachments, records session file references
// with extracted previews for text content, and pushes a files_update.
// Upload failures skip the file.
func (o *Orchestrator) ingestFiles(ctx context.Context, session *models.Session, userEmail string, files map[string]string, pub events.Publisher) {
	if len(files) == 0 || o.store == nil {
		return
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	ingested := 0
	for _, filename := range names {
		meta, err := o.store.UploadFile(ctx, userEmail, filename, files[filename], string(models.FileSourceUser), nil)
		if err != nil {
			o.logger.Warn("File upload failed, skipping", "filename", filename, "error", err)
			continue
		}
		ref := models.FileRef{
			Key:          meta.Key,
			ContentType:  meta.ContentType,
			Size:         int(meta.Size),
			Source:       models.FileSourceUser,
			LastModified: time.Now().UTC(),
			ExtractMode:  models.ExtractModeNone,
		}
		if text, ok := decodeTextPayload(files[filename]); ok {
			ref.ExtractMode = models.ExtractModePreview
			ref.ExtractedContent = text
			ref.ExtractedPreview = previewText(text)
			ref.ExtractionMetadata = map[string]any{
				"lines": strings.Count(text, "\n") + 1,
			}
		}
		session.SetFile(filename, ref)
		ingested++
	}

	if ingested > 0 {
		pub.PublishFilesUpdate(ctx, filestore.OrganizeFilesMetadata(session.Files()))
	}
}

// decodeTextPayload decodes a base64 payload and reports whether it is
// previewable text.
func decodeTextPayload(contentBase64 string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(raw) || strings.ContainsRune(string(raw), 0) {
		return "", false
	}
	return string(raw), true
}

const (
	previewMaxLines = 10
	previewMaxChars = 2000
)

// previewText caps extracted content at the manifest preview budget.
func previewText(text string) string {
	lines := strings.SplitN(text, "\n", previewMaxLines+1)
	if len(lines) > previewMaxLines {
		text = strings.Join(lines[:previewMaxLines], "\n")
	}
	if len(text) > previewMaxChars {
		text = text[:previewMaxChars]
	}
	return text
}

// buildMessages assembles the LLM context: system prompt with {user_email}
// substituted, the conversation history, and a files manifest when the
// session holds files.
func (o *Orchestrator) buildMessages(session *models.Session, userEmail string) []llm.ChatMessage {
	var msgs []llm.ChatMessage
	if o.systemPrompt != "" {
		msgs = append(msgs, llm.ChatMessage{
			Role:    models.RoleSystem,
			Content: strings.ReplaceAll(o.systemPrompt, "{user_email}", userEmail),
		})
	}
	for _, m := range session.History {
		msgs = append(msgs, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if manifest := contentManifest(session.Files()); manifest != "" {
		msgs = append(msgs, llm.ChatMessage{Role: models.RoleSystem, Content: manifest})
	}
	return msgs
}

// contentManifest lists the session's files with their extracted content
// (full or preview) for the LLM.
func contentManifest(files map[string]models.FileRef) string {
	if len(files) == 0 {
		return ""
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("The user has shared the following files in this session:\n")
	for _, name := range names {
		ref := files[name]
		switch {
		case ref.ExtractMode == models.ExtractModeFull && ref.ExtractedContent != "":
			b.WriteString("\n--- " + name + " ---\n" + ref.ExtractedContent + "\n")
		case ref.ExtractedPreview != "":
			b.WriteString("\n--- " + name + " (preview) ---\n" + ref.ExtractedPreview + "\n")
		default:
			b.WriteString("- " + name + " (content not extracted)\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// applyPromptOverride retrieves the first resolvable selected prompt via MCP
// and prepends it as a system message. At most one prompt applies; failures
// are non-fatal and the next candidate is tried.
func (o *Orchestrator) applyPromptOverride(ctx context.Context, selected []string, messages []llm.ChatMessage) []llm.ChatMessage {
	if len(selected) == 0 || o.mcpClient == nil {
		return messages
	}
	serverNames := o.mcpClient.ServerNames()
	for _, qualified := range selected {
		server, prompt, err := mcp.SplitQualifiedTool(qualified, serverNames)
		if err != nil {
			o.logger.Warn("Cannot resolve prompt server", "prompt", qualified, "error", err)
			continue
		}
		text, err := o.mcpClient.GetPrompt(ctx, server, prompt, nil)
		if err != nil {
			o.logger.Warn("Prompt retrieval failed", "prompt", qualified, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		return append([]llm.ChatMessage{{Role: models.RoleSystem, Content: text}}, messages...)
	}
	return messages
}

// persistConversation archives the session history. Incognito sessions and
// anonymous users are never persisted; failures are logged and swallowed.
func (o *Orchestrator) persistConversation(ctx context.Context, session *models.Session, userEmail string, incognito bool, pub events.Publisher) {
	if o.conversations == nil || incognito || userEmail == "" {
		return
	}
	conv := &repo.Conversation{
		ConversationID: session.ConversationID(),
		UserEmail:      userEmail,
		History:        session.History,
	}
	if err := o.conversations.Save(ctx, conv); err != nil {
		o.logger.Warn("Conversation persistence failed",
			"conversation_id", conv.ConversationID, "error", err)
		return
	}
	session.Context[models.ContextKeyConversationID] = conv.ConversationID
	pub.SendJSON(ctx, map[string]any{
		"type":            events.EventTypeConversationSaved,
		"conversation_id": conv.ConversationID,
	})
}

// execContext builds the per-request tool execution context, wiring artifact
// ingestion back into the session.
func (o *Orchestrator) execContext(session *models.Session, userEmail string, pub events.Publisher) *tools.ExecContext {
	return &tools.ExecContext{
		SessionID: session.ID,
		UserEmail: userEmail,
		Files:     session.Files(),
		Publisher: pub,
		OnArtifacts: func(ctx context.Context, result *models.ToolResult) {
			o.ingestArtifacts(ctx, session, userEmail, result, pub)
		},
	}
}

// ingestArtifacts uploads tool-produced files, records them on the session,
// refreshes the client's files manifest, and opens the canvas when the
// result's display config asks for it.
func (o *Orchestrator) ingestArtifacts(ctx context.Context, session *models.Session, userEmail string, result *models.ToolResult, pub events.Publisher) {
	if len(result.Artifacts) == 0 {
		return
	}

	stored := 0
	for _, art := range result.Artifacts {
		ref := models.FileRef{
			ContentType:  art.Mime,
			Size:         art.Size,
			Source:       models.FileSourceTool,
			LastModified: time.Now().UTC(),
			ExtractMode:  models.ExtractModeNone,
			ToolCallID:   result.ToolCallID,
		}
		if o.store != nil {
			meta, err := o.store.UploadFile(ctx, userEmail, art.Name, art.B64, string(models.FileSourceTool), nil)
			if err != nil {
				o.logger.Warn("Artifact upload failed, skipping", "artifact", art.Name, "error", err)
				continue
			}
			ref.Key = meta.Key
			if ref.ContentType == "" {
				ref.ContentType = meta.ContentType
			}
		}
		session.SetFile(art.Name, ref)
		stored++
	}
	if stored == 0 {
		return
	}

	pub.PublishFilesUpdate(ctx, filestore.OrganizeFilesMetadata(session.Files()))

	if dc := result.DisplayConfig; dc != nil && dc.OpenCanvas && dc.PrimaryFile != "" {
		pub.PublishIntermediateUpdate(ctx, events.IntermediateCanvasFiles, map[string]any{
			"primary_file": dc.PrimaryFile,
			"viewer_hint":  dc.ViewerHint,
		})
	}
}
