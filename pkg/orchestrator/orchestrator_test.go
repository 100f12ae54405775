package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/filestore"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/repo"
	"github.com/chatloom/chatloom/pkg/security"
	"github.com/chatloom/chatloom/pkg/tools"
)

// fakeProvider plays back scripted responses and records each request.
type fakeProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []llm.CompletionRequest
	// streamErr fails the stream before it starts; midStreamErr delivers a
	// started stream whose only item is the failure.
	streamErr    error
	midStreamErr error
}

func (p *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *fakeProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (llm.Stream, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	if p.midStreamErr != nil {
		ch := make(chan llm.StreamItem, 1)
		ch <- llm.StreamErr{Err: p.midStreamErr}
		close(ch)
		return ch, nil
	}
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamItem, 2)
	if resp.Content != "" && len(resp.ToolCalls) == 0 {
		ch <- llm.Token{Text: resp.Content}
	}
	ch <- llm.Final{Response: resp}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) lastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// memoryConversations collects saved conversations.
type memoryConversations struct {
	mu    sync.Mutex
	saved []*repo.Conversation
}

func (m *memoryConversations) Save(_ context.Context, conv *repo.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, conv)
	return nil
}

func (m *memoryConversations) Get(context.Context, string, string) (*repo.Conversation, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryConversations) List(context.Context, string, int) ([]*repo.Conversation, error) {
	return nil, nil
}

func (m *memoryConversations) Delete(context.Context, string, string) error { return nil }

// blockingChecker blocks content containing a marker substring.
type blockingChecker struct {
	marker string
}

func (c blockingChecker) verdict(content string) (security.CheckResult, error) {
	if strings.Contains(content, c.marker) {
		return security.CheckResult{Status: security.StatusBlocked, Message: "policy violation"}, nil
	}
	return security.CheckResult{Status: security.StatusGood}, nil
}

func (c blockingChecker) CheckInput(_ context.Context, content string, _ []models.Message, _ string) (security.CheckResult, error) {
	return c.verdict(content)
}

func (c blockingChecker) CheckOutput(_ context.Context, content string, _ []models.Message, _ string) (security.CheckResult, error) {
	return c.verdict(content)
}

func (c blockingChecker) CheckToolRAGOutput(_ context.Context, content, _ string, _ []models.Message, _ string) (security.CheckResult, error) {
	return c.verdict(content)
}

type fixture struct {
	orch     *Orchestrator
	sessions repo.SessionRepository
	provider *fakeProvider
	convs    *memoryConversations
	pub      *events.CLICollectingPublisher
	session  *models.Session
}

type fixtureOption func(*config.Config, *Deps)

func newFixture(t *testing.T, provider *fakeProvider, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := &config.Config{
		LLM:          config.LLMConfig{DefaultModel: "gpt-4o", Temperature: 0.7},
		SystemPrompt: "You are a helpful assistant for {user_email}.",
		Agent:        config.AgentConfig{MaxSteps: 4, Strategy: "react"},
	}

	sessions := repo.NewMemorySessionRepository()
	convs := &memoryConversations{}
	caller := llm.NewCaller(provider, nil)
	registry := config.NewMCPServerRegistry(nil)
	executor := tools.NewExecutor(nil, registry, nil, nil, caller, config.SecurityConfig{}, 0)

	deps := Deps{
		Sessions:      sessions,
		Conversations: convs,
		Caller:        caller,
		Executor:      executor,
		Store:         filestore.NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	orch := New(cfg, deps)

	session := models.NewSession("alice@example.com")
	_, err := sessions.Create(context.Background(), session)
	require.NoError(t, err)

	return &fixture{
		orch:     orch,
		sessions: sessions,
		provider: provider,
		convs:    convs,
		pub:      events.NewCLICollectingPublisher(),
		session:  session,
	}
}

func (f *fixture) execute(t *testing.T, req *Request) *Response {
	t.Helper()
	if req.SessionID == "" {
		req.SessionID = f.session.ID
	}
	resp, err := f.orch.Execute(context.Background(), req, f.pub)
	require.NoError(t, err)
	return resp
}

func eventTypes(pub *events.CLICollectingPublisher) []string {
	var out []string
	for _, event := range pub.Result().RawEvents {
		if t, ok := event["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

func TestExecuteSessionNotFound(t *testing.T) {
	f := newFixture(t, &fakeProvider{})
	_, err := f.orch.Execute(context.Background(), &Request{SessionID: "missing", Content: "hi"}, f.pub)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindSessionNotFound))
}

func TestExecutePlainStreaming(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "Hello there."}}}
	f := newFixture(t, provider)

	resp := f.execute(t, &Request{Content: "hi", Streaming: true})

	assert.Equal(t, ModePlain, resp.Mode)
	assert.Equal(t, "Hello there.", resp.Content)
	assert.Equal(t, "Hello there.", f.pub.Result().Message)

	types := eventTypes(f.pub)
	assert.Contains(t, types, events.EventTypeResponseComplete)
	// Persistence confirmation follows the completed turn.
	assert.Equal(t, events.EventTypeConversationSaved, types[len(types)-1])

	session, err := f.sessions.Get(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, session.History, 2)
	assert.Equal(t, models.RoleAssistant, session.History[1].Role)
	assert.Equal(t, "Hello there.", session.History[1].Content)
}

func TestExecuteSystemPromptSubstitution(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "ok"}}}
	f := newFixture(t, provider)

	f.execute(t, &Request{Content: "hi"})

	req := f.provider.lastRequest()
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, models.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "alice@example.com")
}

func TestExecuteEmptyDataSourcesRoutesToPlain(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "plain answer"}}}
	f := newFixture(t, provider)

	resp := f.execute(t, &Request{Content: "hi", SelectedDataSources: []string{}})
	assert.Equal(t, ModePlain, resp.Mode)
}

type staticRetriever struct{ content string }

func (r staticRetriever) Query(context.Context, string, string, []llm.ChatMessage) (*llm.RAGResult, error) {
	return &llm.RAGResult{Content: r.content}, nil
}

func TestExecuteRAGMode(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "grounded answer"}}}
	f := newFixture(t, provider, func(_ *config.Config, deps *Deps) {
		deps.Caller = llm.NewCaller(provider, staticRetriever{content: "retrieved context"})
	})

	resp := f.execute(t, &Request{Content: "what is X?", SelectedDataSources: []string{"kb:docs"}})

	assert.Equal(t, ModeRAG, resp.Mode)
	assert.Equal(t, []string{"kb:docs"}, resp.Metadata["data_sources"])

	session, err := f.sessions.Get(context.Background(), f.session.ID)
	require.NoError(t, err)
	assistant := session.History[len(session.History)-1]
	assert.Equal(t, []string{"kb:docs"}, assistant.Metadata["data_sources"])

	req := f.provider.lastRequest()
	assert.Contains(t, req.Messages[0].Content, "retrieved context")
}

func TestExecuteToolsModeAllCanvas(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{
		ToolCalls: []models.ToolCall{{
			ID: "c1", Name: tools.CanvasToolName,
			Arguments: map[string]any{"content": "# chart"},
		}},
	}}}
	f := newFixture(t, provider)

	resp := f.execute(t, &Request{Content: "draw it", SelectedTools: []string{tools.CanvasToolName}})

	assert.Equal(t, ModeTools, resp.Mode)
	assert.Equal(t, "Content displayed in canvas.", resp.Content)
	assert.Equal(t, "# chart", f.pub.Result().CanvasContent)
	require.Len(t, resp.ToolResults, 1)
	assert.True(t, resp.ToolResults[0].Success)
}

func TestExecuteToolsInitialStreamFailure(t *testing.T) {
	provider := &fakeProvider{midStreamErr: errors.New("connection reset by provider")}
	f := newFixture(t, provider)

	_, err := f.orch.Execute(context.Background(), &Request{
		SessionID:     f.session.ID,
		Content:       "use the tool",
		SelectedTools: []string{tools.CanvasToolName},
		Streaming:     true,
	}, f.pub)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindLLMService))

	types := eventTypes(f.pub)
	assert.Contains(t, types, events.EventTypeError)
	assert.Contains(t, types, events.EventTypeResponseComplete)

	// Only the user message persists; the classified text is not an answer.
	session, gerr := f.sessions.Get(context.Background(), f.session.ID)
	require.NoError(t, gerr)
	require.Len(t, session.History, 1)
	assert.Equal(t, models.RoleUser, session.History[0].Role)
}

func TestExecuteOnlyRAGBeatsTools(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "rag answer"}}}
	f := newFixture(t, provider, func(_ *config.Config, deps *Deps) {
		deps.Caller = llm.NewCaller(provider, staticRetriever{content: "ctx"})
	})

	resp := f.execute(t, &Request{
		Content:             "hi",
		SelectedTools:       []string{tools.CanvasToolName},
		SelectedDataSources: []string{"kb:docs"},
		OnlyRAG:             true,
	})
	assert.Equal(t, ModeRAG, resp.Mode)
}

func TestExecuteAgentMode(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		{Content: "Thought: simple question\nFinal Answer: Forty-two."},
	}}
	f := newFixture(t, provider)

	resp := f.execute(t, &Request{Content: "the answer?", AgentMode: true})

	assert.Equal(t, ModeAgent, resp.Mode)
	assert.Equal(t, "Forty-two.", resp.Content)
	assert.Equal(t, "react", resp.Metadata["agent_strategy"])
	assert.Contains(t, eventTypes(f.pub), events.EventTypeAgentUpdate)
}

func TestExecuteFileIngestion(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "noted"}}}
	f := newFixture(t, provider)

	content := base64.StdEncoding.EncodeToString([]byte("line one\nline two"))
	f.execute(t, &Request{Content: "see attached", Files: map[string]string{"notes.txt": content}})

	session, err := f.sessions.Get(context.Background(), f.session.ID)
	require.NoError(t, err)
	ref, ok := session.Files()["notes.txt"]
	require.True(t, ok)
	assert.NotEmpty(t, ref.Key)
	assert.Equal(t, models.ExtractModePreview, ref.ExtractMode)
	assert.Equal(t, "line one\nline two", ref.ExtractedPreview)

	var sawFilesUpdate bool
	for _, event := range f.pub.Result().RawEvents {
		if event["update_type"] == events.IntermediateFilesUpdate {
			sawFilesUpdate = true
		}
	}
	assert.True(t, sawFilesUpdate)

	req := f.provider.lastRequest()
	var manifest string
	for _, msg := range req.Messages {
		if msg.Role == models.RoleSystem && strings.Contains(msg.Content, "notes.txt") {
			manifest = msg.Content
		}
	}
	assert.Contains(t, manifest, "line one")
}

func TestPreviewText(t *testing.T) {
	long := strings.Repeat("line\n", 20)
	preview := previewText(long)
	assert.Equal(t, previewMaxLines, strings.Count(preview, "\n")+1)

	wide := strings.Repeat("x", 3000)
	assert.Len(t, previewText(wide), previewMaxChars)
}

func TestExecuteBlockedInput(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "never reached"}}}
	f := newFixture(t, provider, func(_ *config.Config, deps *Deps) {
		deps.Checker = blockingChecker{marker: "forbidden"}
	})

	_, err := f.orch.Execute(context.Background(), &Request{
		SessionID: f.session.ID, Content: "something forbidden",
	}, f.pub)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindValidation))

	session, gerr := f.sessions.Get(context.Background(), f.session.ID)
	require.NoError(t, gerr)
	assert.Empty(t, session.History, "blocked user message must be backed out")
	assert.Contains(t, eventTypes(f.pub), events.EventTypeSecurityWarning)
}

func TestExecuteBlockedToolsOutputClearsHistory(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{
		{ToolCalls: []models.ToolCall{{
			ID: "c1", Name: tools.CanvasToolName,
			Arguments: map[string]any{"content": "ok"},
		}}, Content: "forbidden synthesis"},
	}}
	f := newFixture(t, provider, func(_ *config.Config, deps *Deps) {
		deps.Checker = blockingChecker{marker: "forbidden"}
	})

	_, err := f.orch.Execute(context.Background(), &Request{
		SessionID: f.session.ID, Content: "do it",
		SelectedTools: []string{tools.CanvasToolName},
	}, f.pub)
	require.Error(t, err)

	session, gerr := f.sessions.Get(context.Background(), f.session.ID)
	require.NoError(t, gerr)
	assert.Empty(t, session.History, "blocked output clears the conversation")
	assert.Contains(t, eventTypes(f.pub), events.EventTypeSecurityWarning)
}

func TestExecutePersistsConversation(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "saved answer"}}}
	f := newFixture(t, provider)

	f.execute(t, &Request{Content: "remember this", UserEmail: "alice@example.com"})

	require.Len(t, f.convs.saved, 1)
	assert.Equal(t, f.session.ID, f.convs.saved[0].ConversationID)
	assert.Len(t, f.convs.saved[0].History, 2)
	assert.Contains(t, eventTypes(f.pub), events.EventTypeConversationSaved)
}

func TestExecuteIncognitoSkipsPersistence(t *testing.T) {
	provider := &fakeProvider{responses: []*llm.Response{{Content: "off the record"}}}
	f := newFixture(t, provider)

	f.execute(t, &Request{Content: "psst", UserEmail: "alice@example.com", Incognito: true})

	assert.Empty(t, f.convs.saved)
	assert.NotContains(t, eventTypes(f.pub), events.EventTypeConversationSaved)
}

func TestNewWithoutLoadedRegistry(t *testing.T) {
	// A Config literal never went through config.Load, so it carries no
	// server registry; the filter must still work.
	f := newFixture(t, &fakeProvider{})

	filtered := f.orch.FilterAuthorizedTools(context.Background(),
		[]string{"reader_read_file"}, "alice@example.com")
	assert.Equal(t, []string{"reader_read_file"}, filtered)
}

func TestFilterAuthorizedTools(t *testing.T) {
	registry := map[string]*config.MCPServerConfig{
		"reader":      {},
		"hr_payroll":  {AllowedGroups: []string{"hr"}},
		"open_server": {AllowedGroups: nil},
	}
	f := newFixture(t, &fakeProvider{})
	orch := f.orch
	orch.registry = config.NewMCPServerRegistry(registry)
	orch.groups = StaticGroupResolver{"bob@example.com": {"engineering"}}

	filtered := orch.FilterAuthorizedTools(context.Background(), []string{
		tools.CanvasToolName,
		"reader_read_file",
		"hr_payroll_lookup",
		"open_server_ping",
		"mystery_tool",
	}, "bob@example.com")

	assert.Contains(t, filtered, tools.CanvasToolName)
	assert.Contains(t, filtered, "reader_read_file")
	assert.Contains(t, filtered, "open_server_ping")
	assert.Contains(t, filtered, "mystery_tool", "unresolvable server passes through")
	assert.NotContains(t, filtered, "hr_payroll_lookup")
}

func TestFilterAuthorizedToolsGroupLookupFailure(t *testing.T) {
	provider := &fakeProvider{}
	f := newFixture(t, provider)
	f.orch.groups = failingResolver{}

	selected := []string{"reader_read_file", "hr_payroll_lookup"}
	filtered := f.orch.FilterAuthorizedTools(context.Background(), selected, "bob@example.com")
	assert.Equal(t, selected, filtered, "lookup failure passes tools through")
}

type failingResolver struct{}

func (failingResolver) Groups(context.Context, string) ([]string, error) {
	return nil, errors.New("directory unavailable")
}
