// Package rag federates retrieval backends behind a single service. Sources
// are addressed as "<server>:<source_id>"; backends are either plain HTTP
// retrieval services or MCP servers exposing rag tools.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/mcp"
	"github.com/chatloom/chatloom/pkg/models"
)

// DataSource describes one queryable corpus within a backend.
type DataSource struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Label           string `json:"label"`
	Description     string `json:"description,omitempty"`
	ComplianceLevel string `json:"complianceLevel,omitempty"`
}

// BackendSources groups the sources discovered from one backend.
type BackendSources struct {
	Server          string       `json:"server"`
	DisplayName     string       `json:"displayName"`
	Icon            string       `json:"icon,omitempty"`
	ComplianceLevel string       `json:"complianceLevel,omitempty"`
	Sources         []DataSource `json:"sources"`
}

// UnifiedRAGService aggregates HTTP and MCP retrieval backends. It implements
// llm.Retriever so the caller can feed retrieved context into completions.
type UnifiedRAGService struct {
	backends   map[string]config.RAGBackend
	httpClient *http.Client
	mcpClient  *mcp.Client
	logger     *slog.Logger
}

var _ llm.Retriever = (*UnifiedRAGService)(nil)

// NewUnifiedRAGService creates the aggregator. mcpClient may be nil when no
// MCP-typed backends are configured.
func NewUnifiedRAGService(backends map[string]config.RAGBackend, mcpClient *mcp.Client) *UnifiedRAGService {
	return &UnifiedRAGService{
		backends:   backends,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		mcpClient:  mcpClient,
		logger:     slog.Default().With("component", "rag"),
	}
}

// DiscoverDataSources lists the sources of every configured backend. A backend
// that fails discovery is skipped with a warning so one broken corpus does not
// hide the rest. compliance, when non-empty, filters sources to that level.
func (s *UnifiedRAGService) DiscoverDataSources(ctx context.Context, userEmail, compliance string) ([]BackendSources, error) {
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]BackendSources, 0, len(names))
	for _, name := range names {
		backend := s.backends[name]
		sources, err := s.discoverBackend(ctx, name, backend, userEmail)
		if err != nil {
			s.logger.Warn("RAG source discovery failed",
				"backend", name, "type", backend.Type, "error", err)
			continue
		}
		if compliance != "" {
			sources = filterByCompliance(sources, compliance)
		}
		out = append(out, BackendSources{
			Server:          name,
			DisplayName:     displayName(name, backend),
			Icon:            backend.Icon,
			ComplianceLevel: backend.ComplianceLevel,
			Sources:         sources,
		})
	}
	return out, nil
}

// Query resolves "server:source" to a backend and runs the retrieval.
// Implements llm.Retriever.
func (s *UnifiedRAGService) Query(ctx context.Context, userEmail, qualifiedSource string, messages []llm.ChatMessage) (*llm.RAGResult, error) {
	server, source, err := SplitQualifiedSource(qualifiedSource)
	if err != nil {
		return nil, err
	}
	backend, ok := s.backends[server]
	if !ok {
		return nil, fmt.Errorf("unknown RAG backend %q", server)
	}

	switch backend.Type {
	case config.RAGBackendHTTP:
		return s.queryHTTP(ctx, backend, userEmail, source, messages)
	case config.RAGBackendMCP:
		return s.queryMCP(ctx, backend, userEmail, source, messages)
	default:
		return nil, fmt.Errorf("RAG backend %q has unsupported type %q", server, backend.Type)
	}
}

// SplitQualifiedSource splits "<server>:<source_id>" at the first colon.
func SplitQualifiedSource(qualified string) (server, source string, err error) {
	idx := strings.Index(qualified, ":")
	if idx <= 0 || idx == len(qualified)-1 {
		return "", "", fmt.Errorf("invalid data source %q: expected <server>:<source_id>", qualified)
	}
	return qualified[:idx], qualified[idx+1:], nil
}

func displayName(name string, backend config.RAGBackend) string {
	if backend.DisplayName != "" {
		return backend.DisplayName
	}
	return name
}

func filterByCompliance(sources []DataSource, compliance string) []DataSource {
	filtered := make([]DataSource, 0, len(sources))
	for _, src := range sources {
		if src.ComplianceLevel == "" || strings.EqualFold(src.ComplianceLevel, compliance) {
			filtered = append(filtered, src)
		}
	}
	return filtered
}

func (s *UnifiedRAGService) discoverBackend(ctx context.Context, name string, backend config.RAGBackend, userEmail string) ([]DataSource, error) {
	switch backend.Type {
	case config.RAGBackendHTTP:
		return s.discoverHTTP(ctx, backend, userEmail)
	case config.RAGBackendMCP:
		return s.discoverMCP(ctx, backend)
	default:
		return nil, fmt.Errorf("unsupported backend type %q", backend.Type)
	}
}

// httpSourcesResponse is the HTTP backend's GET /sources payload.
type httpSourcesResponse struct {
	Sources []DataSource `json:"sources"`
}

func (s *UnifiedRAGService) discoverHTTP(ctx context.Context, backend config.RAGBackend, userEmail string) ([]DataSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(backend.URL, "/")+"/sources", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.setHeaders(req, backend, userEmail)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("RAG backend returned HTTP %d", resp.StatusCode)
	}

	var payload httpSourcesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sources response: %w", err)
	}
	return payload.Sources, nil
}

// httpQueryRequest is the HTTP backend's POST /query payload.
type httpQueryRequest struct {
	Source    string        `json:"source"`
	UserEmail string        `json:"user_email"`
	Messages  []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// httpQueryResponse mirrors llm.RAGResult on the wire.
type httpQueryResponse struct {
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IsCompletion bool           `json:"is_completion"`
}

func (s *UnifiedRAGService) queryHTTP(ctx context.Context, backend config.RAGBackend, userEmail, source string, messages []llm.ChatMessage) (*llm.RAGResult, error) {
	wire := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, wireMessage{Role: string(msg.Role), Content: msg.Content})
	}
	body, err := json.Marshal(httpQueryRequest{Source: source, UserEmail: userEmail, Messages: wire})
	if err != nil {
		return nil, fmt.Errorf("encode query request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(backend.URL, "/")+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.setHeaders(req, backend, userEmail)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query source %q: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("RAG backend returned HTTP %d for source %q: %s",
			resp.StatusCode, source, strings.TrimSpace(string(snippet)))
	}

	var payload httpQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return &llm.RAGResult{
		Content:      payload.Content,
		Metadata:     payload.Metadata,
		IsCompletion: payload.IsCompletion,
	}, nil
}

func (s *UnifiedRAGService) setHeaders(req *http.Request, backend config.RAGBackend, userEmail string) {
	if backend.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+backend.BearerToken)
	}
	if userEmail != "" {
		req.Header.Set("X-User-Email", userEmail)
	}
}

func (s *UnifiedRAGService) discoverMCP(ctx context.Context, backend config.RAGBackend) ([]DataSource, error) {
	if s.mcpClient == nil {
		return nil, fmt.Errorf("no MCP client configured")
	}
	result, err := s.mcpClient.CallTool(ctx, backend.Server, "list_sources", map[string]any{}, nil)
	if err != nil {
		return nil, fmt.Errorf("list_sources on %q: %w", backend.Server, err)
	}
	text, err := firstText(result)
	if err != nil {
		return nil, err
	}
	var payload httpSourcesResponse
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		// Tolerate a bare array of sources.
		var sources []DataSource
		if err2 := json.Unmarshal([]byte(text), &sources); err2 != nil {
			return nil, fmt.Errorf("decode list_sources result: %w", err)
		}
		return sources, nil
	}
	return payload.Sources, nil
}

func (s *UnifiedRAGService) queryMCP(ctx context.Context, backend config.RAGBackend, userEmail, source string, messages []llm.ChatMessage) (*llm.RAGResult, error) {
	if s.mcpClient == nil {
		return nil, fmt.Errorf("no MCP client configured")
	}

	args := map[string]any{
		"source":     source,
		"query":      lastUserContent(messages),
		"user_email": userEmail,
	}
	result, err := s.mcpClient.CallTool(ctx, backend.Server, "query", args, nil)
	if err != nil {
		return nil, fmt.Errorf("query on %q: %w", backend.Server, err)
	}
	text, err := firstText(result)
	if err != nil {
		return nil, err
	}

	var payload httpQueryResponse
	if err := json.Unmarshal([]byte(text), &payload); err != nil || payload.Content == "" {
		// Plain-text retrieval result.
		return &llm.RAGResult{Content: text}, nil
	}
	return &llm.RAGResult{
		Content:      payload.Content,
		Metadata:     payload.Metadata,
		IsCompletion: payload.IsCompletion,
	}, nil
}

// lastUserContent returns the most recent user message, the retrieval query.
func lastUserContent(messages []llm.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func firstText(result *mcpsdk.CallToolResult) (string, error) {
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			return text.Text, nil
		}
	}
	return "", fmt.Errorf("tool result carried no text content")
}
