// Package mcp provides the MCP (Model Context Protocol) client layer:
// connecting to configured servers, listing and calling tools with progress
// relay, retrieving prompts, and recovering broken sessions.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/version"
)

// newProgressToken mints a unique token binding progress notifications to
// one in-flight tool call.
func newProgressToken() string { return uuid.NewString() }

// ProgressHandler receives tool execution progress. message may carry an
// MCP_UPDATE: payload that the tool executor unwraps.
type ProgressHandler func(progress, total float64, message string)

// Client manages MCP sessions for all configured servers. Process-wide and
// safe for concurrent use across requests.
type Client struct {
	registry *config.MCPServerRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	failedServers map[string]string

	// Tool schemas are cached per server until the session is recreated.
	toolCacheMu sync.RWMutex
	toolCache   map[string][]*mcpsdk.Tool

	// Per-server mutex serializing session (re)creation.
	reinitMu sync.Map

	// Progress notifications are dispatched by progress token.
	progressMu sync.Mutex
	progress   map[string]ProgressHandler

	logger *slog.Logger
}

// NewClient creates a client over the configured server registry. Call
// Initialize before use.
func NewClient(registry *config.MCPServerRegistry) *Client {
	return &Client{
		registry:      registry,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		progress:      make(map[string]ProgressHandler),
		logger:        slog.Default(),
	}
}

// Initialize connects to all servers in the registry. Connection failures
// are recorded, not fatal — a chat server with one broken tool server keeps
// serving the rest.
func (c *Client) Initialize(ctx context.Context) error {
	for _, serverName := range c.registry.Names() {
		if err := c.InitializeServer(ctx, serverName); err != nil {
			c.mu.Lock()
			c.failedServers[serverName] = err.Error()
			c.mu.Unlock()
			c.logger.Warn("MCP server failed to initialize",
				"server", serverName, "error", err)
		}
	}
	return nil
}

// InitializeServer connects a single server. Returns nil when already
// connected. Serialized per server to avoid duplicate connections.
func (c *Client) InitializeServer(ctx context.Context, serverName string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverName, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return c.initializeServerLocked(ctx, serverName)
}

func (c *Client) initializeServerLocked(ctx context.Context, serverName string) error {
	c.mu.RLock()
	if _, exists := c.sessions[serverName]; exists {
		c.mu.RUnlock()
		return nil
	}
	c.mu.RUnlock()

	serverCfg, err := c.registry.Get(serverName)
	if err != nil {
		return err
	}

	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("creating transport for %q: %w", serverName, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, &mcpsdk.ClientOptions{
		ProgressNotificationHandler: c.handleProgress,
	})

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connecting to %q: %w", serverName, err)
	}

	c.mu.Lock()
	c.sessions[serverName] = session
	delete(c.failedServers, serverName)
	c.mu.Unlock()

	c.logger.Info("MCP server connected", "server", serverName)
	return nil
}

// handleProgress routes a progress notification to the handler registered
// for its token. Notifications without a registered handler are dropped.
func (c *Client) handleProgress(_ context.Context, req *mcpsdk.ProgressNotificationClientRequest) {
	token := fmt.Sprintf("%v", req.Params.ProgressToken)
	c.progressMu.Lock()
	handler := c.progress[token]
	c.progressMu.Unlock()
	if handler != nil {
		handler(req.Params.Progress, req.Params.Total, req.Params.Message)
	}
}

// ListTools returns the tool schemas of one server, cached after the first
// call.
func (c *Client) ListTools(ctx context.Context, serverName string) ([]*mcpsdk.Tool, error) {
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverName]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	session, err := c.session(ctx, serverName)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools from %q: %w", serverName, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	c.toolCacheMu.Lock()
	c.toolCache[serverName] = tools
	c.toolCacheMu.Unlock()
	return tools, nil
}

// ListAllTools returns tool schemas from every connected server. Partial
// results are returned when some servers fail; an error only when all do.
func (c *Client) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	c.mu.RLock()
	serverNames := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		serverNames = append(serverNames, name)
	}
	c.mu.RUnlock()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, name := range serverNames {
		tools, err := c.ListTools(ctx, name)
		if err != nil {
			lastErr = err
			c.logger.Warn("Failed to list tools from MCP server",
				"server", name, "error", err)
			continue
		}
		result[name] = tools
	}
	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes a tool with progress relay. On transport failure the
// session is recreated and the call retried once after a jittered backoff.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args map[string]any, onProgress ProgressHandler) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	var token string
	if onProgress != nil {
		token = newProgressToken()
		params.SetProgressToken(token)
		c.progressMu.Lock()
		c.progress[token] = onProgress
		c.progressMu.Unlock()
		defer func() {
			c.progressMu.Lock()
			delete(c.progress, token)
			c.progressMu.Unlock()
		}()
	}

	result, err := c.callToolOnce(ctx, serverName, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyFailure(err)
	if action == NoRetry {
		return nil, err
	}

	c.logger.Info("MCP call failed, retrying",
		"server", serverName, "tool", toolName, "action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := c.recreateSession(ctx, serverName); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", serverName, err)
		}
	}

	result, err = c.callToolOnce(ctx, serverName, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %s_%s: %w", serverName, toolName, err)
	}
	return result, nil
}

func (c *Client) callToolOnce(ctx context.Context, serverName string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := c.session(ctx, serverName)
	if err != nil {
		return nil, err
	}
	return session.CallTool(ctx, params)
}

// GetPrompt retrieves a prompt from a server and flattens its messages to
// plain text. Used for selected_prompts overrides.
func (c *Client) GetPrompt(ctx context.Context, serverName, promptName string, args map[string]string) (string, error) {
	session, err := c.session(ctx, serverName)
	if err != nil {
		return "", err
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.GetPrompt(opCtx, &mcpsdk.GetPromptParams{
		Name:      promptName,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("getting prompt %q from %q: %w", promptName, serverName, err)
	}

	var text string
	for _, msg := range result.Messages {
		if tc, ok := msg.Content.(*mcpsdk.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("prompt %q from %q has no text content", promptName, serverName)
	}
	return text, nil
}

// session returns the live session for a server, lazily connecting when the
// server is configured but not yet connected.
func (c *Client) session(ctx context.Context, serverName string) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverName]
	c.mu.RUnlock()
	if exists {
		return session, nil
	}
	if !c.registry.Has(serverName) {
		return nil, fmt.Errorf("MCP server %q not configured", serverName)
	}
	if err := c.InitializeServer(ctx, serverName); err != nil {
		return nil, err
	}
	c.mu.RLock()
	session = c.sessions[serverName]
	c.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("no session for server %q", serverName)
	}
	return session, nil
}

// recreateSession tears down and reconnects one server. Serialized per
// server; a racing second caller pays one extra recreation, which is
// acceptable.
func (c *Client) recreateSession(ctx context.Context, serverName string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverName, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, exists := c.sessions[serverName]; exists {
		_ = session.Close()
		delete(c.sessions, serverName)
	}
	c.mu.Unlock()

	c.InvalidateToolCache(serverName)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()
	return c.initializeServerLocked(reinitCtx, serverName)
}

// InvalidateToolCache drops the cached tool list for one server.
func (c *Client) InvalidateToolCache(serverName string) {
	c.toolCacheMu.Lock()
	delete(c.toolCache, serverName)
	c.toolCacheMu.Unlock()
}

// ServerNames returns the configured server names in stable order.
func (c *Client) ServerNames() []string {
	return c.registry.Names()
}

// HasSession reports whether a server has a live session.
func (c *Client) HasSession(serverName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.sessions[serverName]
	return exists
}

// FailedServers returns a copy of the map of servers that failed to connect.
func (c *Client) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		out[k] = v
	}
	return out
}

// Close shuts down all sessions.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing session %q: %w", name, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.failedServers = make(map[string]string)

	c.toolCacheMu.Lock()
	c.toolCache = make(map[string][]*mcpsdk.Tool)
	c.toolCacheMu.Unlock()
	return firstErr
}
