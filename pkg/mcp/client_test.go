package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/pkg/config"
)

var emptySchema = json.RawMessage(`{"type":"object"}`)

// startTestServer runs an in-memory MCP server with the given tools.
func startTestServer(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *mcpsdk.InMemoryTransport {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: name, Version: "test",
	}, nil)

	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()
	return clientTransport
}

// connectClientDirect wires a Client to a pre-built in-memory transport,
// bypassing the registry/createTransport path.
func connectClientDirect(t *testing.T, serverName string, transport *mcpsdk.InMemoryTransport) *Client {
	t.Helper()

	client := NewClient(config.NewMCPServerRegistry(nil))

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "chatloom-test", Version: "test",
	}, nil)

	session, err := sdkClient.Connect(context.Background(), transport, nil)
	require.NoError(t, err)

	client.mu.Lock()
	client.sessions[serverName] = session
	client.mu.Unlock()

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}
}

func TestClientListTools(t *testing.T) {
	transport := startTestServer(t, "reader", map[string]mcpsdk.ToolHandler{
		"read_file": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("ok"), nil
		},
		"list_files": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("ok"), nil
		},
	})

	client := connectClientDirect(t, "reader", transport)

	tools, err := client.ListTools(context.Background(), "reader")
	require.NoError(t, err)
	require.Len(t, tools, 2)

	names := []string{tools[0].Name, tools[1].Name}
	assert.Contains(t, names, "read_file")
	assert.Contains(t, names, "list_files")
}

func TestClientListToolsCached(t *testing.T) {
	transport := startTestServer(t, "reader", map[string]mcpsdk.ToolHandler{
		"read_file": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("ok"), nil
		},
	})

	client := connectClientDirect(t, "reader", transport)
	ctx := context.Background()

	tools1, err := client.ListTools(ctx, "reader")
	require.NoError(t, err)
	tools2, err := client.ListTools(ctx, "reader")
	require.NoError(t, err)
	assert.Equal(t, tools1, tools2)
}

func TestClientCallTool(t *testing.T) {
	transport := startTestServer(t, "reader", map[string]mcpsdk.ToolHandler{
		"read_file": func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("a,b\n1,2"), nil
		},
	})

	client := connectClientDirect(t, "reader", transport)

	result, err := client.CallTool(context.Background(), "reader", "read_file",
		map[string]any{"filename": "data.csv"}, nil)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	tc, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "a,b\n1,2", tc.Text)
}

func TestClientCallToolErrorResult(t *testing.T) {
	transport := startTestServer(t, "reader", map[string]mcpsdk.ToolHandler{
		"bad_tool": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "tool error: no such file"}},
				IsError: true,
			}, nil
		},
	})

	client := connectClientDirect(t, "reader", transport)

	result, err := client.CallTool(context.Background(), "reader", "bad_tool", nil, nil)
	require.NoError(t, err) // tool-level failure travels in the result
	assert.True(t, result.IsError)
}

func TestClientUnknownServer(t *testing.T) {
	client := NewClient(config.NewMCPServerRegistry(nil))

	_, err := client.ListTools(context.Background(), "ghost")
	assert.Error(t, err)

	_, err = client.CallTool(context.Background(), "ghost", "tool", nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestClientInitializeRecordsFailures(t *testing.T) {
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"broken": {Transport: config.TransportConfig{Type: "carrier-pigeon"}},
	})
	client := NewClient(registry)

	require.NoError(t, client.Initialize(context.Background()))
	assert.Contains(t, client.FailedServers(), "broken")
}

func TestClientHasSessionAndClose(t *testing.T) {
	transport := startTestServer(t, "reader", map[string]mcpsdk.ToolHandler{
		"ping": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return textResult("pong"), nil
		},
	})

	client := connectClientDirect(t, "reader", transport)
	assert.True(t, client.HasSession("reader"))
	assert.False(t, client.HasSession("ghost"))

	require.NoError(t, client.Close())
	assert.False(t, client.HasSession("reader"))
}
