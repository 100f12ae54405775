package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatloom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
server:
  host: 127.0.0.1
  port: 9090
llm:
  api_key: test-key
  default_model: gpt-4o-mini
mcp:
  servers:
    reader:
      transport:
        type: stdio
        command: reader-mcp
      require_approval: [delete_file]
    search:
      transport:
        type: http
        url: http://localhost:9100/mcp
      allowed_groups: [analysts]
rag_backends:
  kb:
    type: http
    url: http://localhost:9200/query
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.DefaultModel)
	// Defaults fill the gaps.
	assert.Equal(t, DefaultToolTimeoutSeconds, cfg.MCP.ToolTimeoutSeconds)
	assert.Equal(t, DefaultAgentStrategy, cfg.Agent.Strategy)
	assert.InDelta(t, DefaultTemperature, cfg.LLM.Temperature, 0.001)

	require.True(t, cfg.MCPServers().Has("reader"))
	server, err := cfg.MCPServers().Get("search")
	require.NoError(t, err)
	assert.Equal(t, []string{"analysts"}, server.AllowedGroups)

	approvals := cfg.MCPServers().RequireApprovalSet()
	assert.True(t, approvals["reader_delete_file"])
	assert.False(t, approvals["reader_read_file"])
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-from-env")
	cfg, err := Load(writeConfig(t, `
llm:
  api_key: ${TEST_LLM_KEY}
`))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
}

func TestLoadMissingEnvIsConfigurationError(t *testing.T) {
	_, err := Load(writeConfig(t, `
llm:
  api_key: ${DEFINITELY_NOT_SET_ANYWHERE_123}
`))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfiguration))
	assert.Contains(t, err.Error(), "DEFINITELY_NOT_SET_ANYWHERE_123")
}

func TestLoadEnvDefaultFallback(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  host: ${UNSET_HOST_VAR:-0.0.0.0}
`))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "stdio without command",
			yaml: "mcp:\n  servers:\n    bad:\n      transport:\n        type: stdio\n",
		},
		{
			name: "http without url",
			yaml: "mcp:\n  servers:\n    bad:\n      transport:\n        type: http\n",
		},
		{
			name: "unknown transport",
			yaml: "mcp:\n  servers:\n    bad:\n      transport:\n        type: carrier-pigeon\n",
		},
		{
			name: "rag backend unknown mcp server",
			yaml: "rag_backends:\n  kb:\n    type: mcp\n    server: ghost\n",
		},
		{
			name: "security check without url",
			yaml: "security:\n  check_enabled: true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindConfiguration))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConfiguration))
}
