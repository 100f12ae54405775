// Package config loads and validates the chatloom.yaml configuration:
// server settings, LLM provider, MCP servers, RAG backends, file store and
// security options.
package config

import (
	"fmt"
	"time"
)

// Config is the fully loaded, validated runtime configuration.
type Config struct {
	Server       ServerConfig          `yaml:"server"`
	LLM          LLMConfig             `yaml:"llm"`
	MCP          MCPConfig             `yaml:"mcp"`
	RAG          map[string]RAGBackend `yaml:"rag_backends"`
	Files        FilesConfig           `yaml:"files"`
	Security     SecurityConfig        `yaml:"security"`
	Database     DatabaseConfig        `yaml:"database"`
	Agent        AgentConfig           `yaml:"agent"`
	Retention    RetentionConfig       `yaml:"retention"`
	SystemPrompt string                `yaml:"system_prompt"`

	// Built from MCP.Servers after load.
	registry *MCPServerRegistry
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// LLMConfig selects and configures the LLM provider.
type LLMConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	DefaultModel string  `yaml:"default_model"`
	Temperature  float32 `yaml:"temperature"`
}

// MCPConfig holds MCP server definitions and tool execution settings.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `yaml:"servers"`
	// ToolTimeoutSeconds is the per-tool call deadline. 0 disables.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`
}

// ToolTimeout returns the configured per-tool deadline.
func (m MCPConfig) ToolTimeout() time.Duration {
	return time.Duration(m.ToolTimeoutSeconds) * time.Second
}

// RAG backend types.
const (
	RAGBackendHTTP = "http"
	RAGBackendMCP  = "mcp"
)

// RAGBackend configures one retrieval backend. Type is "http" (REST query
// endpoint) or "mcp" (queries routed through an MCP server's rag tools).
type RAGBackend struct {
	Type            string `yaml:"type"`
	URL             string `yaml:"url"`
	Server          string `yaml:"server"`
	DisplayName     string `yaml:"display_name"`
	Icon            string `yaml:"icon"`
	ComplianceLevel string `yaml:"compliance_level"`
	BearerToken     string `yaml:"bearer_token"`
}

// FilesConfig holds file store settings.
type FilesConfig struct {
	DownloadBaseURL string `yaml:"download_base_url"`
	SigningSecret   string `yaml:"signing_secret"`
	TokenTTLSeconds int    `yaml:"token_ttl_seconds"`
}

// TokenTTL returns the download token lifetime.
func (f FilesConfig) TokenTTL() time.Duration {
	if f.TokenTTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(f.TokenTTLSeconds) * time.Second
}

// SecurityConfig holds the approval and content-check settings.
type SecurityConfig struct {
	// ForceToolApproval gates every tool call behind an elicitation,
	// regardless of per-server require_approval sets.
	ForceToolApproval bool `yaml:"force_tool_approval"`
	// CheckEnabled turns the input/output security check service on.
	CheckEnabled bool   `yaml:"check_enabled"`
	CheckURL     string `yaml:"check_url"`
}

// DatabaseConfig holds the optional conversation archive settings.
type DatabaseConfig struct {
	// URL is a postgres connection string. Empty disables persistence.
	URL string `yaml:"url"`
}

// AgentConfig holds agent-loop defaults.
type AgentConfig struct {
	MaxSteps int    `yaml:"max_steps"`
	Strategy string `yaml:"strategy"`
}

// RetentionConfig controls pruning of idle in-memory sessions. A zero TTL
// disables the reaper.
type RetentionConfig struct {
	SessionTTLMinutes      int `yaml:"session_ttl_minutes"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
}

// SessionTTL returns how long an idle session survives.
func (r RetentionConfig) SessionTTL() time.Duration {
	return time.Duration(r.SessionTTLMinutes) * time.Minute
}

// CleanupInterval returns how often the reaper runs.
func (r RetentionConfig) CleanupInterval() time.Duration {
	if r.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.CleanupIntervalMinutes) * time.Minute
}

// MCPServers returns the server registry built at load time.
func (c *Config) MCPServers() *MCPServerRegistry { return c.registry }
