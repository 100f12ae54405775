package config

import (
	"fmt"
	"sync"
)

// Transport types for MCP servers.
const (
	TransportTypeStdio = "stdio"
	TransportTypeHTTP  = "http"
	TransportTypeSSE   = "sse"
)

// TransportConfig describes how to reach an MCP server.
type TransportConfig struct {
	Type string `yaml:"type"`

	// stdio
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// http / sse
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"`
}

// MCPServerConfig defines one MCP server: its transport plus the
// authorization and approval policy applied to its tools.
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport"`

	DisplayName string `yaml:"display_name,omitempty"`
	Icon        string `yaml:"icon,omitempty"`

	// AllowedGroups restricts the server's tools to users in any of these
	// groups. Empty means unrestricted.
	AllowedGroups []string `yaml:"allowed_groups,omitempty"`

	// RequireApproval lists tool names (unqualified) that need explicit
	// client approval before dispatch.
	RequireApproval []string `yaml:"require_approval,omitempty"`

	// Instructions are prepended to the LLM context when tools from this
	// server are selected.
	Instructions string `yaml:"instructions,omitempty"`
}

// MCPServerRegistry stores MCP server configurations with thread-safe access.
type MCPServerRegistry struct {
	mu      sync.RWMutex
	servers map[string]*MCPServerConfig
}

// NewMCPServerRegistry creates a registry over the given servers.
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	if servers == nil {
		servers = make(map[string]*MCPServerConfig)
	}
	return &MCPServerRegistry{servers: servers}
}

// Get retrieves a server configuration by name.
func (r *MCPServerRegistry) Get(serverName string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, ok := r.servers[serverName]
	if !ok {
		return nil, fmt.Errorf("MCP server %q not found", serverName)
	}
	return server, nil
}

// Has reports whether a server is configured.
func (r *MCPServerRegistry) Has(serverName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.servers[serverName]
	return ok
}

// Names returns all configured server names.
func (r *MCPServerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	return names
}

// GetAll returns a copy of the server map.
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		out[k] = v
	}
	return out
}

// RequireApprovalSet builds the set of fully-qualified tool names
// ("<server>_<tool>") that need client approval.
func (r *MCPServerRegistry) RequireApprovalSet() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool)
	for serverName, cfg := range r.servers {
		for _, tool := range cfg.RequireApproval {
			out[serverName+"_"+tool] = true
		}
	}
	return out
}
