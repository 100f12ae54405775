package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chatloom/chatloom/pkg/models"
)

// Default values applied when the YAML omits them.
const (
	DefaultPort               = 8080
	DefaultModel              = "gpt-4o"
	DefaultTemperature        = 0.7
	DefaultToolTimeoutSeconds = 300
	DefaultAgentMaxSteps      = 10
	DefaultAgentStrategy      = "react"
)

// Load reads, expands, parses, and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, models.WrapDomainError(models.KindConfiguration,
			fmt.Sprintf("reading configuration file %s", path), err)
	}

	expanded, err := ExpandEnv(raw)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, models.WrapDomainError(models.KindConfiguration,
			fmt.Sprintf("parsing configuration file %s", path), err)
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	servers := make(map[string]*MCPServerConfig, len(cfg.MCP.Servers))
	for name := range cfg.MCP.Servers {
		server := cfg.MCP.Servers[name]
		servers[name] = &server
	}
	cfg.registry = NewMCPServerRegistry(servers)

	slog.Info("Configuration loaded",
		"path", path,
		"mcp_servers", len(cfg.MCP.Servers),
		"rag_backends", len(cfg.RAG),
		"persistence", cfg.Database.URL != "")
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = DefaultModel
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = DefaultTemperature
	}
	if cfg.MCP.ToolTimeoutSeconds == 0 {
		cfg.MCP.ToolTimeoutSeconds = DefaultToolTimeoutSeconds
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = DefaultAgentMaxSteps
	}
	if cfg.Agent.Strategy == "" {
		cfg.Agent.Strategy = DefaultAgentStrategy
	}
}

func validate(cfg *Config) error {
	for name, server := range cfg.MCP.Servers {
		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return configError("mcp server %q: stdio transport requires command", name)
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				return configError("mcp server %q: %s transport requires url", name, server.Transport.Type)
			}
		default:
			return configError("mcp server %q: unsupported transport type %q", name, server.Transport.Type)
		}
	}

	for name, backend := range cfg.RAG {
		switch backend.Type {
		case "http":
			if backend.URL == "" {
				return configError("rag backend %q: http backend requires url", name)
			}
		case "mcp":
			server := backend.Server
			if server == "" {
				server = name
			}
			if _, ok := cfg.MCP.Servers[server]; !ok {
				return configError("rag backend %q: unknown MCP server %q", name, server)
			}
		default:
			return configError("rag backend %q: unsupported type %q", name, backend.Type)
		}
	}

	if cfg.MCP.ToolTimeoutSeconds < 0 {
		return configError("mcp.tool_timeout_seconds must not be negative")
	}
	if cfg.Security.CheckEnabled && cfg.Security.CheckURL == "" {
		return configError("security.check_url is required when checks are enabled")
	}
	return nil
}

func configError(format string, args ...any) error {
	return models.NewDomainError(models.KindConfiguration, fmt.Sprintf(format, args...))
}
