// Chatloom server — exposes the chat runtime over HTTP and WebSocket and
// connects it to the configured LLM provider, MCP servers, and RAG backends.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chatloom/chatloom/pkg/api"
	"github.com/chatloom/chatloom/pkg/cleanup"
	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/filestore"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/mcp"
	"github.com/chatloom/chatloom/pkg/orchestrator"
	"github.com/chatloom/chatloom/pkg/rag"
	"github.com/chatloom/chatloom/pkg/repo"
	"github.com/chatloom/chatloom/pkg/security"
	"github.com/chatloom/chatloom/pkg/tools"
	"github.com/chatloom/chatloom/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CHATLOOM_CONFIG", "./config/chatloom.yaml"),
		"Path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	slog.Info("Starting chatloom", "version", version.Full(), "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// LLM provider
	var provider llm.Provider
	if cfg.LLM.BaseURL != "" {
		provider = llm.NewOpenAICompatibleProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	} else {
		provider = llm.NewOpenAIProvider(cfg.LLM.APIKey)
	}

	// MCP servers. Failures degrade per server; a dead server's tools are
	// simply absent until its session recovers.
	mcpClient := mcp.NewClient(cfg.MCPServers())
	if len(cfg.MCP.Servers) > 0 {
		if err := mcpClient.Initialize(ctx); err != nil {
			slog.Warn("MCP initialization incomplete", "error", err)
		}
		if failed := mcpClient.FailedServers(); len(failed) > 0 {
			slog.Warn("Some MCP servers failed to connect", "failed_servers", failed)
		}
	}
	defer func() {
		if err := mcpClient.Close(); err != nil {
			slog.Error("Error closing MCP client", "error", err)
		}
	}()

	// Retrieval
	var retriever llm.Retriever
	var ragService *rag.UnifiedRAGService
	if len(cfg.RAG) > 0 {
		ragService = rag.NewUnifiedRAGService(cfg.RAG, mcpClient)
		retriever = ragService
	}
	caller := llm.NewCaller(provider, retriever)

	// Files
	store := filestore.NewMemoryStore()
	var signer *filestore.URLSigner
	if cfg.Files.SigningSecret != "" {
		signer = filestore.NewURLSigner([]byte(cfg.Files.SigningSecret),
			cfg.Files.DownloadBaseURL, cfg.Files.TokenTTL())
	}

	// Security checker
	var checker security.Checker
	if cfg.Security.CheckEnabled {
		checker = security.NewHTTPChecker(cfg.Security.CheckURL)
		slog.Info("Security check service enabled", "url", cfg.Security.CheckURL)
	}

	// Persistence
	sessions := repo.NewMemorySessionRepository()
	if ttl := cfg.Retention.SessionTTL(); ttl > 0 {
		reaper := cleanup.NewService(sessions, ttl, cfg.Retention.CleanupInterval())
		reaper.Start(ctx)
		defer reaper.Stop()
	}
	var conversations repo.ConversationRepository
	if cfg.Database.URL != "" {
		pg, err := repo.NewPostgresConversationRepository(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("Failed to connect to conversation database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				slog.Error("Error closing conversation database", "error", err)
			}
		}()
		conversations = pg
		slog.Info("Conversation archive connected")
	}

	broker := events.NewElicitationBroker()
	executor := tools.NewExecutor(mcpClient, cfg.MCPServers(), signer, broker,
		caller, cfg.Security, cfg.MCP.ToolTimeout())

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Sessions:      sessions,
		Conversations: conversations,
		Caller:        caller,
		Executor:      executor,
		MCPClient:     mcpClient,
		Store:         store,
		Checker:       checker,
	})

	server := api.NewServer(cfg.Server, api.ServerDeps{
		Orchestrator:  orch,
		Sessions:      sessions,
		Conversations: conversations,
		RAG:           ragService,
		Store:         store,
		Signer:        signer,
		Broker:        broker,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
