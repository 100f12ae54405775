// chatloomctl — one-shot CLI client for the chat runtime. Builds the
// pipeline from the same configuration file as the server and executes a
// single message without going through HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/filestore"
	"github.com/chatloom/chatloom/pkg/llm"
	"github.com/chatloom/chatloom/pkg/mcp"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/orchestrator"
	"github.com/chatloom/chatloom/pkg/rag"
	"github.com/chatloom/chatloom/pkg/repo"
	"github.com/chatloom/chatloom/pkg/tools"
	"github.com/chatloom/chatloom/pkg/version"
)

type options struct {
	configPath  string
	model       string
	userEmail   string
	tools       []string
	prompts     []string
	dataSources []string
	onlyRAG     bool
	agentMode   bool
	maxSteps    int
	jsonOutput  bool
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:     "chatloomctl [message]",
		Short:   "Send one message through the chat runtime",
		Args:    cobra.ExactArgs(1),
		Version: version.Full(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), opts, args[0])
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.configPath, "config", "c",
		getEnv("CHATLOOM_CONFIG", "./config/chatloom.yaml"), "configuration file")
	flags.StringVarP(&opts.model, "model", "m", "", "model override")
	flags.StringVarP(&opts.userEmail, "user", "u", "", "user email for ACLs and RAG")
	flags.StringSliceVarP(&opts.tools, "tools", "t", nil, "qualified tool names to enable")
	flags.StringSliceVar(&opts.prompts, "prompts", nil, "qualified MCP prompts to apply")
	flags.StringSliceVarP(&opts.dataSources, "data-sources", "d", nil, "qualified RAG sources to query")
	flags.BoolVar(&opts.onlyRAG, "only-rag", false, "force retrieval mode even when tools are selected")
	flags.BoolVarP(&opts.agentMode, "agent", "a", false, "run the autonomous agent loop")
	flags.IntVar(&opts.maxSteps, "max-steps", 0, "agent step limit override")
	flags.BoolVar(&opts.jsonOutput, "json", false, "emit the collected result as JSON instead of streaming")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func run(ctx context.Context, opts *options, message string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	var provider llm.Provider
	if cfg.LLM.BaseURL != "" {
		provider = llm.NewOpenAICompatibleProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	} else {
		provider = llm.NewOpenAIProvider(cfg.LLM.APIKey)
	}

	mcpClient := mcp.NewClient(cfg.MCPServers())
	if len(cfg.MCP.Servers) > 0 {
		if err := mcpClient.Initialize(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: MCP initialization incomplete: %v\n", err)
		}
	}
	defer mcpClient.Close()

	var retriever llm.Retriever
	if len(cfg.RAG) > 0 {
		retriever = rag.NewUnifiedRAGService(cfg.RAG, mcpClient)
	}
	caller := llm.NewCaller(provider, retriever)

	broker := events.NewElicitationBroker()
	executor := tools.NewExecutor(mcpClient, cfg.MCPServers(), nil, broker,
		caller, cfg.Security, cfg.MCP.ToolTimeout())

	sessions := repo.NewMemorySessionRepository()
	orch := orchestrator.New(cfg, orchestrator.Deps{
		Sessions:  sessions,
		Caller:    caller,
		Executor:  executor,
		MCPClient: mcpClient,
		Store:     filestore.NewMemoryStore(),
	})

	session, err := sessions.Create(ctx, models.NewSession(opts.userEmail))
	if err != nil {
		return err
	}

	req := &orchestrator.Request{
		SessionID:           session.ID,
		Content:             message,
		Model:               opts.model,
		UserEmail:           opts.userEmail,
		SelectedTools:       opts.tools,
		SelectedPrompts:     opts.prompts,
		SelectedDataSources: opts.dataSources,
		OnlyRAG:             opts.onlyRAG,
		AgentMode:           opts.agentMode,
		MaxSteps:            opts.maxSteps,
		Incognito:           true,
	}

	if opts.jsonOutput {
		pub := events.NewCLICollectingPublisher()
		if _, err := orch.Execute(ctx, req, pub); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pub.Result())
	}

	req.Streaming = true
	_, err = orch.Execute(ctx, req, events.NewCLIStreamingPublisher())
	return err
}
