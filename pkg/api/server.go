// Package api exposes the runtime over HTTP and WebSocket: session CRUD,
// non-streaming message execution, data source discovery, signed file
// downloads, and the streaming chat protocol.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatloom/chatloom/pkg/config"
	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/filestore"
	"github.com/chatloom/chatloom/pkg/orchestrator"
	"github.com/chatloom/chatloom/pkg/rag"
	"github.com/chatloom/chatloom/pkg/repo"
)

// wsWriteTimeout bounds a single WebSocket send so one stalled client cannot
// block a request's event fan-out.
const wsWriteTimeout = 10 * time.Second

// Server is the HTTP/WebSocket front end.
type Server struct {
	cfg           config.ServerConfig
	orch          *orchestrator.Orchestrator
	sessions      repo.SessionRepository
	conversations repo.ConversationRepository
	rag           *rag.UnifiedRAGService
	store         filestore.Store
	signer        *filestore.URLSigner
	connManager   *ConnectionManager

	httpServer *http.Server
	logger     *slog.Logger
}

// ServerDeps are the collaborators the server fronts. Conversations, rag,
// store, and signer are optional; their endpoints answer 503 when absent.
type ServerDeps struct {
	Orchestrator  *orchestrator.Orchestrator
	Sessions      repo.SessionRepository
	Conversations repo.ConversationRepository
	RAG           *rag.UnifiedRAGService
	Store         filestore.Store
	Signer        *filestore.URLSigner
	Broker        *events.ElicitationBroker
}

// NewServer builds the server and its routes.
func NewServer(cfg config.ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:           cfg,
		orch:          deps.Orchestrator,
		sessions:      deps.Sessions,
		conversations: deps.Conversations,
		rag:           deps.RAG,
		store:         deps.Store,
		signer:        deps.Signer,
		logger:        slog.Default().With("component", "api"),
	}
	s.connManager = NewConnectionManager(deps.Orchestrator, deps.Broker, wsWriteTimeout)
	return s
}

// Router assembles the gin engine. Exposed for tests.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/ws", s.handleWS)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sessions", s.createSession)
		v1.GET("/sessions/:id", s.getSession)
		v1.DELETE("/sessions/:id", s.deleteSession)
		v1.POST("/sessions/:id/messages", s.postMessage)
		v1.GET("/data-sources", s.listDataSources)
		v1.GET("/conversations", s.listConversations)
		v1.GET("/files/download", s.downloadFile)
	}
	return router
}

// Start runs the HTTP server until Shutdown. Blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", s.cfg.Addr())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes client connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connManager.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"connections": s.connManager.ActiveConnections(),
	})
}
