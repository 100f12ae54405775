package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/orchestrator"
)

// ClientMessage is one frame from the client. Action selects the handler;
// the chat fields are read only for action "chat".
type ClientMessage struct {
	Action string `json:"action"`

	// chat
	SessionID           string            `json:"session_id,omitempty"`
	Content             string            `json:"content,omitempty"`
	Model               string            `json:"model,omitempty"`
	UserEmail           string            `json:"user_email,omitempty"`
	SelectedTools       []string          `json:"selected_tools,omitempty"`
	SelectedPrompts     []string          `json:"selected_prompts,omitempty"`
	SelectedDataSources []string          `json:"selected_data_sources,omitempty"`
	OnlyRAG             bool              `json:"only_rag,omitempty"`
	ToolChoiceRequired  bool              `json:"tool_choice_required,omitempty"`
	AgentMode           bool              `json:"agent_mode,omitempty"`
	Incognito           bool              `json:"incognito,omitempty"`
	Temperature         float32           `json:"temperature,omitempty"`
	MaxSteps            int               `json:"max_steps,omitempty"`
	Files               map[string]string `json:"files,omitempty"`

	// approval_response
	ElicitationID   string         `json:"elicitation_id,omitempty"`
	Approved        bool           `json:"approved,omitempty"`
	Rejected        bool           `json:"rejected,omitempty"`
	EditedArguments map[string]any `json:"edited_arguments,omitempty"`
}

// Connection is one WebSocket client. Sends are serialized through mu so
// concurrent publishers (chat turn, tool events, approvals) never interleave
// frames.
type Connection struct {
	ID   string
	Conn *websocket.Conn

	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.Mutex
	writeTimeout time.Duration
}

var _ events.JSONSender = (*Connection)(nil)

// SendJSON marshals and writes one message within the write timeout.
func (c *Connection) SendJSON(_ context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

// ConnectionManager owns the active WebSocket connections and dispatches
// client frames: chat turns run through the orchestrator, approval responses
// resolve pending elicitations, pings get pongs.
type ConnectionManager struct {
	orch         *orchestrator.Orchestrator
	broker       *events.ElicitationBroker
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection

	logger *slog.Logger
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager(orch *orchestrator.Orchestrator, broker *events.ElicitationBroker, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		orch:         orch,
		broker:       broker,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*Connection),
		logger:       slog.Default().With("component", "ws"),
	}
}

// handleWS upgrades the request and runs the connection's read loop.
func (s *Server) handleWS(c *gin.Context) {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.AllowedWSOrigins
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	s.connManager.HandleConnection(c.Request.Context(), conn)
}

// HandleConnection registers the connection, greets the client, and blocks in
// the read loop until the client disconnects or the parent context ends.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, wsConn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	conn := &Connection{
		ID:           uuid.New().String(),
		Conn:         wsConn,
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: m.writeTimeout,
	}

	m.register(conn)
	defer m.unregister(conn.ID)

	if err := conn.SendJSON(ctx, map[string]any{
		"type":          "connection.established",
		"connection_id": conn.ID,
	}); err != nil {
		m.logger.Warn("Failed to send connection greeting", "connection_id", conn.ID, "error", err)
		return
	}

	for {
		msgType, data, err := wsConn.Read(ctx)
		if err != nil {
			m.logger.Debug("WebSocket read ended", "connection_id", conn.ID, "error", err)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.sendError(ctx, conn, "invalid message format")
			continue
		}
		m.handleClientMessage(ctx, conn, &msg)
	}
}

// handleClientMessage dispatches one frame. Chat turns run in a goroutine so
// the read loop stays responsive for approval responses while a tool awaits
// user consent.
func (m *ConnectionManager) handleClientMessage(ctx context.Context, conn *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "chat":
		if msg.SessionID == "" || msg.Content == "" {
			m.sendError(ctx, conn, "chat requires session_id and content")
			return
		}
		go m.runChat(ctx, conn, msg)

	case "approval_response":
		if msg.ElicitationID == "" {
			m.sendError(ctx, conn, "approval_response requires elicitation_id")
			return
		}
		if m.broker == nil {
			m.sendError(ctx, conn, "approvals are not enabled")
			return
		}
		err := m.broker.Resolve(msg.ElicitationID, events.ElicitationResponse{
			Approved:        msg.Approved,
			Rejected:        msg.Rejected,
			EditedArguments: msg.EditedArguments,
		})
		if err != nil {
			m.sendError(ctx, conn, err.Error())
		}

	case "ping":
		if err := conn.SendJSON(ctx, map[string]any{"type": "pong"}); err != nil {
			m.logger.Debug("Pong send failed", "connection_id", conn.ID, "error", err)
		}

	default:
		m.sendError(ctx, conn, fmt.Sprintf("unknown action %q", msg.Action))
	}
}

// runChat executes one streaming chat turn over the connection. Per-session
// serialization happens inside the orchestrator, so concurrent frames for the
// same session queue rather than race.
func (m *ConnectionManager) runChat(ctx context.Context, conn *Connection, msg *ClientMessage) {
	pub := events.NewWebSocketPublisher(conn)
	req := &orchestrator.Request{
		SessionID:           msg.SessionID,
		Content:             msg.Content,
		Model:               msg.Model,
		UserEmail:           msg.UserEmail,
		SelectedTools:       msg.SelectedTools,
		SelectedPrompts:     msg.SelectedPrompts,
		SelectedDataSources: msg.SelectedDataSources,
		OnlyRAG:             msg.OnlyRAG,
		ToolChoiceRequired:  msg.ToolChoiceRequired,
		AgentMode:           msg.AgentMode,
		Streaming:           true,
		Incognito:           msg.Incognito,
		Temperature:         msg.Temperature,
		MaxSteps:            msg.MaxSteps,
		Files:               msg.Files,
	}

	if _, err := m.orch.Execute(ctx, req, pub); err != nil {
		var de *models.DomainError
		message := "An unexpected error occurred."
		if errors.As(err, &de) {
			message = de.Message
		} else {
			m.logger.Error("Chat turn failed", "session_id", msg.SessionID, "error", err)
		}
		m.sendError(ctx, conn, message)
	}
}

func (m *ConnectionManager) sendError(ctx context.Context, conn *Connection, message string) {
	err := conn.SendJSON(ctx, map[string]any{
		"type":    events.EventTypeError,
		"message": message,
	})
	if err != nil {
		m.logger.Debug("Error send failed", "connection_id", conn.ID, "error", err)
	}
}

func (m *ConnectionManager) register(conn *Connection) {
	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()
	m.logger.Info("WebSocket client connected", "connection_id", conn.ID)
}

func (m *ConnectionManager) unregister(id string) {
	m.mu.Lock()
	conn, ok := m.connections[id]
	if ok {
		delete(m.connections, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	conn.cancel()
	_ = conn.Conn.Close(websocket.StatusNormalClosure, "")
	m.logger.Info("WebSocket client disconnected", "connection_id", id)
}

// ActiveConnections returns the number of connected clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll disconnects every client. Used on shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.cancel()
		_ = conn.Conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
