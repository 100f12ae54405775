package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/models"
	"github.com/chatloom/chatloom/pkg/orchestrator"
)

// CreateSessionRequest opens a new chat session for a user.
type CreateSessionRequest struct {
	UserEmail string `json:"user_email"`
}

// ChatRequest is one non-streaming chat turn over REST. The WebSocket
// protocol carries the same fields on the "chat" action.
type ChatRequest struct {
	Content             string            `json:"content" binding:"required"`
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
}

// ChatResponse is the REST rendering of a completed turn, folding in the
// side-channel content a streaming client would have received as events.
type ChatResponse struct {
	Content       string               `json:"content"`
	Mode          string               `json:"mode"`
	ToolResults   []*models.ToolResult `json:"tool_results,omitempty"`
	Metadata      map[string]any       `json:"metadata,omitempty"`
	CanvasContent string               `json:"canvas_content,omitempty"`
	Files         map[string]any       `json:"files,omitempty"`
}

func (s *Server) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.NewDomainError(models.KindValidation, "invalid request body"))
		return
	}

	session, err := s.sessions.Create(c.Request.Context(), models.NewSession(req.UserEmail))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) deleteSession(c *gin.Context) {
	deleted, err := s.sessions.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !deleted {
		writeError(c, models.NewSessionNotFound(c.Param("id")))
		return
	}
	c.Status(http.StatusNoContent)
}

// postMessage runs one chat turn synchronously. Events collect into the
// response instead of streaming to a socket.
func (s *Server) postMessage(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, models.NewDomainError(models.KindValidation, "content is required"))
		return
	}

	pub := events.NewCLICollectingPublisher()
	resp, err := s.orch.Execute(c.Request.Context(), &orchestrator.Request{
		SessionID:           c.Param("id"),
		Content:             req.Content,
		Model:               req.Model,
		UserEmail:           req.UserEmail,
		SelectedTools:       req.SelectedTools,
		SelectedPrompts:     req.SelectedPrompts,
		SelectedDataSources: req.SelectedDataSources,
		OnlyRAG:             req.OnlyRAG,
		ToolChoiceRequired:  req.ToolChoiceRequired,
		AgentMode:           req.AgentMode,
		Incognito:           req.Incognito,
		Temperature:         req.Temperature,
		MaxSteps:            req.MaxSteps,
		Files:               req.Files,
	}, pub)
	if err != nil {
		writeError(c, err)
		return
	}

	collected := pub.Result()
	c.JSON(http.StatusOK, ChatResponse{
		Content:       resp.Content,
		Mode:          resp.Mode,
		ToolResults:   resp.ToolResults,
		Metadata:      resp.Metadata,
		CanvasContent: collected.CanvasContent,
		Files:         collected.Files,
	})
}

// listDataSources federates discovery across the configured RAG backends.
// The caller identifies as X-User-Email; compliance optionally filters
// sources to one level.
func (s *Server) listDataSources(c *gin.Context) {
	if s.rag == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error", "message": "retrieval is not configured",
		})
		return
	}

	sources, err := s.rag.DiscoverDataSources(c.Request.Context(),
		c.GetHeader("X-User-Email"), c.Query("compliance"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backends": sources})
}

func (s *Server) listConversations(c *gin.Context) {
	if s.conversations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error", "message": "conversation persistence is not configured",
		})
		return
	}
	userEmail := c.GetHeader("X-User-Email")
	if userEmail == "" {
		writeError(c, models.NewDomainError(models.KindValidation, "X-User-Email header is required"))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	convs, err := s.conversations.List(c.Request.Context(), userEmail, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// downloadFile serves a stored file by capability token. The token binds the
// (user, file key) pair, so no other authentication applies here.
func (s *Server) downloadFile(c *gin.Context) {
	if s.signer == nil || s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"type": "error", "message": "file downloads are not configured",
		})
		return
	}

	token := c.Query("token")
	if token == "" {
		writeError(c, models.NewDomainError(models.KindValidation, "token query parameter is required"))
		return
	}
	userEmail, fileKey, err := s.signer.Verify(token)
	if err != nil {
		writeError(c, models.NewDomainError(models.KindAuthorization, "invalid or expired download token"))
		return
	}

	file, err := s.store.GetFile(c.Request.Context(), userEmail, fileKey)
	if err != nil {
		writeError(c, models.NewDomainError(models.KindValidation, "file not found"))
		return
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(file.ContentBase64)
	if err != nil {
		writeError(c, models.NewDomainError(models.KindValidation, "stored file content is corrupt"))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}
