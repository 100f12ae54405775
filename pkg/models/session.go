package models

import (
	"time"

	"github.com/google/uuid"
)

// Context keys used in Session.Context.
const (
	ContextKeyFiles          = "files"
	ContextKeyConversationID = "conversation_id"
	ContextKeyRestored       = "_restored"
	ContextKeyAgentMode      = "agent_mode"
)

// Session is a per-user conversation context. The orchestrator borrows a
// session for the duration of one request; no two concurrent requests may
// hold the same session id (serialization is enforced by the repository).
type Session struct {
	ID        string         `json:"id"`
	UserEmail string         `json:"user_email,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	History   []Message      `json:"history"`
	Context   map[string]any `json:"context"`
	Active    bool           `json:"active"`
}

// NewSession creates an active session with a fresh UUID.
func NewSession(userEmail string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		UserEmail: userEmail,
		CreatedAt: now,
		UpdatedAt: now,
		Context:   make(map[string]any),
		Active:    true,
	}
}

// Append adds a message to the history and bumps UpdatedAt.
// History is append-only except for ClearHistory (blocked tool output).
func (s *Session) Append(msg Message) {
	s.History = append(s.History, msg)
	s.UpdatedAt = time.Now()
}

// ClearHistory drops the conversation history. Compensating action for
// blocked tool output in tools mode — the cleared state is persisted on the
// next save.
func (s *Session) ClearHistory() {
	s.History = nil
	s.UpdatedAt = time.Now()
}

// PopLastMessage removes and returns the most recent history entry.
// Used to back out a user message rejected by the input security check.
// Returns false if the history is empty.
func (s *Session) PopLastMessage() (Message, bool) {
	if len(s.History) == 0 {
		return Message{}, false
	}
	last := s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]
	s.UpdatedAt = time.Now()
	return last, true
}

// Files returns the session's file mapping (filename → FileRef), creating it
// on first use. The returned map is owned by the session.
func (s *Session) Files() map[string]FileRef {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	if files, ok := s.Context[ContextKeyFiles].(map[string]FileRef); ok {
		return files
	}
	files := make(map[string]FileRef)
	s.Context[ContextKeyFiles] = files
	return files
}

// SetFile records a file reference under its filename.
func (s *Session) SetFile(filename string, ref FileRef) {
	s.Files()[filename] = ref
	s.UpdatedAt = time.Now()
}

// ConversationID returns the persisted conversation id, defaulting to the
// session id when no conversation has been saved yet.
func (s *Session) ConversationID() string {
	if id, ok := s.Context[ContextKeyConversationID].(string); ok && id != "" {
		return id
	}
	return s.ID
}
