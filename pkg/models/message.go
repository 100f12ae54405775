// Package models contains the domain types shared across the runtime:
// sessions, messages, tool calls and results, file references, agent state,
// and the domain error taxonomy.
package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is a single entry in a session's conversation history.
type Message struct {
	ID        string         `json:"id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh UUID and the current timestamp.
func NewMessage(role MessageRole, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewMessageWithMetadata creates a message carrying arbitrary metadata
// (e.g. tools used, data sources queried, agent step count).
func NewMessageWithMetadata(role MessageRole, content string, metadata map[string]any) Message {
	m := NewMessage(role, content)
	m.Metadata = metadata
	return m
}
