package repo

import (
	"context"
	"time"

	"github.com/chatloom/chatloom/pkg/models"
)

// Conversation is a persisted chat transcript owned by a user.
type Conversation struct {
	ConversationID string           `json:"conversation_id"`
	UserEmail      string           `json:"user_email"`
	Title          string           `json:"title"`
	History        []models.Message `json:"history"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ConversationRepository archives conversations across server restarts.
// Optional: when nil, the orchestrator skips persistence.
type ConversationRepository interface {
	// Save upserts the conversation history under the conversation id.
	Save(ctx context.Context, conv *Conversation) error
	Get(ctx context.Context, userEmail, conversationID string) (*Conversation, error)
	// List returns the user's conversations newest-first, without history
	// bodies.
	List(ctx context.Context, userEmail string, limit int) ([]*Conversation, error)
	Delete(ctx context.Context, userEmail, conversationID string) error
}

// ConversationTitle derives a display title from the first user message.
func ConversationTitle(history []models.Message) string {
	for _, msg := range history {
		if msg.Role == models.RoleUser && msg.Content != "" {
			title := msg.Content
			if len(title) > 80 {
				title = title[:77] + "..."
			}
			return title
		}
	}
	return "New conversation"
}
