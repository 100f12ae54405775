package llm

import (
	"fmt"
	"strings"

	"github.com/chatloom/chatloom/pkg/models"
)

// User-facing messages for classified LLM failures. These never carry raw
// provider error text.
const (
	MsgRateLimit = "The AI service is experiencing high traffic. Please try again in a moment."
	MsgTimeout   = "The AI service request timed out. Please try again."
	MsgAuth      = "There was an authentication issue with the AI service. Please contact your administrator."
	MsgService   = "The AI service encountered an error. Please try again or contact support if the issue persists."
)

// Classification is the result of mapping a provider failure onto the
// stable error vocabulary. UserMessage is safe to show; LogMessage is the
// full error string for operator logs.
type Classification struct {
	Kind        models.ErrorKind
	UserMessage string
	LogMessage  string
}

// Classify maps an LLM provider failure to an error kind and a sanitized
// user message. Matching is by case-insensitive substring on the error text
// (and the concrete type name for rate limits); order matters — rate limit
// wins over timeout wins over authentication.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: models.KindLLMService, UserMessage: MsgService}
	}

	text := strings.ToLower(err.Error())
	typeName := strings.ToLower(fmt.Sprintf("%T", err))
	c := Classification{LogMessage: err.Error()}

	switch {
	case strings.Contains(typeName, "ratelimit"),
		strings.Contains(text, "rate limit"),
		strings.Contains(text, "high traffic"):
		c.Kind = models.KindRateLimit
		c.UserMessage = MsgRateLimit
	case strings.Contains(text, "timeout"), strings.Contains(text, "timed out"):
		c.Kind = models.KindLLMTimeout
		c.UserMessage = MsgTimeout
	case strings.Contains(text, "unauthorized"),
		strings.Contains(text, "authentication"),
		strings.Contains(text, "invalid api key"),
		strings.Contains(text, "invalid_api_key"),
		strings.Contains(text, "api key"):
		c.Kind = models.KindLLMAuthentication
		c.UserMessage = MsgAuth
	default:
		c.Kind = models.KindLLMService
		c.UserMessage = MsgService
	}
	return c
}

// ClassifyToDomainError wraps a provider failure as a DomainError of the
// classified kind, preserving the cause for logs while the message stays
// user-safe.
func ClassifyToDomainError(err error) *models.DomainError {
	c := Classify(err)
	return models.WrapDomainError(c.Kind, c.UserMessage, err)
}
