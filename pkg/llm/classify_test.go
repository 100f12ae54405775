package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatloom/chatloom/pkg/models"
)

type rateLimitError struct{ msg string }

func (e *rateLimitError) Error() string { return e.msg }

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    models.ErrorKind
		wantMessage string
	}{
		{
			name:        "rate limit by message",
			err:         errors.New("429: rate limit exceeded for gpt-4o"),
			wantKind:    models.KindRateLimit,
			wantMessage: MsgRateLimit,
		},
		{
			name:        "high traffic by message",
			err:         errors.New("service reports HIGH TRAFFIC, slow down"),
			wantKind:    models.KindRateLimit,
			wantMessage: MsgRateLimit,
		},
		{
			name:        "rate limit by type name",
			err:         &rateLimitError{msg: "please slow down"},
			wantKind:    models.KindRateLimit,
			wantMessage: MsgRateLimit,
		},
		{
			name:        "timeout",
			err:         errors.New("request timed out after 120s"),
			wantKind:    models.KindLLMTimeout,
			wantMessage: MsgTimeout,
		},
		{
			name:        "authentication",
			err:         errors.New("401 Unauthorized: invalid_api_key"),
			wantKind:    models.KindLLMAuthentication,
			wantMessage: MsgAuth,
		},
		{
			name:        "generic service failure",
			err:         errors.New("upstream 502"),
			wantKind:    models.KindLLMService,
			wantMessage: MsgService,
		},
		{
			// Rate limit wins when both substrings are present.
			name:        "rate limit beats timeout",
			err:         errors.New("rate limit exceeded, request timed out"),
			wantKind:    models.KindRateLimit,
			wantMessage: MsgRateLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.wantKind, c.Kind)
			assert.Equal(t, tt.wantMessage, c.UserMessage)
			assert.Equal(t, tt.err.Error(), c.LogMessage)
		})
	}
}

func TestClassifyNeverLeaksProviderText(t *testing.T) {
	err := fmt.Errorf("RuntimeError: provider blew up with key sk-abc123")
	c := Classify(err)
	assert.NotContains(t, c.UserMessage, "RuntimeError")
	assert.NotContains(t, c.UserMessage, "sk-abc123")
	assert.True(t, strings.HasSuffix(c.UserMessage, "."))
	first := c.UserMessage[:1]
	assert.Equal(t, strings.ToUpper(first), first)
}

func TestClassifyIsPure(t *testing.T) {
	err := errors.New("request timed out")
	assert.Equal(t, Classify(err), Classify(err))
}

func TestClassifyToDomainError(t *testing.T) {
	cause := errors.New("401 authentication failed")
	derr := ClassifyToDomainError(cause)
	assert.Equal(t, models.KindLLMAuthentication, derr.Kind)
	assert.ErrorIs(t, derr, cause)
	// Ancestry: LLMAuthentication is an Authentication error.
	assert.True(t, models.IsKind(derr, models.KindAuthentication))
}
