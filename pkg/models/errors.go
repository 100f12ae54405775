package models

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a node in the domain error taxonomy. Kinds form a
// tree rooted at KindDomain; errors.Is matches an error against any of its
// ancestors (e.g. a rate-limit error Is an LLM error Is a domain error).
type ErrorKind string

const (
	KindDomain               ErrorKind = "domain_error"
	KindValidation           ErrorKind = "validation_error"
	KindSession              ErrorKind = "session_error"
	KindSessionNotFound      ErrorKind = "session_not_found"
	KindMessage              ErrorKind = "message_error"
	KindAuthentication       ErrorKind = "authentication_error"
	KindLLMAuthentication    ErrorKind = "llm_authentication_error"
	KindAuthorization        ErrorKind = "authorization_error"
	KindToolAuthorization    ErrorKind = "tool_authorization_error"
	KindDataSourcePermission ErrorKind = "data_source_permission_error"
	KindConfiguration        ErrorKind = "configuration_error"
	KindLLMConfiguration     ErrorKind = "llm_configuration_error"
	KindLLM                  ErrorKind = "llm_error"
	KindLLMService           ErrorKind = "llm_service_error"
	KindRateLimit            ErrorKind = "rate_limit_error"
	KindLLMTimeout           ErrorKind = "llm_timeout_error"
	KindTool                 ErrorKind = "tool_error"
	KindPromptOverride       ErrorKind = "prompt_override_error"
)

// parentKind maps each kind to its parent in the taxonomy.
var parentKind = map[ErrorKind]ErrorKind{
	KindValidation:           KindDomain,
	KindSession:              KindDomain,
	KindSessionNotFound:      KindSession,
	KindMessage:              KindDomain,
	KindAuthentication:       KindDomain,
	KindLLMAuthentication:    KindAuthentication,
	KindAuthorization:        KindDomain,
	KindToolAuthorization:    KindAuthorization,
	KindDataSourcePermission: KindAuthorization,
	KindConfiguration:        KindDomain,
	KindLLMConfiguration:     KindConfiguration,
	KindLLM:                  KindDomain,
	KindLLMService:           KindLLM,
	KindRateLimit:            KindLLM,
	KindLLMTimeout:           KindLLM,
	KindTool:                 KindDomain,
	KindPromptOverride:       KindDomain,
}

// DomainError is the root of the error taxonomy. All domain errors carry a
// message and an optional machine-readable code.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Code    string
	cause   error
}

func (e *DomainError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error { return e.cause }

// Is reports whether target is a *DomainError whose kind is this error's
// kind or any of its ancestors. This lets callers match at any level of the
// taxonomy: errors.Is(err, &DomainError{Kind: KindLLM}) matches rate-limit,
// timeout, and service errors alike.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	for k := e.Kind; ; {
		if k == t.Kind {
			return true
		}
		parent, ok := parentKind[k]
		if !ok {
			return false
		}
		k = parent
	}
}

// NewDomainError creates an error of the given kind.
func NewDomainError(kind ErrorKind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

// NewDomainErrorWithCode creates an error carrying a machine-readable code.
func NewDomainErrorWithCode(kind ErrorKind, message, code string) *DomainError {
	return &DomainError{Kind: kind, Message: message, Code: code}
}

// WrapDomainError creates a domain error that wraps an underlying cause.
func WrapDomainError(kind ErrorKind, message string, cause error) *DomainError {
	return &DomainError{Kind: kind, Message: message, cause: cause}
}

// NewSessionNotFound creates the canonical missing-session error.
func NewSessionNotFound(sessionID string) *DomainError {
	return &DomainError{
		Kind:    KindSessionNotFound,
		Message: fmt.Sprintf("session %s not found", sessionID),
	}
}

// IsKind reports whether err is a domain error of the given kind (or a
// descendant of it).
func IsKind(err error, kind ErrorKind) bool {
	return errors.Is(err, &DomainError{Kind: kind})
}

// KindOf returns the exact kind of a domain error, or ("", false) when err is
// not a domain error.
func KindOf(err error) (ErrorKind, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
