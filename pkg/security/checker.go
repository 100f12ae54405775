// Package security wraps the optional content-inspection service. When no
// check URL is configured the noop checker admits everything.
package security

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatloom/chatloom/pkg/models"
)

// Check statuses.
const (
	StatusBlocked  = "blocked"
	StatusWarnings = "allowed-with-warnings"
	StatusGood     = "good"
)

// CheckResult is the checker's verdict on one piece of content.
type CheckResult struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Blocked reports whether the content must not proceed.
func (r CheckResult) Blocked() bool { return r.Status == StatusBlocked }

// Checker inspects user input, model output, and tool/RAG output.
type Checker interface {
	CheckInput(ctx context.Context, content string, history []models.Message, userEmail string) (CheckResult, error)
	CheckOutput(ctx context.Context, content string, history []models.Message, userEmail string) (CheckResult, error)
	CheckToolRAGOutput(ctx context.Context, content, sourceType string, history []models.Message, userEmail string) (CheckResult, error)
}

// NoopChecker admits all content.
type NoopChecker struct{}

var _ Checker = NoopChecker{}

func (NoopChecker) CheckInput(context.Context, string, []models.Message, string) (CheckResult, error) {
	return CheckResult{Status: StatusGood}, nil
}

func (NoopChecker) CheckOutput(context.Context, string, []models.Message, string) (CheckResult, error) {
	return CheckResult{Status: StatusGood}, nil
}

func (NoopChecker) CheckToolRAGOutput(context.Context, string, string, []models.Message, string) (CheckResult, error) {
	return CheckResult{Status: StatusGood}, nil
}

// HTTPChecker posts content to an external check service.
type HTTPChecker struct {
	checkURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Checker = (*HTTPChecker)(nil)

// NewHTTPChecker creates a checker against the given endpoint.
func NewHTTPChecker(checkURL string) *HTTPChecker {
	return &HTTPChecker{
		checkURL:   checkURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default().With("component", "security"),
	}
}

type checkRequest struct {
	Kind       string        `json:"kind"`
	Content    string        `json:"content"`
	SourceType string        `json:"source_type,omitempty"`
	UserEmail  string        `json:"user_email,omitempty"`
	History    []historyItem `json:"history,omitempty"`
}

type historyItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *HTTPChecker) CheckInput(ctx context.Context, content string, history []models.Message, userEmail string) (CheckResult, error) {
	return c.check(ctx, checkRequest{Kind: "input", Content: content, UserEmail: userEmail, History: toHistory(history)})
}

func (c *HTTPChecker) CheckOutput(ctx context.Context, content string, history []models.Message, userEmail string) (CheckResult, error) {
	return c.check(ctx, checkRequest{Kind: "output", Content: content, UserEmail: userEmail, History: toHistory(history)})
}

func (c *HTTPChecker) CheckToolRAGOutput(ctx context.Context, content, sourceType string, history []models.Message, userEmail string) (CheckResult, error) {
	return c.check(ctx, checkRequest{Kind: "tool_rag_output", Content: content, SourceType: sourceType, UserEmail: userEmail, History: toHistory(history)})
}

func (c *HTTPChecker) check(ctx context.Context, payload checkRequest) (CheckResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return CheckResult{}, fmt.Errorf("encode check request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.checkURL, bytes.NewReader(body))
	if err != nil {
		return CheckResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CheckResult{}, fmt.Errorf("security check %s: %w", payload.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CheckResult{}, fmt.Errorf("security check service returned HTTP %d", resp.StatusCode)
	}

	var result CheckResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return CheckResult{}, fmt.Errorf("decode check response: %w", err)
	}
	if result.Status == "" {
		result.Status = StatusGood
	}
	return result, nil
}

func toHistory(history []models.Message) []historyItem {
	items := make([]historyItem, 0, len(history))
	for _, msg := range history {
		items = append(items, historyItem{Role: string(msg.Role), Content: msg.Content})
	}
	return items
}
