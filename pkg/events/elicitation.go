package events

import (
	"context"
	"fmt"
	"sync"
)

// ElicitationResponse is the client's answer to an approval request.
// Exactly one of Approved / Rejected applies; EditedArguments, when non-nil,
// replaces the tool call's arguments (subject to schema filtering again).
type ElicitationResponse struct {
	Approved        bool           `json:"approved"`
	Rejected        bool           `json:"rejected"`
	EditedArguments map[string]any `json:"edited_arguments,omitempty"`
}

// ElicitationBroker matches approval requests with client responses.
// The tool executor registers a pending elicitation before publishing the
// request; the transport resolves it when the client answers.
type ElicitationBroker struct {
	mu      sync.Mutex
	pending map[string]chan ElicitationResponse
}

// NewElicitationBroker creates an empty broker.
func NewElicitationBroker() *ElicitationBroker {
	return &ElicitationBroker{pending: make(map[string]chan ElicitationResponse)}
}

// Register creates a pending elicitation and returns the channel its
// response will arrive on. The caller must call Cancel if it stops waiting.
func (b *ElicitationBroker) Register(elicitationID string) <-chan ElicitationResponse {
	ch := make(chan ElicitationResponse, 1)
	b.mu.Lock()
	b.pending[elicitationID] = ch
	b.mu.Unlock()
	return ch
}

// Resolve delivers the client's response to the waiting caller.
// Returns an error for unknown or already-resolved elicitation ids.
func (b *ElicitationBroker) Resolve(elicitationID string, resp ElicitationResponse) error {
	b.mu.Lock()
	ch, ok := b.pending[elicitationID]
	if ok {
		delete(b.pending, elicitationID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending elicitation %q", elicitationID)
	}
	ch <- resp
	return nil
}

// Cancel drops a pending elicitation without resolving it.
func (b *ElicitationBroker) Cancel(elicitationID string) {
	b.mu.Lock()
	delete(b.pending, elicitationID)
	b.mu.Unlock()
}

// Await blocks until the client responds or the context is cancelled.
func (b *ElicitationBroker) Await(ctx context.Context, elicitationID string) (ElicitationResponse, error) {
	ch := b.Register(elicitationID)
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		b.Cancel(elicitationID)
		return ElicitationResponse{}, ctx.Err()
	}
}
