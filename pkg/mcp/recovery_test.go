package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "net failure" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{name: "nil", err: nil, want: NoRetry},
		{name: "context canceled", err: context.Canceled, want: NoRetry},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: NoRetry},
		{name: "net timeout", err: &fakeNetError{timeout: true}, want: NoRetry},
		{name: "net connection failure", err: &fakeNetError{}, want: RetryNewSession},
		{name: "EOF", err: io.EOF, want: RetryNewSession},
		{name: "wrapped EOF", err: fmt.Errorf("reading response: %w", io.ErrUnexpectedEOF), want: RetryNewSession},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: RetryNewSession},
		{name: "broken pipe", err: errors.New("write: Broken Pipe"), want: RetryNewSession},
		{name: "protocol error", err: errors.New("jsonrpc: invalid params"), want: NoRetry},
		{name: "unknown error", err: errors.New("something odd"), want: NoRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFailure(tt.err))
		})
	}
}
