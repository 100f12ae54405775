// Package stream drains LLM token streams into complete responses while
// fanning tokens out to the client, with recovery rules for mid-stream
// failures.
package stream

import (
	"context"
	"log/slog"

	"github.com/chatloom/chatloom/pkg/events"
	"github.com/chatloom/chatloom/pkg/llm"
)

// Fallback produces a complete response when streaming yielded nothing.
// Typically the non-streaming variant of the same LLM call.
type Fallback func(ctx context.Context) (string, error)

// Result of draining a token stream.
type Result struct {
	// Content is the accumulated text — or the fallback result, or the
	// classified user message when everything failed.
	Content string
	// Final is the provider's terminal response when it emitted one;
	// carries tool calls in tools mode.
	Final *llm.Response
	// Partial is true when a mid-stream failure left partially
	// accumulated content. The content is preserved as-is.
	Partial bool
	// Err is the original stream failure, classified callers may want to
	// log. Nil on the success and fallback-success paths.
	Err error
}

// Accumulate drains the token source, emitting token_stream events as
// content arrives. The terminator event (is_last=true) is emitted exactly
// once per invocation: on normal completion when any token was emitted, and
// always on mid-stream failure so the client's caret never sticks.
//
// Recovery rules on failure: partial content is returned unchanged; with no
// content the fallback runs, and if that also fails the original failure is
// classified and its user message published via chat_response.
func Accumulate(ctx context.Context, source llm.Stream, publisher events.Publisher, fallback Fallback, label string) Result {
	logger := slog.Default().With("stream", label)

	var content string
	var final *llm.Response
	var streamErr error
	terminated := false

	terminate := func() {
		if terminated {
			return
		}
		terminated = true
		publisher.PublishTokenStream(ctx, "", false, true)
	}

	for item := range source {
		switch v := item.(type) {
		case llm.Token:
			if v.Text == "" {
				continue
			}
			publisher.PublishTokenStream(ctx, v.Text, content == "", false)
			content += v.Text
		case llm.Final:
			final = v.Response
		case llm.StreamErr:
			streamErr = v.Err
		}
		if streamErr != nil {
			break
		}
	}

	if streamErr == nil {
		if content != "" {
			terminate()
			return Result{Content: content, Final: final}
		}
		// Providers sometimes close with a Final but no token deltas
		// (e.g. a replayed backend completion collected elsewhere).
		if final != nil && final.Content != "" && len(final.ToolCalls) == 0 {
			publisher.PublishTokenStream(ctx, final.Content, true, false)
			terminate()
			return Result{Content: final.Content, Final: final}
		}
		if final != nil && len(final.ToolCalls) > 0 {
			return Result{Content: content, Final: final}
		}
		if fallback == nil {
			return Result{Final: final}
		}
		fb, err := fallback(ctx)
		if err != nil {
			logger.Error("Fallback after empty stream failed", "error", err)
			return publishClassified(ctx, publisher, err)
		}
		publisher.PublishChatResponse(ctx, fb, false)
		return Result{Content: fb}
	}

	// Mid-stream failure. Terminator goes out unconditionally, even with
	// zero tokens received.
	logger.Error("Streaming failed", "error", streamErr, "partial_len", len(content))
	terminate()

	if content != "" {
		return Result{Content: content, Partial: true, Err: streamErr}
	}
	if fallback != nil {
		fb, err := fallback(ctx)
		if err == nil {
			publisher.PublishChatResponse(ctx, fb, false)
			return Result{Content: fb, Err: streamErr}
		}
		logger.Error("Fallback after stream failure also failed", "error", err)
	}
	res := publishClassified(ctx, publisher, streamErr)
	res.Err = streamErr
	return res
}

// publishClassified maps the failure onto the stable error vocabulary and
// publishes the sanitized user message.
func publishClassified(ctx context.Context, publisher events.Publisher, err error) Result {
	c := llm.Classify(err)
	publisher.PublishChatResponse(ctx, c.UserMessage, false)
	return Result{Content: c.UserMessage}
}
