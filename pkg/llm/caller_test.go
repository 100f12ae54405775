package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	lastReq  CompletionRequest
	response *Response
	err      error
}

func (f *fakeProvider) Complete(_ context.Context, req CompletionRequest) (*Response, error) {
	f.lastReq = req
	return f.response, f.err
}

func (f *fakeProvider) StreamCompletion(_ context.Context, req CompletionRequest) (Stream, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan StreamItem, 2)
	ch <- Token{Text: f.response.Content}
	ch <- Final{Response: f.response}
	close(ch)
	return ch, nil
}

type fakeRetriever struct {
	results map[string]*RAGResult
	queried []string
	err     error
}

func (f *fakeRetriever) Query(_ context.Context, _, source string, _ []ChatMessage) (*RAGResult, error) {
	f.queried = append(f.queried, source)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[source], nil
}

func TestCallPlain(t *testing.T) {
	provider := &fakeProvider{response: &Response{Content: "hi"}}
	caller := NewCaller(provider, nil)

	got, err := caller.CallPlain(context.Background(), "gpt-4o",
		[]ChatMessage{{Role: "user", Content: "hello"}}, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
	assert.Empty(t, provider.lastReq.Tools)
}

func TestCallWithToolsBindsTools(t *testing.T) {
	provider := &fakeProvider{response: &Response{Content: ""}}
	caller := NewCaller(provider, nil)

	tools := []ToolDefinition{{Name: "reader_read"}}
	_, err := caller.CallWithTools(context.Background(), "gpt-4o", nil, tools, true, 0)
	require.NoError(t, err)
	assert.Equal(t, tools, provider.lastReq.Tools)
	assert.True(t, provider.lastReq.ToolChoiceRequired)
}

func TestCallWithRAGInjectsContext(t *testing.T) {
	provider := &fakeProvider{response: &Response{Content: "answer"}}
	retriever := &fakeRetriever{results: map[string]*RAGResult{
		"kb:docs": {Content: "retrieved passage"},
	}}
	caller := NewCaller(provider, retriever)

	messages := []ChatMessage{{Role: "user", Content: "question"}}
	got, err := caller.CallWithRAG(context.Background(), "gpt-4o", messages,
		"alice@example.com", []string{"kb:docs"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "answer", got)

	require.Len(t, provider.lastReq.Messages, 2)
	assert.Equal(t, "system", string(provider.lastReq.Messages[0].Role))
	assert.Contains(t, provider.lastReq.Messages[0].Content, "retrieved passage")
	assert.Contains(t, provider.lastReq.Messages[0].Content, "kb:docs")
	assert.Equal(t, "question", provider.lastReq.Messages[1].Content)
}

func TestCallWithRAGBackendCompletionShortCircuits(t *testing.T) {
	provider := &fakeProvider{response: &Response{Content: "should not be used"}}
	retriever := &fakeRetriever{results: map[string]*RAGResult{
		"kb:docs": {Content: "full answer from backend", IsCompletion: true},
	}}
	caller := NewCaller(provider, retriever)

	got, err := caller.CallWithRAG(context.Background(), "gpt-4o",
		[]ChatMessage{{Role: "user", Content: "q"}},
		"alice@example.com", []string{"kb:docs"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "full answer from backend", got)
	assert.Empty(t, provider.lastReq.Messages, "provider must not be called")
}

func TestStreamWithRAGBackendCompletionReplaysAsStream(t *testing.T) {
	retriever := &fakeRetriever{results: map[string]*RAGResult{
		"kb:docs": {Content: "direct", IsCompletion: true},
	}}
	caller := NewCaller(&fakeProvider{}, retriever)

	stream, err := caller.StreamWithRAG(context.Background(), "gpt-4o",
		[]ChatMessage{{Role: "user", Content: "q"}},
		"alice@example.com", []string{"kb:docs"}, 0)
	require.NoError(t, err)

	var items []StreamItem
	for item := range stream {
		items = append(items, item)
	}
	require.Len(t, items, 2)
	assert.Equal(t, Token{Text: "direct"}, items[0])
	final, ok := items[1].(Final)
	require.True(t, ok)
	assert.Equal(t, "direct", final.Response.Content)
}

func TestRAGSkipsFailedSources(t *testing.T) {
	provider := &fakeProvider{response: &Response{Content: "answer"}}
	retriever := &fakeRetriever{err: errors.New("backend down")}
	caller := NewCaller(provider, retriever)

	got, err := caller.CallWithRAG(context.Background(), "gpt-4o",
		[]ChatMessage{{Role: "user", Content: "q"}},
		"alice@example.com", []string{"kb:docs", "kb:wiki"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	assert.Equal(t, []string{"kb:docs", "kb:wiki"}, retriever.queried)
	// No context injected when every source failed.
	require.Len(t, provider.lastReq.Messages, 1)
}

func TestRAGWithNilRetrieverDegradesToPlain(t *testing.T) {
	provider := &fakeProvider{response: &Response{Content: "plain"}}
	caller := NewCaller(provider, nil)

	got, err := caller.CallWithRAG(context.Background(), "gpt-4o",
		[]ChatMessage{{Role: "user", Content: "q"}},
		"alice@example.com", []string{"kb:docs"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}
