package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raglab/docqa/pkg/memory"
	"github.com/raglab/docqa/pkg/vectorstore"
)

// fakeProvider replays a scripted sequence of responses and records every
// request it receives.
type fakeProvider struct {
	responses []*LLMResponse
	errs      []error
	requests  []LLMRequest
	calls     int
}

func (p *fakeProvider) Provider() string { return "fake" }

func (p *fakeProvider) Call(_ context.Context, req LLMRequest) (*LLMResponse, error) {
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return &LLMResponse{Content: "done"}, nil
}

type fakeSearcher struct {
	calls  int
	result string
	err    error
}

func (s *fakeSearcher) Search(context.Context, string) (string, error) {
	s.calls++
	return s.result, s.err
}

func newTestAgent(t *testing.T, provider LLMProvider, store *vectorstore.Store, searcher WebSearcher) *Agent {
	t.Helper()
	a, err := New(Config{
		Provider:    provider,
		Model:       "test-model",
		MaxTokens:   1024,
		Store:       store,
		WebSearcher: searcher,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return a
}

func newIndexedStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	store, err := vectorstore.Create(path, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	err = store.IndexDocument(context.Background(), "handbook.pdf", 1, []vectorstore.Chunk{
		{ID: "handbook.pdf#p1.0", Page: 1, Seq: 0, Content: "Refunds are processed within fourteen days of the request."},
	})
	require.NoError(t, err)
	return store
}

func docSearchCall(id, query string) ToolCall {
	return ToolCall{ID: id, Name: ToolDocumentSearch, Parameters: map[string]interface{}{"query": query}}
}

func TestQueryDirectAnswer(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{{Content: "Paris is the capital of France."}}}
	a := newTestAgent(t, provider, nil, nil)

	answer := a.Query(context.Background(), "What is the capital of France?")

	assert.Equal(t, "Paris is the capital of France.", answer)

	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, memory.RoleUser, history[0].Role)
	assert.Equal(t, "What is the capital of France?", history[0].Content)
	assert.Equal(t, memory.RoleAssistant, history[1].Role)
	assert.Equal(t, "Paris is the capital of France.", history[1].Content)
}

func TestQueryUsesDocumentSearch(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{ToolCalls: []ToolCall{docSearchCall("tc1", "refund policy")}},
		{Content: "Refunds take fourteen days."},
	}}
	a := newTestAgent(t, provider, newIndexedStore(t), nil)

	answer := a.Query(context.Background(), "How long do refunds take?")

	assert.Equal(t, "Refunds take fourteen days.", answer)
	require.Equal(t, 2, provider.calls)

	// The second request must carry the tool observation with the hit.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "tc1", last.ToolCallID)
	assert.Contains(t, last.Content, "fourteen days")
	assert.Contains(t, last.Content, "handbook.pdf")
}

func TestQueryStoreUnavailable(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{ToolCalls: []ToolCall{docSearchCall("tc1", "refund policy")}},
		{Content: "I have no documents to search."},
	}}
	a := newTestAgent(t, provider, nil, nil)

	a.Query(context.Background(), "How long do refunds take?")

	require.Equal(t, 2, provider.calls)
	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	assert.Equal(t, StoreUnavailableMessage, last.Content)
}

func TestQueryWebSearchRedirectedToDocuments(t *testing.T) {
	searcher := &fakeSearcher{result: "web says something else"}
	provider := &fakeProvider{responses: []*LLMResponse{
		{ToolCalls: []ToolCall{{ID: "tc1", Name: ToolWebSearch, Parameters: map[string]interface{}{"query": "refund policy"}}}},
		{Content: "Refunds take fourteen days."},
	}}
	a := newTestAgent(t, provider, newIndexedStore(t), searcher)

	a.Query(context.Background(), "How long do refunds take?")

	// The premature web search must be served from the documents instead.
	assert.Equal(t, 0, searcher.calls)
	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	assert.Contains(t, last.Content, "fourteen days")
}

func TestQueryWebSearchAfterDocuments(t *testing.T) {
	searcher := &fakeSearcher{result: "Latest release is version 3.2."}
	provider := &fakeProvider{responses: []*LLMResponse{
		{ToolCalls: []ToolCall{docSearchCall("tc1", "latest release")}},
		{ToolCalls: []ToolCall{{ID: "tc2", Name: ToolWebSearch, Parameters: map[string]interface{}{"query": "latest release"}}}},
		{Content: "The latest release is 3.2."},
	}}
	a := newTestAgent(t, provider, newIndexedStore(t), searcher)

	answer := a.Query(context.Background(), "What is the latest release?")

	assert.Equal(t, "The latest release is 3.2.", answer)
	assert.Equal(t, 1, searcher.calls)
	last := provider.requests[2].Messages[len(provider.requests[2].Messages)-1]
	assert.Equal(t, "Latest release is version 3.2.", last.Content)
}

func TestQueryWebSearchErrorBecomesObservation(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("upstream unreachable")}
	provider := &fakeProvider{responses: []*LLMResponse{
		{ToolCalls: []ToolCall{{ID: "tc1", Name: ToolWebSearch, Parameters: map[string]interface{}{"query": "anything"}}}},
		{Content: "I could not search the web."},
	}}
	a := newTestAgent(t, provider, nil, searcher)

	answer := a.Query(context.Background(), "What is new today?")

	assert.Equal(t, "I could not search the web.", answer)
	last := provider.requests[1].Messages[len(provider.requests[1].Messages)-1]
	assert.Equal(t, "Web search error: upstream unreachable", last.Content)
}

func TestQueryProviderFailure(t *testing.T) {
	provider := &fakeProvider{errs: []error{errors.New("invalid api key")}}
	a := newTestAgent(t, provider, nil, nil)

	answer := a.Query(context.Background(), "Hello?")

	assert.Contains(t, answer, "Agent error:")
	assert.Contains(t, answer, "invalid api key")

	// The failed exchange is still recorded so later turns see it.
	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Hello?", history[0].Content)
	assert.Contains(t, history[1].Content, "Agent error:")
}

func TestQueryRetriesTransientFailure(t *testing.T) {
	provider := &fakeProvider{
		errs:      []error{errors.New("429 rate limit exceeded"), nil},
		responses: []*LLMResponse{nil, {Content: "recovered"}},
	}
	a := newTestAgent(t, provider, nil, nil)

	answer := a.Query(context.Background(), "Still there?")

	assert.Equal(t, "recovered", answer)
	assert.Equal(t, 2, provider.calls)
}

func TestQueryHistoryInSystemPrompt(t *testing.T) {
	provider := &fakeProvider{responses: []*LLMResponse{
		{Content: "Blue."},
		{Content: "You asked about the sky."},
	}}
	a := newTestAgent(t, provider, nil, nil)

	a.Query(context.Background(), "What color is the sky?")
	a.Query(context.Background(), "What did I just ask?")

	require.Equal(t, 2, provider.calls)
	assert.Contains(t, provider.requests[0].SystemPrompt, "No previous conversation.")
	assert.Contains(t, provider.requests[1].SystemPrompt, "Human: What color is the sky?")
	assert.Contains(t, provider.requests[1].SystemPrompt, "Assistant: Blue.")
}

func TestQueryToolRoundLimit(t *testing.T) {
	responses := make([]*LLMResponse, 0, maxToolRounds)
	for i := 0; i < maxToolRounds; i++ {
		responses = append(responses, &LLMResponse{
			ToolCalls: []ToolCall{docSearchCall(fmt.Sprintf("tc%d", i), "loop")},
		})
	}
	provider := &fakeProvider{responses: responses}
	a := newTestAgent(t, provider, nil, nil)

	answer := a.Query(context.Background(), "Loop forever")

	assert.Contains(t, answer, "Agent error:")
	assert.Equal(t, maxToolRounds, provider.calls)
}

func TestRegistryRejectsUnknownTool(t *testing.T) {
	r := NewToolRegistry(NewWebSearchTool(&fakeSearcher{result: "ok"}))
	obs, ok := r.Execute(context.Background(), ToolCall{Name: "shell_exec", Parameters: map[string]interface{}{"query": "x"}})
	assert.False(t, ok)
	assert.Contains(t, obs, "Unknown tool")
}

func TestRegistryValidatesArguments(t *testing.T) {
	r := NewToolRegistry(NewWebSearchTool(&fakeSearcher{result: "ok"}))

	obs, ok := r.Execute(context.Background(), ToolCall{Name: ToolWebSearch, Parameters: map[string]interface{}{}})
	assert.False(t, ok)
	assert.Contains(t, obs, "Invalid arguments")

	obs, ok = r.Execute(context.Background(), ToolCall{Name: ToolWebSearch, Parameters: map[string]interface{}{"query": "  "}})
	assert.False(t, ok)
	assert.Contains(t, obs, "Invalid arguments")
}
