package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/raglab/docqa/internal/observability"
	"github.com/raglab/docqa/internal/tracing"
	"github.com/raglab/docqa/pkg/memory"
	"github.com/raglab/docqa/pkg/vectorstore"
)

const (
	// maxToolRounds bounds the think/act loop for a single query.
	maxToolRounds = 10
	// maxLLMRetries bounds retries on transient provider errors.
	maxLLMRetries = 3
)

const systemPromptTemplate = `You are a helpful assistant that answers questions about uploaded documents.

You have two tools:
- document_search: searches the uploaded documents. ALWAYS try this first.
- web_search: searches the web. Use it only when the documents do not contain the answer.

Ground your answers in tool observations. If neither source answers the question, say so honestly.

Previous conversation:
%s`

// Config configures an Agent.
type Config struct {
	Provider     LLMProvider
	Model        string
	Temperature  float64
	MaxTokens    int
	Store        *vectorstore.Store
	WebSearcher  WebSearcher
	MemoryWindow int
	Logger       zerolog.Logger
}

// Agent answers questions over a conversation, using document search and web
// search tools. Queries on the same agent are serialized; the document index
// may be swapped at any time, including while a query is running.
type Agent struct {
	mu       sync.Mutex
	provider LLMProvider
	registry *ToolRegistry
	memory   *memory.Window
	store    atomic.Pointer[vectorstore.Store]
	model    string
	temp     float64
	maxTok   int
	logger   zerolog.Logger
}

// New creates an Agent from the config.
func New(cfg Config) (*Agent, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	a := &Agent{
		provider: cfg.Provider,
		memory:   memory.NewWindow(cfg.MemoryWindow),
		model:    cfg.Model,
		temp:     cfg.Temperature,
		maxTok:   cfg.MaxTokens,
		logger:   cfg.Logger,
	}
	a.store.Store(cfg.Store)
	a.registry = NewToolRegistry(
		NewDocumentSearchTool(a.currentStore, 5),
		NewWebSearchTool(cfg.WebSearcher),
	)
	return a, nil
}

func (a *Agent) currentStore() *vectorstore.Store {
	return a.store.Load()
}

// AttachStore swaps the document index. The reference is atomic so an index
// swap never waits behind an in-flight query; subsequent tool calls pick up
// the new index immediately.
func (a *Agent) AttachStore(store *vectorstore.Store) {
	a.store.Store(store)
}

// Store returns the currently attached document index, which may be nil.
func (a *Agent) Store() *vectorstore.Store {
	return a.store.Load()
}

// History returns a snapshot of the conversation memory.
func (a *Agent) History() []memory.Message {
	return a.memory.Export()
}

// ClearMemory resets the conversation memory.
func (a *Agent) ClearMemory() {
	a.memory.Clear()
}

// ImportHistory replaces the conversation memory with the given messages.
func (a *Agent) ImportHistory(msgs []memory.Message) {
	a.memory.Import(msgs)
}

// Query answers a question in the context of the conversation so far. It
// always returns text: unrecoverable failures come back as an error-tagged
// answer rather than an error, and both the question and the answer are
// recorded in memory either way.
func (a *Agent) Query(ctx context.Context, question string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "docqa/agent", "agent.query")
	defer span.End()

	start := time.Now()
	log := tracing.LoggerFromContext(ctx, a.logger).With().
		Str("question", truncate(question, 120)).
		Logger()

	systemPrompt := fmt.Sprintf(systemPromptTemplate, a.memory.PromptText())
	a.memory.Append(memory.RoleUser, question)

	answer, err := a.run(ctx, systemPrompt, question, log)
	if err != nil {
		answer = fmt.Sprintf("Agent error: %v", err)
		log.Error().Err(err).Msg("query failed")
	}

	a.memory.Append(memory.RoleAssistant, answer)
	observability.RecordQuery(time.Since(start), err == nil)
	return answer
}

// run executes the think/act loop for one question.
func (a *Agent) run(ctx context.Context, systemPrompt, question string, log zerolog.Logger) (string, error) {
	messages := []Message{{Role: "user", Content: question}}
	docSearched := false

	for round := 0; round < maxToolRounds; round++ {
		resp, err := a.callWithRetry(ctx, LLMRequest{
			Model:        a.model,
			Messages:     messages,
			Tools:        a.registry.Definitions(),
			Temperature:  a.temp,
			MaxTokens:    a.maxTok,
			SystemPrompt: systemPrompt,
		})
		if err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			call = a.enforcePrecedence(call, docSearched)
			if call.Name == ToolDocumentSearch {
				docSearched = true
			}

			observation, ok := a.registry.Execute(ctx, call)
			observability.RecordToolInvocation(call.Name, ok)
			log.Debug().
				Str("tool", call.Name).
				Str("observation", truncate(observation, 200)).
				Msg("tool invoked")

			messages = append(messages, Message{
				Role:       "tool",
				Content:    observation,
				ToolCallID: call.ID,
			})
		}
	}

	return "", fmt.Errorf("no answer after %d tool rounds", maxToolRounds)
}

// enforcePrecedence redirects a premature web search to document search. The
// documents are the primary source; the web is the fallback once they have
// been consulted at least once for this question.
func (a *Agent) enforcePrecedence(call ToolCall, docSearched bool) ToolCall {
	if call.Name != ToolWebSearch || docSearched {
		return call
	}
	store := a.currentStore()
	if store == nil || !store.Available() {
		return call
	}
	a.logger.Debug().Msg("redirecting web search to document search")
	return ToolCall{ID: call.ID, Name: ToolDocumentSearch, Parameters: call.Parameters}
}

// callWithRetry calls the provider, retrying transient failures with
// exponential backoff (1s, 2s, 4s).
func (a *Agent) callWithRetry(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt < maxLLMRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			a.logger.Warn().
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("retrying LLM call")
		}

		resp, err := a.provider.Call(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryableError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("LLM call failed after %d attempts: %w", maxLLMRetries, lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
