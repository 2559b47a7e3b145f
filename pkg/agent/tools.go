package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/raglab/docqa/pkg/vectorstore"
)

// Tool names recognized by the agent. The tool set is closed: the model may
// only request these by name, anything else is rejected as an observation.
const (
	ToolDocumentSearch = "document_search"
	ToolWebSearch      = "web_search"
)

// StoreUnavailableMessage is returned when document search is requested but no
// index has been built yet.
const StoreUnavailableMessage = "Vector store is not available. Please upload documents first."

// Tool is a single capability exposed to the LLM. Invoke never panics; failures
// come back as errors and are rendered into observations by the registry.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Invoke(ctx context.Context, query string) (string, error)
}

// queryInputSchema is the shared JSON schema for single-query tools.
func queryInputSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{"query"},
	}
}

// DocumentSearchTool searches the session's document index. The store is
// resolved through a getter so the agent can swap indexes between calls.
type DocumentSearchTool struct {
	store      func() *vectorstore.Store
	maxResults int
}

// NewDocumentSearchTool creates a document search tool backed by the store
// returned by the getter at invocation time.
func NewDocumentSearchTool(store func() *vectorstore.Store, maxResults int) *DocumentSearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &DocumentSearchTool{store: store, maxResults: maxResults}
}

// Name returns the tool name.
func (t *DocumentSearchTool) Name() string { return ToolDocumentSearch }

// Definition returns the tool definition advertised to the LLM.
func (t *DocumentSearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolDocumentSearch,
		Description: "Search the uploaded documents for passages relevant to the query. Always try this before searching the web.",
		InputSchema: queryInputSchema("The search query to run against the uploaded documents"),
	}
}

// Invoke runs a hybrid search against the current index and formats the hits
// as a plain-text observation.
func (t *DocumentSearchTool) Invoke(ctx context.Context, query string) (string, error) {
	store := t.store()
	if store == nil || !store.Available() {
		return StoreUnavailableMessage, nil
	}

	results, err := store.Search(ctx, query, &vectorstore.SearchOptions{Limit: t.maxResults})
	if err != nil {
		if errors.Is(err, vectorstore.ErrUnavailable) {
			return StoreUnavailableMessage, nil
		}
		return "", fmt.Errorf("document search failed: %w", err)
	}

	if len(results) == 0 {
		return "No relevant passages found in the uploaded documents.", nil
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s, page %d]\n%s", r.Document, r.Page, r.Content)
	}
	return sb.String(), nil
}

// WebSearcher is the slice of the web search client the agent needs.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// WebSearchTool performs a web search through the configured search API.
type WebSearchTool struct {
	searcher WebSearcher
}

// NewWebSearchTool creates a web search tool.
func NewWebSearchTool(searcher WebSearcher) *WebSearchTool {
	return &WebSearchTool{searcher: searcher}
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string { return ToolWebSearch }

// Definition returns the tool definition advertised to the LLM.
func (t *WebSearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolWebSearch,
		Description: "Search the web for current information. Use only when the uploaded documents do not answer the question.",
		InputSchema: queryInputSchema("The search query to send to the web search engine"),
	}
}

// Invoke runs the web search. Search failures are rendered as observations so
// the model can recover instead of aborting the whole query.
func (t *WebSearchTool) Invoke(ctx context.Context, query string) (string, error) {
	if t.searcher == nil {
		return "Web search error: no search provider configured", nil
	}
	result, err := t.searcher.Search(ctx, query)
	if err != nil {
		return fmt.Sprintf("Web search error: %v", err), nil
	}
	return result, nil
}

// ToolRegistry holds the closed tool set and validates invocations against
// each tool's input schema before dispatching.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates a registry with the given tools, preserving order
// for Definitions.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; exists {
			continue
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r
}

// Get returns the named tool, or false if it is not registered.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool definitions in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute validates and runs a tool call, returning the observation text and
// whether the call succeeded. It never returns an error: unknown tools, bad
// arguments, and tool failures all become observations fed back to the model.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) (string, bool) {
	tool, ok := r.tools[call.Name]
	if !ok {
		return fmt.Sprintf("Unknown tool: %s", call.Name), false
	}

	query, err := r.validateQuery(tool, call.Parameters)
	if err != nil {
		return fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err), false
	}

	observation, err := tool.Invoke(ctx, query)
	if err != nil {
		return fmt.Sprintf("Tool %s failed: %v", call.Name, err), false
	}
	return observation, true
}

// validateQuery checks the parameters against the tool's input schema and
// extracts the query string.
func (r *ToolRegistry) validateQuery(tool Tool, params map[string]interface{}) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal parameters: %w", err)
	}

	schemaJSON, err := json.Marshal(tool.Definition().InputSchema)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return "", fmt.Errorf("validate parameters: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return "", errors.New(strings.Join(msgs, "; "))
	}

	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", errors.New("query must be a non-empty string")
	}
	return query, nil
}
