package agent

import (
	"context"
	"fmt"
)

// LLMProvider is the narrow contract to the external inference endpoint.
// One Call is one reasoning round: the provider's SDK owns prompt
// formatting, structured-output parsing and its own recovery; this layer
// only retries transport-level failures.
type LLMProvider interface {
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)
	Provider() string
}

// NewProvider creates an LLM provider for the named backend.
func NewProvider(provider, apiKey string) (LLMProvider, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
