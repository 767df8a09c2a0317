package llm

import (
	"context"
	"fmt"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// The first message may be a system message; providers that carry
	// system instructions out-of-band extract it at their boundary.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// RateLimitError indicates the provider signalled quota exhaustion
// (HTTP 429 or an equivalent status). Callers should surface a
// "try again later" outcome rather than a generic failure.
type RateLimitError struct {
	Provider string
	Detail   string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Detail)
}
