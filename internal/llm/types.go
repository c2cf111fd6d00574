// Package llm defines the LLM provider interface and the retrying client
// used by every pipeline stage. Providers are interchangeable behind the
// Provider interface.
package llm

import "context"

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
	Model        string // override provider default if set
}

// CompletionResponse is returned by Complete(). Responses are buffered
// strings; there is no streaming in the pipeline.
type CompletionResponse struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider is the core abstraction for language model backends.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the provider's default model identifier.
	ModelID() string
}
