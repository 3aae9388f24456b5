// Package llm defines the Provider interface for language-model backends.
//
// An LLM provider wraps a remote model API (e.g., OpenAI GPT, Anthropic
// Claude, or a local Ollama instance) and exposes a uniform interface for the
// tutoring pipeline to perform completions without coupling to any specific
// SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting returned by the LLM backend. All counts are
// in the model's native token unit and may differ between providers for the
// same textual content.
type Usage struct {
	// InputTokens is the number of non-cached prompt tokens billed at the
	// full input rate.
	InputTokens int

	// OutputTokens is the number of tokens generated in the response.
	OutputTokens int

	// CachedInputTokens is the number of prompt tokens the backend served
	// from its prompt cache at a discounted rate. Zero for backends without
	// prompt caching.
	CachedInputTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation history. For chapter-grounded tutoring this carries the
	// full chapter content and is identical across every turn of a session.
	SystemPrompt string

	// SystemCacheable marks the system prompt as a candidate for
	// backend-side prompt caching. Providers that support prompt-level
	// caching should arrange for the system segment to be reused across
	// calls; providers without the capability ignore the flag. This is a
	// pass-through hint, not a guarantee.
	SystemCacheable bool

	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means use
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty on
	// the final chunk.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop", "length", and "error".
	FinishReason string

	// Usage carries cumulative token accounting and is non-nil only on the
	// final chunk, and only for providers that report streaming usage.
	Usage *Usage
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
// Each method should propagate context cancellation promptly: when ctx is
// cancelled the method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
