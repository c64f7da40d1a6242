// Package llms provides the LLM provider abstraction used by the router's
// fallback path, the orchestrator's direct handling, and the LLM-backed
// agents.
package llms

import "context"

// Message is one turn of a provider conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is one unit of streaming provider output.
type StreamChunk struct {
	Type   string // "text", "done", "error"
	Text   string
	Tokens int
	Error  error
}

// Provider generates text from a message history. Implementations must be
// safe for concurrent use.
type Provider interface {
	// GetModelName returns the provider's model identifier.
	GetModelName() string

	// Generate returns the complete response text for the given system
	// prompt and messages.
	Generate(ctx context.Context, system string, messages []Message) (string, error)

	// GenerateStreaming returns a channel of incremental chunks. The channel
	// is closed after a "done" or "error" chunk.
	GenerateStreaming(ctx context.Context, system string, messages []Message) (<-chan StreamChunk, error)

	// Close releases provider resources.
	Close() error
}
