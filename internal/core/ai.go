package core

import "context"

// EmbedResult carries the vector and the provider-reported (or
// estimated) prompt token count for one embedding call.
type EmbedResult struct {
	Vector       []float32
	Model        string
	PromptTokens int
}

// EmbeddingProvider is the raw embedding backend. Retry and usage
// accounting live in the embed package, not here.
type EmbeddingProvider interface {
	EmbedText(ctx context.Context, text string) (*EmbedResult, error)
}

// GenUsage is the token accounting of one completion call.
type GenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// LLMProvider wraps the chat-completion backend.
type LLMProvider interface {
	// Generate runs a non-streaming completion.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// GenerateStream runs a streaming completion, invoking fn once per
	// text delta in model-emission order. A non-nil error from fn stops
	// the stream and is returned as-is.
	GenerateStream(ctx context.Context, systemPrompt, userPrompt string, temperature float32, fn func(token string) error) (*GenUsage, error)
}
