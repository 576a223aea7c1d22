package llm

import (
	"context"
	"time"
)

// Flavor describes how strictly a provider validates tool-call pairing
// in the message history it receives.
type Flavor string

const (
	// FlavorStrict providers reject histories with unpaired tool calls
	// or dangling tool results. The history must be repaired first.
	FlavorStrict Flavor = "strict"
	// FlavorLenient providers accept imperfect histories as-is.
	FlavorLenient Flavor = "lenient"
)

// ToolDefinition describes one callable tool to a provider. Parameters
// is an inlined JSON Schema object (type/properties/required), no $ref.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the result of a chat completion.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     TokenUsage
}

// StreamChunk is one unit of a streaming chat response. Content chunks
// arrive as generated; tool calls arrive complete on the final chunks.
// Done marks the end of the stream, with Usage populated when the
// provider reports it.
type StreamChunk struct {
	Content   string
	ToolCalls []ToolCall
	Usage     TokenUsage
	Done      bool
	Error     error
}

// TokenUsage tracks token consumption for a single request.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from another request.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// Client is the interface all LLM providers implement.
type Client interface {
	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams the response. The channel
	// is closed after the chunk with Done=true or Error set.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)

	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Bound is a Client resolved for one role, carrying everything the
// conversation engine needs to invoke it: the tool schemas to attach,
// the provider's history strictness, and the request timeout.
type Bound struct {
	Client   Client
	Provider string
	Model    string
	Flavor   Flavor
	Timeout  time.Duration
	Tools    []ToolDefinition
}

// APIErrorDetails is implemented by provider errors that carry
// upstream API codes, so callers can inspect them without importing
// provider packages.
type APIErrorDetails interface {
	error
	APICode() int
	APIMessage() string
}
