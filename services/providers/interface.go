package providers

import (
	"context"
	"encoding/json"
	"time"
)

// Adapter performs the actual call to one hosted model vendor.
// The per-call deadline travels in ctx; adapters must honour it.
type Adapter interface {
	// GenerateText returns a single completion for the prompt
	GenerateText(ctx context.Context, req *Request) (*Completion, error)

	// GenerateObject asks the model for a JSON value matching req.Schema and
	// returns the raw JSON. Schema conformance is checked by the caller.
	GenerateObject(ctx context.Context, req *ObjectRequest) (json.RawMessage, error)

	// StreamText opens a streaming completion. It returns once the upstream
	// stream is established; the channel is closed when the stream ends or
	// ctx is cancelled.
	StreamText(ctx context.Context, req *Request) (<-chan StreamChunk, error)
}

// Request is the provider-neutral generation request
type Request struct {
	// Prompt is the user prompt
	Prompt string `json:"prompt"`

	// System is an optional system instruction
	System string `json:"system,omitempty"`

	// ModelID is filled in from the provider's configuration
	ModelID string `json:"model"`

	// MaxTokens limits the response length (0 means provider default)
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0 means provider default)
	Temperature float64 `json:"temperature,omitempty"`

	// Metadata for tracking and logging
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ObjectRequest is a Request constrained by a JSON Schema
type ObjectRequest struct {
	Request

	// Schema is the JSON Schema the generated object must satisfy
	Schema json.RawMessage `json:"schema"`

	// SchemaName is an optional label some vendors require for structured output
	SchemaName string `json:"schema_name,omitempty"`
}

// Completion is a finished text generation
type Completion struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one piece of a streamed completion. A chunk with Err set is
// the last one delivered.
type StreamChunk struct {
	Delta        string `json:"delta,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Err          error  `json:"-"`
}

// Config is the static configuration of one provider
type Config struct {
	// ID identifies the provider (e.g., "openai", "anthropic")
	ID string `json:"id" validate:"required"`

	// Priority orders providers; lower is tried first
	Priority int `json:"priority"`

	// ModelID is passed to the adapter on every call
	ModelID string `json:"model" validate:"required"`

	// CallTimeout is the hard deadline of a single attempt
	CallTimeout time.Duration `json:"call_timeout" validate:"gt=0"`
}

// DefaultCallTimeout applies when a provider is configured without a timeout
const DefaultCallTimeout = 60 * time.Second
