// Package llm defines the boundary between agents and completion services.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stream, err := provider.StreamCompletion(ctx, &llm.Request{
//	    Messages: []*types.Message{types.NewUserMessage("Hello!")},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for chunk := range stream {
//	    if chunk.IsError() {
//	        log.Fatal(chunk.Error)
//	    }
//	    fmt.Print(chunk.Content)
//	}
package llm

import (
	"context"

	"github.com/entrhq/conduit/pkg/types"
)

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a single completion request. Messages are already formatted:
// system prompts first, transport metadata removed.
type Request struct {
	Messages    []*types.Message
	Tools       []ToolDefinition
	ToolChoice  types.ToolChoice
	MaxTokens   int
	Temperature *float64
}

// Usage is the token accounting reported by the service.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response is a complete, non-streamed completion.
type Response struct {
	Content      string
	ToolCalls    []types.ToolCall
	FinishReason string
	Usage        *Usage
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments sharing an
// Index belong to the same call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamChunk is one element of a streamed completion.
type StreamChunk struct {
	Content   string
	ToolCalls []ToolCallDelta
	Usage     *Usage
	Finished  bool
	Error     error
}

// IsError reports whether the chunk carries a stream-time failure.
func (c *StreamChunk) IsError() bool {
	return c != nil && c.Error != nil
}

// Provider is a completion service.
//
// StreamCompletion returns an error only when the stream cannot be started.
// Failures after that are delivered as a chunk with Error set, after which
// the channel is closed.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	StreamCompletion(ctx context.Context, req *Request) (<-chan *StreamChunk, error)
	GetModel() string
}

// Reconnector is implemented by providers that can rebuild their transport,
// for example after credentials rotate.
type Reconnector interface {
	Reconnect() error
}
