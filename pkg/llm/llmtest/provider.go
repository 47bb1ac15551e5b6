// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/llm/tokenizer"
	"github.com/entrhq/conduit/pkg/types"
)

// ErrExhausted is returned when a provider runs out of scripted steps.
var ErrExhausted = errors.New("llmtest: no scripted response left")

// Step is one scripted reply. Err fails the call before anything is
// produced. Chunks, when set, are streamed verbatim; otherwise Response is
// used and split into chunks for streaming calls.
type Step struct {
	Response *llm.Response
	Chunks   []*llm.StreamChunk
	Err      error
}

// Text scripts a plain text reply.
func Text(content string) Step {
	return Step{Response: &llm.Response{Content: content, FinishReason: "stop"}}
}

// ToolCalls scripts a reply requesting the given tool calls.
func ToolCalls(content string, calls ...types.ToolCall) Step {
	return Step{Response: &llm.Response{Content: content, ToolCalls: calls, FinishReason: "tool_calls"}}
}

// Stream scripts a streamed text reply delivered in the given pieces.
func Stream(parts ...string) Step {
	chunks := make([]*llm.StreamChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, &llm.StreamChunk{Content: p})
	}
	chunks = append(chunks, &llm.StreamChunk{Finished: true})
	return Step{Chunks: chunks}
}

// Fail scripts a call that fails to start.
func Fail(err error) Step {
	return Step{Err: err}
}

// FailMidStream scripts a stream that delivers parts and then fails.
func FailMidStream(err error, parts ...string) Step {
	s := Stream(parts...)
	s.Chunks = append(s.Chunks[:len(s.Chunks)-1], &llm.StreamChunk{Error: err})
	return s
}

// Provider replays scripted steps in order and records every request.
type Provider struct {
	mu           sync.Mutex
	model        string
	steps        []Step
	requests     []*llm.Request
	reconnects   int
	ReconnectErr error
}

// New creates a provider for model with the given script.
func New(model string, steps ...Step) *Provider {
	return &Provider{model: model, steps: steps}
}

// Enqueue appends steps to the script.
func (p *Provider) Enqueue(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

func (p *Provider) next(req *llm.Request) (Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.steps) == 0 {
		return Step{}, ErrExhausted
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Response != nil {
		return s.Response, nil
	}

	var sb strings.Builder
	acc := llm.NewToolCallAccumulator()
	for _, c := range s.Chunks {
		if c.Error != nil {
			return nil, c.Error
		}
		sb.WriteString(c.Content)
		acc.Add(c.ToolCalls...)
	}
	return &llm.Response{Content: sb.String(), ToolCalls: acc.Calls()}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	s, err := p.next(req)
	if err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	chunks := s.Chunks
	if chunks == nil && s.Response != nil {
		chunks = responseChunks(s.Response)
	}

	out := make(chan *llm.StreamChunk, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func responseChunks(resp *llm.Response) []*llm.StreamChunk {
	var chunks []*llm.StreamChunk
	if resp.Content != "" {
		chunks = append(chunks, &llm.StreamChunk{Content: resp.Content})
	}
	for i, tc := range resp.ToolCalls {
		chunks = append(chunks, &llm.StreamChunk{ToolCalls: []llm.ToolCallDelta{{
			Index:     i,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}}})
	}
	return append(chunks, &llm.StreamChunk{Finished: true, Usage: resp.Usage})
}

// GetModel implements llm.Provider.
func (p *Provider) GetModel() string {
	return p.model
}

// Reconnect implements llm.Reconnector.
func (p *Provider) Reconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconnects++
	return p.ReconnectErr
}

// Requests returns every request received so far.
func (p *Provider) Requests() []*llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*llm.Request(nil), p.requests...)
}

// Calls returns the number of requests received.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Reconnects returns how many times Reconnect was called.
func (p *Provider) Reconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnects
}

// Remaining returns the number of unconsumed steps.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

// RuneEncoder yields one token per rune so token counts in tests are easy to
// derive by hand.
type RuneEncoder struct{}

// Encode implements tokenizer.Encoder.
func (RuneEncoder) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

// NewCounter returns a token counter over RuneEncoder with default costs.
func NewCounter() *tokenizer.Counter {
	return tokenizer.NewCounter(RuneEncoder{}, tokenizer.CounterConfig{})
}
