package adapter

import (
	"context"
	"strings"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/types"
)

func (a *Adapter) stream(ctx context.Context, messages, system []*types.Message, tools []llm.ToolDefinition, choice types.ToolChoice) Result {
	req, estimated, rejection := a.prepare(messages, system, tools, choice)
	if rejection != nil {
		return *rejection
	}

	st := &retryState{attempt: 1}
	src, err := a.open(ctx, req, st)
	if err != nil {
		return failed(err)
	}

	out := make(chan *llm.StreamChunk, 10)
	go a.pump(ctx, req, st, src, out, estimated)
	return Result{Status: StatusOK, Stream: out}
}

// open starts a stream, retrying start-up failures.
func (a *Adapter) open(ctx context.Context, req *llm.Request, st *retryState) (<-chan *llm.StreamChunk, error) {
	for {
		src, err := a.provider.StreamCompletion(ctx, req)
		if err == nil {
			return src, nil
		}
		if !a.retry(ctx, st, err, true) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}
}

// pump forwards chunks from src to out, reopening the stream when a failure
// is retryable. The completion text is accumulated so usage can be
// estimated when the service does not report it.
func (a *Adapter) pump(ctx context.Context, req *llm.Request, st *retryState, src <-chan *llm.StreamChunk, out chan<- *llm.StreamChunk, estimated int) {
	defer close(out)

	var text strings.Builder
	var reported *llm.Usage
	forwarded := false

	defer func() {
		prompt, completion := estimated, a.counter.CountText(text.String())
		if reported != nil {
			if reported.PromptTokens > 0 {
				prompt = reported.PromptTokens
			}
			if reported.CompletionTokens > 0 {
				completion = reported.CompletionTokens
			}
		}
		a.record(prompt, completion)
	}()

	send := func(c *llm.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var failure error
		for chunk := range src {
			if chunk.IsError() {
				failure = chunk.Error
				break
			}
			if chunk.Usage != nil {
				reported = chunk.Usage
			}
			if chunk.Content != "" || len(chunk.ToolCalls) > 0 {
				forwarded = true
				text.WriteString(chunk.Content)
			}
			if !send(chunk) {
				drain(src)
				return
			}
		}
		if failure == nil {
			return
		}
		drain(src)

		if !a.retry(ctx, st, failure, !forwarded) {
			send(&llm.StreamChunk{Error: failure})
			return
		}
		next, err := a.open(ctx, req, st)
		if err != nil {
			send(&llm.StreamChunk{Error: err})
			return
		}
		src = next
	}
}

// drain discards whatever src still delivers so its producer can exit.
func drain(src <-chan *llm.StreamChunk) {
	go func() {
		for range src {
		}
	}()
}

// Collect reads a stream to completion and returns the concatenated text and
// any assembled tool calls. The first error chunk stops collection.
func Collect(stream <-chan *llm.StreamChunk) (string, []types.ToolCall, error) {
	var text strings.Builder
	acc := llm.NewToolCallAccumulator()
	for chunk := range stream {
		if chunk.IsError() {
			drain(stream)
			return text.String(), acc.Calls(), chunk.Error
		}
		text.WriteString(chunk.Content)
		acc.Add(chunk.ToolCalls...)
	}
	return text.String(), acc.Calls(), nil
}
