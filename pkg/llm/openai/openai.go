// Package openai provides an OpenAI-compatible LLM provider implementation.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithModel("gpt-4o"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//
//	resp, err := provider.Complete(ctx, &llm.Request{
//	    Messages: []*types.Message{types.NewUserMessage("Hello!")},
//	})
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/logging"
	"github.com/openai/openai-go"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// OpenRouterBaseURL is the OpenRouter OpenAI-compatible endpoint
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o"

	defaultMaxTokens = 1024
	reasoningEffort  = "medium"
)

var providerLog *logging.Logger

func init() {
	var err error
	providerLog, err = logging.NewLogger("openai")
	if err != nil {
		providerLog.Warnf("Failed to initialize openai logger, using stderr fallback: %v", err)
	}
}

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	mu          sync.RWMutex
	httpClient  *http.Client
	apiKey      string
	keyFromEnv  bool
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, OpenRouter, or local servers.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature for non-reasoning models.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTimeout sets the request timeout used when the transport is rebuilt.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		p.timeout = d
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY environment variable.
// If baseURL is not provided via WithBaseURL option, it will check OPENAI_BASE_URL environment variable.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	keyFromEnv := false
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
		keyFromEnv = true
	}

	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		keyFromEnv: keyFromEnv,
		baseURL:    DefaultBaseURL,
		maxTokens:  defaultMaxTokens,
		timeout:    10 * time.Minute,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = strings.TrimRight(envBaseURL, "/")
		}
	}

	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: p.timeout}
	}

	return p, nil
}

// IsReasoningModel reports whether model takes max_completion_tokens and a
// reasoning effort instead of max_tokens and temperature.
func IsReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if model == prefix || strings.HasPrefix(model, prefix+"-") {
			return true
		}
	}
	return false
}

// Reconnect rebuilds the HTTP transport. When the key came from the
// environment it is re-read so rotated credentials take effect.
func (p *Provider) Reconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.keyFromEnv {
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return fmt.Errorf("OPENAI_API_KEY is no longer set")
		}
		p.apiKey = key
	}
	if t, ok := p.httpClient.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	p.httpClient = &http.Client{Timeout: p.timeout, Transport: p.httpClient.Transport}
	providerLog.Infof("Rebuilt transport for %s", p.baseURL)
	return nil
}

// StreamCompletion sends the request and streams back response chunks.
//
// This implementation uses raw HTTP streaming to handle SSE events directly,
// which provides better compatibility with OpenAI-compatible APIs that may
// include SSE comments or have slight format variations.
func (p *Provider) StreamCompletion(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	resp, err := p.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go p.processStreamResponse(ctx, resp, chunks)
	return chunks, nil
}

// Complete sends the request and returns the full response.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := p.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var completion openai.ChatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("failed to decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	choice := completion.Choices[0]
	out := &llm.Response{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: &llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, toolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return out, nil
}

// buildRequestBody creates the JSON body for a chat completion request.
func (p *Provider) buildRequestBody(req *llm.Request, stream bool) map[string]any {
	body := map[string]any{
		"model":    p.model,
		"messages": convertToOpenAIMessages(req.Messages),
	}

	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}

	if len(req.Tools) > 0 {
		body["tools"] = convertToOpenAITools(req.Tools)
		if req.ToolChoice != "" {
			body["tool_choice"] = string(req.ToolChoice)
		}
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	if IsReasoningModel(p.model) {
		body["max_completion_tokens"] = maxTokens
		body["reasoning_effort"] = reasoningEffort
	} else {
		body["max_tokens"] = maxTokens
		temperature := p.temperature
		if req.Temperature != nil {
			temperature = *req.Temperature
		}
		body["temperature"] = temperature
	}

	return body
}

// send creates and sends the HTTP request, returning the response only when
// the status is 200.
func (p *Provider) send(ctx context.Context, req *llm.Request, stream bool) (*http.Response, error) {
	bodyBytes, err := json.Marshal(p.buildRequestBody(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	p.mu.RLock()
	client, apiKey, url := p.httpClient, p.apiKey, p.baseURL+"/chat/completions"
	p.mu.RUnlock()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.NewNetworkError(err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, llm.NewStatusError(resp.StatusCode, "failed to read error body", readErr)
		}
		return nil, llm.NewStatusError(resp.StatusCode, fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	return resp, nil
}

// processStreamResponse processes the SSE stream and sends chunks to the channel
func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if !isValidSSELine(line) {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			sendChunk(ctx, &llm.StreamChunk{Finished: true}, chunks)
			return
		}

		if !p.processSSEChunk(ctx, data, chunks) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		sendChunk(ctx, &llm.StreamChunk{Error: llm.NewNetworkError(fmt.Errorf("stream read error: %w", err))}, chunks)
		return
	}
	sendChunk(ctx, &llm.StreamChunk{Finished: true}, chunks)
}

// isValidSSELine checks if a line is a valid SSE data line
func isValidSSELine(line string) bool {
	return line != "" && !strings.HasPrefix(line, ":") && strings.HasPrefix(line, "data: ")
}

// sendChunk sends a chunk unless the context is done
func sendChunk(ctx context.Context, chunk *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// processSSEChunk converts a single SSE data payload into a StreamChunk
func (p *Provider) processSSEChunk(ctx context.Context, data string, chunks chan<- *llm.StreamChunk) bool {
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		providerLog.Debugf("Skipping malformed chunk: %v", err)
		return true
	}

	out := &llm.StreamChunk{}
	if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
		out.Usage = &llm.Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
		}
	}

	if len(chunk.Choices) > 0 {
		delta := chunk.Choices[0].Delta
		out.Content = delta.Content
		for _, tc := range delta.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCallDelta{
				Index:     int(tc.Index),
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	if out.Content == "" && len(out.ToolCalls) == 0 && out.Usage == nil {
		return true
	}
	return sendChunk(ctx, out, chunks)
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// GetBaseURL returns the base URL being used.
func (p *Provider) GetBaseURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.baseURL
}
