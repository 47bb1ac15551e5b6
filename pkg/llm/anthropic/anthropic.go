// Package anthropic provides an llm.Provider backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/types"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = "claude-3-5-sonnet-20241022"

	defaultMaxTokens = 1024
)

// Provider implements llm.Provider for Claude models.
type Provider struct {
	mu          sync.RWMutex
	client      *anthropic.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = t
	}
}

// NewProvider creates a provider. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (provide via parameter or ANTHROPIC_API_KEY environment variable)")
	}

	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = p.newClient()
	return p, nil
}

func (p *Provider) newClient() *anthropic.Client {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	client := anthropic.NewClient(clientOpts...)
	return &client
}

// Reconnect rebuilds the SDK client.
func (p *Provider) Reconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = p.newClient()
	return nil
}

// GetModel returns the model name.
func (p *Provider) GetModel() string {
	return p.model
}

func (p *Provider) currentClient() *anthropic.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

func (p *Provider) buildParams(req *llm.Request) anthropic.MessageNewParams {
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		Messages:    convertMessages(req.Messages),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
	}
	if system := systemBlocks(req.Messages); len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 && req.ToolChoice != types.ToolChoiceNone {
		params.Tools = convertTools(req.Tools)
		if req.ToolChoice == types.ToolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		}
	}
	return params
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := p.currentClient().Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, classifyError(err)
	}

	out := &llm.Response{
		FinishReason: string(resp.StopReason),
		Usage: &llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			args, _ := json.Marshal(tu.Input)
			out.ToolCalls = append(out.ToolCalls, types.NewToolCall(tu.ID, tu.Name, string(args)))
		}
	}
	out.Content = text.String()
	return out, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	stream := p.currentClient().Messages.NewStreaming(ctx, p.buildParams(req))
	if err := stream.Err(); err != nil {
		return nil, classifyError(err)
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go func() {
		defer close(chunks)
		defer stream.Close()

		usage := &llm.Usage{}
		for stream.Next() {
			chunk := convertEvent(stream.Current(), usage)
			if chunk == nil {
				continue
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		final := &llm.StreamChunk{Finished: true, Usage: usage}
		if err := stream.Err(); err != nil {
			final = &llm.StreamChunk{Error: classifyError(err)}
		}
		select {
		case chunks <- final:
		case <-ctx.Done():
		}
	}()
	return chunks, nil
}

// convertEvent maps one SSE event to a chunk, folding usage into usage.
func convertEvent(event anthropic.MessageStreamEventUnion, usage *llm.Usage) *llm.StreamChunk {
	switch ev := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		usage.PromptTokens = int(ev.Message.Usage.InputTokens)
	case anthropic.MessageDeltaEvent:
		usage.CompletionTokens = int(ev.Usage.OutputTokens)
	case anthropic.ContentBlockStartEvent:
		if ev.ContentBlock.Type == "tool_use" {
			return &llm.StreamChunk{ToolCalls: []llm.ToolCallDelta{{
				Index: int(ev.Index),
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			}}}
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return &llm.StreamChunk{Content: d.Text}
		case anthropic.InputJSONDelta:
			return &llm.StreamChunk{ToolCalls: []llm.ToolCallDelta{{
				Index:     int(ev.Index),
				Arguments: d.PartialJSON,
			}}}
		}
	}
	return nil
}

// classifyError maps SDK errors onto llm.ProviderError.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.NewStatusError(apiErr.StatusCode, apiErr.Error(), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return llm.NewNetworkError(err)
}

func systemBlocks(msgs []*types.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, m := range msgs {
		if m.Role == types.RoleSystem && m.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	return blocks
}

// convertMessages converts the conversation into Anthropic turns. Tool
// results become tool_result blocks in a user turn; consecutive results
// share one turn.
func convertMessages(msgs []*types.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			continue
		case types.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flush()

		switch m.Role {
		case types.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						input = map[string]any{}
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			blocks := userBlocks(m)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	flush()
	return out
}

func userBlocks(m *types.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, img := range m.Images {
		if mediaType, data, ok := parseDataURL(img.URL); ok {
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
		} else {
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: img.URL}))
		}
	}
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	return blocks
}

// parseDataURL splits "data:<media>;base64,<data>".
func parseDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	header, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, found = strings.CutSuffix(header, ";base64")
	if !found || mediaType == "" {
		return "", "", false
	}
	return mediaType, payload, true
}

func convertTools(defs []llm.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := d.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch req := d.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, d.Name)
		if tools[i].OfTool != nil && d.Description != "" {
			tools[i].OfTool.Description = anthropic.String(d.Description)
		}
	}
	return tools
}
