package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/llm/adapter"
	"github.com/entrhq/conduit/pkg/types"
	"github.com/mitchellh/mapstructure"
)

// ErrUnknownTool is returned when a call names a tool that is not in the
// collection.
var ErrUnknownTool = errors.New("unknown tool")

// ErrInvalidArguments is returned when a call's arguments are not valid JSON.
var ErrInvalidArguments = errors.New("failed to parse arguments")

// Tool represents a capability that an agent can use during execution.
// Tools are invoked by the model through native tool calls; the JSON
// arguments are decoded into a map before Execute is called.
type Tool interface {
	// Name returns the unique identifier for this tool (e.g., "answer")
	Name() string

	// Description returns a human-readable description of what this tool does
	Description() string

	// Schema returns the JSON schema for this tool's input parameters
	Schema() map[string]any

	// Execute runs the tool. Producer tools stream their output through the
	// agent context; the returned string is the observation stored in
	// memory.
	Execute(ctx context.Context, args map[string]any, agent AgentContext) (string, error)
}

// LLM is the completion surface tools call back into. *adapter.Adapter
// implements it.
type LLM interface {
	Ask(ctx context.Context, messages, system []*types.Message) adapter.Result
	AskWithTools(ctx context.Context, messages, system []*types.Message, tools []llm.ToolDefinition, choice types.ToolChoice) adapter.Result
	AskStreaming(ctx context.Context, messages, system []*types.Message) adapter.Result
	AskWithToolsStreaming(ctx context.Context, messages, system []*types.Message, tools []llm.ToolDefinition, choice types.ToolChoice) adapter.Result
}

// Prompt is the per-tool prompt pair configured for an agent.
type Prompt struct {
	SystemPrompt   string `yaml:"system_prompt" json:"system_prompt"`
	NextStepPrompt string `yaml:"next_step_prompt" json:"next_step_prompt"`
}

// AgentContext is the view of the running agent handed to a tool.
type AgentContext interface {
	LLM() LLM

	// Messages returns a snapshot of the agent's memory.
	Messages() []*types.Message
	AddMessage(msg *types.Message)

	// Emit pushes msg to the run's queue. It is a no-op for batch runs.
	Emit(msg *types.Message)

	ToolPrompt(name string) Prompt

	// CurrentToolCall is the call being executed.
	CurrentToolCall() types.ToolCall
	ToolChoice() types.ToolChoice

	// MarkFinished ends the run after the current step.
	MarkFinished()
}

// BaseToolSchema creates a common JSON schema structure for a tool
// with the given properties and required fields
func BaseToolSchema(properties map[string]any, required []string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if required == nil {
		required = []string{}
	}
	schema["required"] = required
	return schema
}

// DecodeArgs decodes tool arguments into out, matching on json tags.
func DecodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// FillPrompt substitutes {key} in template with value. Doubled braces are
// literal braces; any other placeholder is left untouched.
func FillPrompt(template, key, value string) string {
	return strings.NewReplacer("{{", "{", "}}", "}", "{"+key+"}", value).Replace(template)
}

// toolMessage records that the current call is being executed.
func toolMessage(agent AgentContext, content string) *types.Message {
	call := agent.CurrentToolCall()
	return types.NewToolMessage(content, call.Function.Name, call.ID)
}

// systemMessages wraps a configured system prompt, or returns nil.
func systemMessages(prompt string) []*types.Message {
	if prompt == "" {
		return nil
	}
	return []*types.Message{types.NewSystemMessage(prompt)}
}
