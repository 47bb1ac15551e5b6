package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/entrhq/conduit/pkg/agent/tools"
	"github.com/entrhq/conduit/pkg/llm/adapter"
	"github.com/entrhq/conduit/pkg/types"
)

// ModelType selects how a ToolCaller asks the model for its next move.
type ModelType string

const (
	// ModelDefault asks in one batch call with the agent's tool choice.
	ModelDefault ModelType = "default"
	// ModelStreaming streams the decision and assembles tool-call deltas.
	ModelStreaming ModelType = "streaming"
	// ModelAgentic forces the model to call a tool.
	ModelAgentic ModelType = "agentic"
)

// ParseModelType maps configured names to a ModelType. Unknown names select
// ModelDefault.
func ParseModelType(s string) ModelType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agentic", "deep":
		return ModelAgentic
	case "streaming", "vanila", "vanilla":
		return ModelStreaming
	default:
		return ModelDefault
	}
}

// DefaultMaxObserve is the default cap on stored tool output, in characters.
const DefaultMaxObserve = 10000

// ErrToolCallsRequired is returned when the tool choice is required but the
// model produced no tool call.
var ErrToolCallsRequired = errors.New("tool calls required but none provided")

// ToolCaller is the Strategy that lets the model choose tools through native
// tool calls and executes every call it returns.
type ToolCaller struct {
	modelType  ModelType
	maxObserve int
	phrases    Phrases
	pick       func(n int) int

	pending []types.ToolCall
}

// ToolCallerOption configures a ToolCaller.
type ToolCallerOption func(*ToolCaller)

// WithModelType sets how decisions are requested.
func WithModelType(m ModelType) ToolCallerOption {
	return func(tc *ToolCaller) {
		tc.modelType = m
	}
}

// WithMaxObserve caps stored tool output. Zero or less disables the cap.
func WithMaxObserve(n int) ToolCallerOption {
	return func(tc *ToolCaller) {
		tc.maxObserve = n
	}
}

// WithPhrases enables progress messages.
func WithPhrases(p Phrases) ToolCallerOption {
	return func(tc *ToolCaller) {
		tc.phrases = p
	}
}

// WithPicker replaces the random phrase picker. pick must return a value in
// [0, n).
func WithPicker(pick func(n int) int) ToolCallerOption {
	return func(tc *ToolCaller) {
		tc.pick = pick
	}
}

// NewToolCaller creates a tool-calling strategy. Progress phrases are off
// unless WithPhrases is given.
func NewToolCaller(opts ...ToolCallerOption) *ToolCaller {
	tc := &ToolCaller{
		modelType:  ModelDefault,
		maxObserve: DefaultMaxObserve,
		pick:       rand.IntN,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// ModelType returns the configured model type.
func (tc *ToolCaller) ModelType() ModelType { return tc.modelType }

// Think asks the model for the next move and records its reply in memory.
func (tc *ToolCaller) Think(ctx context.Context, a *Agent) (bool, error) {
	tc.pending = nil
	if a.nextStepPrompt != "" {
		a.AddMessage(types.NewUserMessage(a.nextStepPrompt))
	}
	tc.progress(a, tc.phrases.Thinking)

	choice := a.toolChoice
	if tc.modelType == ModelAgentic {
		choice = types.ToolChoiceRequired
	}

	content, calls, res := tc.ask(ctx, a, choice)
	switch res.Status {
	case adapter.StatusRejected:
		a.log.Errorf("Token budget exceeded: %s", res.Reason)
		msg := fmt.Sprintf("Maximum token limit reached, cannot continue execution: %s", res.Reason)
		a.AddMessage(types.NewAssistantMessage(msg))
		a.Emit(types.NewStateMessage(types.RoleAssistantFinished, msg))
		a.MarkFinished()
		return false, nil
	case adapter.StatusFailed:
		return false, fmt.Errorf("failed to think: %w", res.Error())
	}

	a.log.Infof("%s's thoughts: %s", a.name, truncate(content, 200))
	a.log.Infof("%s selected %d tools to use", a.name, len(calls))
	for _, c := range calls {
		a.log.Debugf("Tool %s arguments: %s", c.Function.Name, c.Function.Arguments)
	}

	if choice == types.ToolChoiceNone {
		if len(calls) > 0 {
			a.log.Warnf("%s tried to use tools when they weren't available", a.name)
		}
		if content != "" {
			a.AddMessage(types.NewAssistantMessage(content))
			return true, nil
		}
		return false, nil
	}

	tc.pending = calls
	if len(calls) > 0 {
		a.AddMessage(types.NewToolCallsMessage(content, calls))
	} else {
		a.AddMessage(types.NewAssistantMessage(content))
	}

	if choice == types.ToolChoiceRequired && len(calls) == 0 {
		// Act reports the violation
		return true, nil
	}
	if choice == types.ToolChoiceAuto && len(calls) == 0 {
		return content != "", nil
	}
	return len(calls) > 0, nil
}

func (tc *ToolCaller) ask(ctx context.Context, a *Agent, choice types.ToolChoice) (string, []types.ToolCall, adapter.Result) {
	var system []*types.Message
	if a.systemPrompt != "" {
		system = []*types.Message{types.NewSystemMessage(a.systemPrompt)}
	}
	defs := a.tools.Definitions()

	if tc.modelType == ModelStreaming {
		res := a.llm.AskWithToolsStreaming(ctx, a.Messages(), system, defs, choice)
		if !res.OK() {
			return "", nil, res
		}
		content, calls, err := adapter.Collect(res.Stream)
		if err != nil {
			return "", nil, adapter.Result{Status: adapter.StatusFailed, Reason: err.Error(), Err: err}
		}
		return content, calls, res
	}

	res := a.llm.AskWithTools(ctx, a.Messages(), system, defs, choice)
	if !res.OK() {
		return "", nil, res
	}
	return res.Message.Content, res.Message.ToolCalls, res
}

// Act executes every pending tool call and stores each observation in
// memory.
func (tc *ToolCaller) Act(ctx context.Context, a *Agent) (string, error) {
	if len(tc.pending) == 0 {
		if a.toolChoice == types.ToolChoiceRequired || tc.modelType == ModelAgentic {
			return "", ErrToolCallsRequired
		}
		msgs := a.Messages()
		if len(msgs) > 0 && msgs[len(msgs)-1].Content != "" {
			return msgs[len(msgs)-1].Content, nil
		}
		return "No content or commands to execute", nil
	}

	calls := tc.pending
	tc.pending = nil

	results := make([]string, 0, len(calls))
	for _, call := range calls {
		a.currentCall = call
		tc.progress(a, tc.phrasesFor(call.Function.Name))

		result := tc.execute(ctx, a, call)
		if tc.maxObserve > 0 {
			result = truncateRunes(result, tc.maxObserve)
		}
		a.log.Infof("Tool '%s' completed its mission! Result: %s", call.Function.Name, truncate(result, 200))

		a.AddMessage(types.NewToolMessage(result, call.Function.Name, call.ID))
		results = append(results, result)
	}
	a.currentCall = types.ToolCall{}
	return strings.Join(results, "\n\n"), nil
}

// execute runs one call and formats its observation. Failures become
// observation text.
func (tc *ToolCaller) execute(ctx context.Context, a *Agent, call types.ToolCall) string {
	name := call.Function.Name
	if name == "" {
		return "Error: Invalid command format"
	}

	a.log.Infof("Activating tool: '%s'...", name)
	result, err := a.tools.Execute(ctx, call, a)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	case errors.Is(err, tools.ErrInvalidArguments):
		a.log.Errorf("Invalid JSON arguments for '%s': %s", name, call.Function.Arguments)
		return fmt.Sprintf("Error: Error parsing arguments for %s: Invalid JSON format", name)
	case err != nil:
		msg := fmt.Sprintf("⚠️ Tool '%s' encountered a problem: %v", name, err)
		a.log.Errorf("%s", msg)
		return "Error: " + msg
	}

	if a.tools.ShouldFinish(name, result, a) {
		a.log.Infof("Special tool '%s' has completed the task!", name)
		a.MarkFinished()
	}

	if result == "" {
		return fmt.Sprintf("Cmd `%s` completed with no output", name)
	}
	return fmt.Sprintf("Observed output of cmd `%s` executed:\n%s", name, result)
}

func (tc *ToolCaller) phrasesFor(toolName string) []string {
	switch {
	case tools.RetrievalLinks.Classify(toolName) == types.RoleDocLink:
		return tc.phrases.RAG
	case strings.Contains(toolName, "web_search"):
		return tc.phrases.WebSearch
	default:
		return nil
	}
}

func (tc *ToolCaller) progress(a *Agent, phrases []string) {
	if len(phrases) == 0 {
		return
	}
	a.Emit(types.NewStateMessage(types.RoleAssistantRunning, phrases[tc.pick(len(phrases))]))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
