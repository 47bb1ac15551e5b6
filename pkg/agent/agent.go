// Package agent runs the reason-then-act loop that drives a conduit session.
//
// An Agent holds the run's data: lifecycle state, step counter, bounded
// memory, tool collection and prompts. What a step actually does is decided
// by its Strategy; ToolCaller is the strategy that lets the model pick tools
// through native tool calls.
//
//	ag, err := agent.NewToolCallAgent(llm, tools.DefaultRegistry(), setup)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = ag.RunStreaming(ctx, queue)
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/conduit/pkg/agent/memory"
	"github.com/entrhq/conduit/pkg/agent/tools"
	"github.com/entrhq/conduit/pkg/logging"
	"github.com/entrhq/conduit/pkg/messaging"
	"github.com/entrhq/conduit/pkg/types"
)

var agentDebugLog *logging.Logger

func init() {
	var err error
	agentDebugLog, err = logging.NewLogger("agent")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		agentDebugLog.Warnf("Failed to initialize agent logger, using stderr fallback: %v", err)
	}
}

const (
	DefaultMaxSteps           = 10
	DefaultDuplicateThreshold = 2
)

// ErrInvalidState is returned when a run is started on an agent that is not
// idle.
var ErrInvalidState = errors.New("agent can only run from the idle state")

// Strategy is the behaviour of a concrete agent. Think decides whether the
// step needs an action; Act performs it and summarises the outcome.
type Strategy interface {
	Think(ctx context.Context, a *Agent) (bool, error)
	Act(ctx context.Context, a *Agent) (string, error)
}

// Agent is the stateful unit executing the think-act loop. An Agent runs one
// loop at a time.
type Agent struct {
	name        string
	description string

	stateMu sync.RWMutex
	state   types.AgentState

	currentStep        int
	maxSteps           int
	duplicateThreshold int

	systemPrompt   string
	nextStepPrompt string
	toolPrompts    map[string]tools.Prompt
	toolChoice     types.ToolChoice

	llm      tools.LLM
	memory   *memory.ConversationMemory
	tools    *tools.Collection
	strategy Strategy

	queue       *messaging.Queue
	currentCall types.ToolCall
	log         *logging.Logger
}

// AgentOption is a function that configures an agent
type AgentOption func(*Agent)

// WithName sets the agent's name
func WithName(name string) AgentOption {
	return func(a *Agent) {
		a.name = name
	}
}

// WithDescription sets the agent's description
func WithDescription(description string) AgentOption {
	return func(a *Agent) {
		a.description = description
	}
}

// WithMaxSteps sets the step cap of a run
func WithMaxSteps(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithDuplicateThreshold sets how many repeated assistant replies count as
// stuck
func WithDuplicateThreshold(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.duplicateThreshold = n
		}
	}
}

// WithMaxMessages sets the memory capacity
func WithMaxMessages(n int) AgentOption {
	return func(a *Agent) {
		a.memory = memory.NewConversationMemory(n)
	}
}

// WithSystemPrompt sets the system prompt used when thinking
func WithSystemPrompt(prompt string) AgentOption {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithNextStepPrompt sets the prompt appended before each think
func WithNextStepPrompt(prompt string) AgentOption {
	return func(a *Agent) {
		a.nextStepPrompt = prompt
	}
}

// WithToolPrompts sets the per-tool prompts
func WithToolPrompts(prompts map[string]tools.Prompt) AgentOption {
	return func(a *Agent) {
		a.toolPrompts = prompts
	}
}

// WithTools sets the tool collection
func WithTools(c *tools.Collection) AgentOption {
	return func(a *Agent) {
		a.tools = c
	}
}

// WithToolChoice sets the tool choice sent with tool-enabled requests
func WithToolChoice(choice types.ToolChoice) AgentOption {
	return func(a *Agent) {
		a.toolChoice = choice
	}
}

// WithLogger replaces the package logger
func WithLogger(l *logging.Logger) AgentOption {
	return func(a *Agent) {
		a.log = l
	}
}

// New creates an idle agent. A nil strategy selects a default ToolCaller.
func New(llm tools.LLM, strategy Strategy, opts ...AgentOption) *Agent {
	if strategy == nil {
		strategy = NewToolCaller()
	}
	a := &Agent{
		state:              types.AgentStateIdle,
		maxSteps:           DefaultMaxSteps,
		duplicateThreshold: DefaultDuplicateThreshold,
		toolPrompts:        map[string]tools.Prompt{},
		toolChoice:         types.ToolChoiceAuto,
		llm:                llm,
		memory:             memory.NewConversationMemory(0),
		tools:              tools.NewCollection(),
		strategy:           strategy,
		log:                agentDebugLog,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// State returns the current lifecycle state.
func (a *Agent) State() types.AgentState {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

func (a *Agent) setState(s types.AgentState) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.state = s
}

// CurrentStep returns the step counter.
func (a *Agent) CurrentStep() int { return a.currentStep }

// MaxSteps returns the step cap.
func (a *Agent) MaxSteps() int { return a.maxSteps }

// SystemPrompt returns the agent's system prompt.
func (a *Agent) SystemPrompt() string { return a.systemPrompt }

// NextStepPrompt returns the prompt appended before each think.
func (a *Agent) NextStepPrompt() string { return a.nextStepPrompt }

// Tools returns the agent's tool collection.
func (a *Agent) Tools() *tools.Collection { return a.tools }

// Memory returns the agent's memory.
func (a *Agent) Memory() *memory.ConversationMemory { return a.memory }

// Messages returns a snapshot of memory.
func (a *Agent) Messages() []*types.Message {
	return a.memory.GetAll()
}

// SetMessages replaces memory with msgs, keeping the newest if they exceed
// its capacity.
func (a *Agent) SetMessages(msgs []*types.Message) {
	a.memory.Set(msgs)
}

// MemoryExtra carries the optional fields of UpdateMemory.
type MemoryExtra struct {
	Name       string
	ToolCallID string
	Images     []types.Image
}

// UpdateMemory appends a conversational message built from role and content.
func (a *Agent) UpdateMemory(role types.Role, content string, extra ...MemoryExtra) error {
	var x MemoryExtra
	if len(extra) > 0 {
		x = extra[0]
	}

	var msg *types.Message
	switch role {
	case types.RoleUser:
		msg = types.NewUserMessage(content, x.Images...)
	case types.RoleSystem:
		msg = types.NewSystemMessage(content)
	case types.RoleAssistant:
		msg = types.NewAssistantMessage(content)
	case types.RoleTool:
		msg = types.NewToolMessage(content, x.Name, x.ToolCallID)
	default:
		return fmt.Errorf("unsupported message role: %s", role)
	}
	if role != types.RoleUser && len(x.Images) > 0 {
		msg.Images = x.Images
	}

	a.memory.Add(msg)
	a.log.Debugf("Added %s message to memory: %s", msg.Role, truncate(content, 50))
	return nil
}

// Cleanup clears memory and the step counter after a streaming run.
func (a *Agent) Cleanup() {
	a.memory.Clear()
	a.currentStep = 0
}

// LLM implements tools.AgentContext.
func (a *Agent) LLM() tools.LLM { return a.llm }

// AddMessage implements tools.AgentContext.
func (a *Agent) AddMessage(msg *types.Message) { a.memory.Add(msg) }

// Emit pushes msg to the queue of the current streaming run.
func (a *Agent) Emit(msg *types.Message) {
	if a.queue == nil {
		return
	}
	if err := a.queue.Put(msg); err != nil {
		a.log.Warnf("Dropping %s message: %v", msg.EffectiveRole(), err)
	}
}

// ToolPrompt implements tools.AgentContext.
func (a *Agent) ToolPrompt(name string) tools.Prompt { return a.toolPrompts[name] }

// CurrentToolCall implements tools.AgentContext.
func (a *Agent) CurrentToolCall() types.ToolCall { return a.currentCall }

// ToolChoice implements tools.AgentContext.
func (a *Agent) ToolChoice() types.ToolChoice { return a.toolChoice }

// MarkFinished implements tools.AgentContext.
func (a *Agent) MarkFinished() { a.setState(types.AgentStateFinished) }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
