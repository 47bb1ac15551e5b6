package agent

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/entrhq/conduit/pkg/agent/tools"
	"github.com/entrhq/conduit/pkg/types"
)

// ErrUnknownAgent is returned when no factory is registered under a name.
var ErrUnknownAgent = errors.New("unknown agent")

// Prompts is the prompt set of an agent setup.
type Prompts struct {
	SystemPrompt   string                  `yaml:"system_prompt" json:"system_prompt"`
	NextStepPrompt string                  `yaml:"next_step_prompt" json:"next_step_prompt"`
	ToolPrompts    map[string]tools.Prompt `yaml:"tool_prompts" json:"tool_prompts"`
}

// Setup describes how to build an agent: its tools, prompts and limits.
// Zero limits select the package defaults.
type Setup struct {
	Name               string           `yaml:"name" json:"name"`
	Description        string           `yaml:"description" json:"description"`
	ModelType          string           `yaml:"model_type" json:"model_type"`
	ToolChoice         types.ToolChoice `yaml:"tool_choice" json:"tool_choice"`
	ToolList           []tools.Spec     `yaml:"tool_list" json:"tool_list"`
	Prompts            Prompts          `yaml:"prompt_dict" json:"prompt_dict"`
	MaxSteps           int              `yaml:"max_steps" json:"max_steps"`
	DuplicateThreshold int              `yaml:"duplicate_threshold" json:"duplicate_threshold"`
	MaxMessages        int              `yaml:"max_messages" json:"max_messages"`
	MaxObserve         int              `yaml:"max_observe" json:"max_observe"`
	Progress           bool             `yaml:"progress" json:"progress"`
}

// Factory builds an agent from a setup.
type Factory func(llm tools.LLM, setup Setup) (*Agent, error)

// Registry maps agent names to factories. It is built at startup and
// injected wherever agents are created.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any earlier one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Create builds the agent registered under name.
func (r *Registry) Create(name string, llm tools.LLM, setup Setup) (*Agent, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownAgent, name)
	}
	return f(llm, setup)
}

// DefaultRegistry registers the tool-calling agent under "toolcall" and
// "research"; the latter streams progress phrases regardless of the setup.
func DefaultRegistry(toolRegistry *tools.Registry) *Registry {
	r := NewRegistry()
	r.Register("toolcall", func(llm tools.LLM, setup Setup) (*Agent, error) {
		return NewToolCallAgent(llm, toolRegistry, setup)
	})
	r.Register("research", func(llm tools.LLM, setup Setup) (*Agent, error) {
		setup.Progress = true
		return NewToolCallAgent(llm, toolRegistry, setup)
	})
	return r
}

// NewToolCallAgent builds an agent driven by a ToolCaller, with its tools
// resolved from toolRegistry.
func NewToolCallAgent(llm tools.LLM, toolRegistry *tools.Registry, setup Setup) (*Agent, error) {
	collection, err := toolRegistry.Build(setup.ToolList)
	if err != nil {
		return nil, err
	}

	choice := setup.ToolChoice
	if choice == "" {
		choice = types.ToolChoiceAuto
	}
	if !choice.Valid() {
		return nil, fmt.Errorf("invalid tool choice %q", choice)
	}

	callerOpts := []ToolCallerOption{WithModelType(ParseModelType(setup.ModelType))}
	if setup.MaxObserve != 0 {
		callerOpts = append(callerOpts, WithMaxObserve(setup.MaxObserve))
	}
	if setup.Progress {
		callerOpts = append(callerOpts, WithPhrases(DefaultPhrases()))
	}

	toolPrompts := setup.Prompts.ToolPrompts
	if toolPrompts == nil {
		toolPrompts = map[string]tools.Prompt{}
	}

	a := New(llm, NewToolCaller(callerOpts...),
		WithName(setup.Name),
		WithDescription(setup.Description),
		WithMaxSteps(setup.MaxSteps),
		WithDuplicateThreshold(setup.DuplicateThreshold),
		WithMaxMessages(setup.MaxMessages),
		WithSystemPrompt(setup.Prompts.SystemPrompt),
		WithNextStepPrompt(setup.Prompts.NextStepPrompt),
		WithToolPrompts(toolPrompts),
		WithTools(collection),
		WithToolChoice(choice),
	)
	agentDebugLog.Infof("Created agent %q with tools %v (special: %v), model type %s",
		setup.Name, collection.Names(), collection.SpecialNames(), ParseModelType(setup.ModelType))
	return a, nil
}
