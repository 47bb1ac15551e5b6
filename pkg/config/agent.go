package config

import (
	"fmt"
	"sync"

	"github.com/entrhq/conduit/pkg/agent"
)

const (
	// SectionIDAgent is the identifier for the agent limits section
	SectionIDAgent = "agent"
)

// AgentSection holds installation-wide agent limits. A setup file's own
// limits take precedence; zero means "not set".
type AgentSection struct {
	MaxSteps           int
	DuplicateThreshold int
	MaxMessages        int
	MaxObserve         int
	mu                 sync.RWMutex
}

type agentData struct {
	MaxSteps           *int `mapstructure:"max_steps"`
	DuplicateThreshold *int `mapstructure:"duplicate_threshold"`
	MaxMessages        *int `mapstructure:"max_messages"`
	MaxObserve         *int `mapstructure:"max_observe"`
}

// NewAgentSection creates an agent section with no overrides.
func NewAgentSection() *AgentSection {
	return &AgentSection{}
}

// ID returns the section identifier.
func (s *AgentSection) ID() string {
	return SectionIDAgent
}

// Title returns the section title.
func (s *AgentSection) Title() string {
	return "Agent Limits"
}

// Description returns the section description.
func (s *AgentSection) Description() string {
	return "Default step cap, stuck threshold, memory size and tool output cap for agents whose setup leaves them unset."
}

// Data returns the current configuration data.
func (s *AgentSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"max_steps":           s.MaxSteps,
		"duplicate_threshold": s.DuplicateThreshold,
		"max_messages":        s.MaxMessages,
		"max_observe":         s.MaxObserve,
	}
}

// SetData updates the configuration from the provided data.
func (s *AgentSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	var in agentData
	if err := decodeSection(data, &in); err != nil {
		return fmt.Errorf("invalid %s settings: %w", SectionIDAgent, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	setIf(&s.MaxSteps, in.MaxSteps)
	setIf(&s.DuplicateThreshold, in.DuplicateThreshold)
	setIf(&s.MaxMessages, in.MaxMessages)
	setIf(&s.MaxObserve, in.MaxObserve)
	return nil
}

// Validate validates the current configuration.
func (s *AgentSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.MaxSteps < 0 || s.DuplicateThreshold < 0 || s.MaxMessages < 0 {
		return fmt.Errorf("agent limits must not be negative")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *AgentSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MaxSteps = 0
	s.DuplicateThreshold = 0
	s.MaxMessages = 0
	s.MaxObserve = 0
}

// ApplyDefaults fills the limits setup leaves at zero.
func (s *AgentSection) ApplyDefaults(setup *agent.Setup) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if setup.MaxSteps == 0 {
		setup.MaxSteps = s.MaxSteps
	}
	if setup.DuplicateThreshold == 0 {
		setup.DuplicateThreshold = s.DuplicateThreshold
	}
	if setup.MaxMessages == 0 {
		setup.MaxMessages = s.MaxMessages
	}
	if setup.MaxObserve == 0 {
		setup.MaxObserve = s.MaxObserve
	}
}
