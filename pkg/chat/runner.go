package chat

import (
	"context"
	"fmt"

	"github.com/entrhq/conduit/pkg/agent"
	"github.com/entrhq/conduit/pkg/agent/tools"
	"github.com/entrhq/conduit/pkg/messaging"
	"github.com/entrhq/conduit/pkg/types"
)

// Runner executes one agent run over a conversation, writing its output to q.
type Runner interface {
	Run(ctx context.Context, history []*types.Message, q *messaging.Queue) error
}

// AgentRunner builds a fresh agent from a registry for every run.
type AgentRunner struct {
	registry *agent.Registry
	name     string
	llm      tools.LLM
	setup    agent.Setup
}

// NewAgentRunner creates a runner for the agent registered under name.
func NewAgentRunner(registry *agent.Registry, name string, llm tools.LLM, setup agent.Setup) *AgentRunner {
	return &AgentRunner{registry: registry, name: name, llm: llm, setup: setup}
}

// Run seeds the agent's memory from history and runs it streaming into q.
func (r *AgentRunner) Run(ctx context.Context, history []*types.Message, q *messaging.Queue) error {
	a, err := r.registry.Create(r.name, r.llm, r.setup)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	a.SetMessages(AgentMemory(history))
	return a.RunStreaming(ctx, q)
}

// AgentMemory converts session history to agent memory: user turns stay
// user messages, final answers become assistant messages, and empty or
// other messages are dropped.
func AgentMemory(history []*types.Message) []*types.Message {
	out := make([]*types.Message, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		switch m.EffectiveRole() {
		case types.RoleUser:
			out = append(out, types.NewUserMessage(m.Content, m.Images...))
		case types.RoleAssistantFinished:
			out = append(out, types.NewAssistantMessage(m.Content))
		}
	}
	return out
}
