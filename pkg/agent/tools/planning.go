package tools

import (
	"context"
	"fmt"

	"github.com/entrhq/conduit/pkg/types"
)

const planningToolName = "planning"

// PlanningTool asks the model for a structured plan of the next actions. The
// plan is reported as progress and returned as the observation; memory only
// receives it through the caller.
type PlanningTool struct{}

// NewPlanningTool creates a new planning tool
func NewPlanningTool() *PlanningTool {
	return &PlanningTool{}
}

// Name returns the tool's identifier
func (t *PlanningTool) Name() string {
	return planningToolName
}

// Description returns a description of what this tool does
func (t *PlanningTool) Description() string {
	return "Call this when the request is ambiguous, needs several steps, or calls for strategic analysis. " +
		"Planning first is the safest default whenever possible."
}

// Schema returns the JSON schema for the tool's arguments
func (t *PlanningTool) Schema() map[string]any {
	return BaseToolSchema(
		map[string]any{
			"context_or_query": map[string]any{
				"type":        "string",
				"description": "The user's latest query and any relevant context for planning.",
			},
		},
		[]string{"context_or_query"},
	)
}

// Execute builds a planning request on top of the current conversation.
func (t *PlanningTool) Execute(ctx context.Context, args map[string]any, agent AgentContext) (string, error) {
	var in struct {
		ContextOrQuery string `json:"context_or_query"`
	}
	if err := DecodeArgs(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", planningToolName, err)
	}

	messages := append(agent.Messages(),
		toolMessage(agent, "Executing planning tool to create a structured plan for the next action."))

	prompt := agent.ToolPrompt(planningToolName)
	if prompt.NextStepPrompt != "" {
		messages = append(messages, types.NewUserMessage(FillPrompt(prompt.NextStepPrompt, "context_or_query", in.ContextOrQuery)))
	} else {
		toolsLog.Warnf("No next step prompt found for %s tool.", planningToolName)
		messages = append(messages, types.NewUserMessage(in.ContextOrQuery))
	}
	if prompt.SystemPrompt == "" {
		toolsLog.Warnf("No system prompt found for %s tool.", planningToolName)
	}

	res := agent.LLM().Ask(ctx, messages, systemMessages(prompt.SystemPrompt))
	if !res.OK() {
		return fmt.Sprintf("Error: An error occurred during planning: %v", res.Error()), nil
	}
	plan := res.Message.Content

	agent.Emit(types.NewStateMessage(types.RoleAssistantRunning, plan))
	return plan, nil
}
