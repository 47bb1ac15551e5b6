package tools

import (
	"context"
	"fmt"

	"github.com/entrhq/conduit/pkg/types"
)

const askHumanToolName = "ask_human"

// AskHumanTool is a special tool that hands a clarifying question back to
// the user when information is missing or the request is ambiguous.
type AskHumanTool struct{}

// NewAskHumanTool creates a new ask human tool
func NewAskHumanTool() *AskHumanTool {
	return &AskHumanTool{}
}

// Name returns the tool's identifier
func (t *AskHumanTool) Name() string {
	return askHumanToolName
}

// Description returns a description of what this tool does
func (t *AskHumanTool) Description() string {
	return "Ask the user for more information or to resolve an ambiguity before continuing. " +
		"Use this when information required for planning or tool use is missing, when the request " +
		"can be read in several ways, or to confirm an irreversible action before performing it."
}

// Schema returns the JSON schema for the tool's arguments
func (t *AskHumanTool) Schema() map[string]any {
	return BaseToolSchema(
		map[string]any{
			"question_to_ask": map[string]any{
				"type":        "string",
				"description": "The specific, clear, and concise question to ask the user. The question should be phrased to elicit the exact information needed.",
			},
		},
		[]string{"question_to_ask"},
	)
}

// Execute pushes the question to the user as a finished answer.
func (t *AskHumanTool) Execute(ctx context.Context, args map[string]any, agent AgentContext) (string, error) {
	var in struct {
		QuestionToAsk string `json:"question_to_ask"`
	}
	if err := DecodeArgs(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", askHumanToolName, err)
	}
	if in.QuestionToAsk == "" {
		return "", fmt.Errorf("question_to_ask cannot be empty")
	}

	agent.Emit(types.NewStateMessage(types.RoleAssistantFinished, in.QuestionToAsk))
	return fmt.Sprintf("Asked the user: %s", in.QuestionToAsk), nil
}
