package tools

import (
	"context"
	"fmt"
)

const terminateToolName = "terminate"

// TerminateTool is a special tool that ends the interaction when the request
// is met or the agent cannot make further progress.
type TerminateTool struct{}

// NewTerminateTool creates a new terminate tool
func NewTerminateTool() *TerminateTool {
	return &TerminateTool{}
}

// Name returns the tool's identifier
func (t *TerminateTool) Name() string {
	return terminateToolName
}

// Description returns a description of what this tool does
func (t *TerminateTool) Description() string {
	return "Terminate the interaction when the request is met OR if the assistant cannot proceed further with the task. " +
		"When you have finished all the tasks, call this tool to end the work."
}

// Schema returns the JSON schema for the tool's arguments
func (t *TerminateTool) Schema() map[string]any {
	return BaseToolSchema(
		map[string]any{
			"status": map[string]any{
				"type":        "string",
				"description": "The finish status of the interaction.",
				"enum":        []string{"success", "failure"},
			},
		},
		[]string{"status"},
	)
}

// Execute reports the final status.
func (t *TerminateTool) Execute(ctx context.Context, args map[string]any, agent AgentContext) (string, error) {
	var in struct {
		Status string `json:"status"`
	}
	if err := DecodeArgs(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", terminateToolName, err)
	}
	switch in.Status {
	case "success", "failure":
	default:
		return "", fmt.Errorf("status must be success or failure, got %q", in.Status)
	}

	toolsLog.Infof("Terminate tool executed with status: %s", in.Status)
	return fmt.Sprintf("The interaction has been completed with status: %s", in.Status), nil
}
