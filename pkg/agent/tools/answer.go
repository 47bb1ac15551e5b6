package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/llm/parser"
	"github.com/entrhq/conduit/pkg/types"
)

const answerToolName = "answer"

const answerStreamedResult = "Final answer has been successfully streamed to the user."

// AnswerTool streams a direct, unsourced answer to the user. It is used for
// conversational replies, final summaries and reporting failures.
type AnswerTool struct{}

// NewAnswerTool creates a new answer tool
func NewAnswerTool() *AnswerTool {
	return &AnswerTool{}
}

// Name returns the tool's identifier
func (t *AnswerTool) Name() string {
	return answerToolName
}

// Description returns a description of what this tool does
func (t *AnswerTool) Description() string {
	return "Deliver a direct text answer to the user without citing search results or external material. " +
		"Use this to respond to greetings and general conversation, to present the final conclusion " +
		"once all work is done, or to tell the user about the system state or a failed task."
}

// Schema returns the JSON schema for the tool's arguments
func (t *AnswerTool) Schema() map[string]any {
	return BaseToolSchema(
		map[string]any{
			"synthesis_brief": map[string]any{
				"type":        "string",
				"description": "The conclusion and key information synthesized by the planner. It must contain everything needed to write the final answer, including style instructions.",
			},
		},
		[]string{"synthesis_brief"},
	)
}

// Execute streams the answer and records it in memory.
func (t *AnswerTool) Execute(ctx context.Context, args map[string]any, agent AgentContext) (string, error) {
	var in struct {
		SynthesisBrief string `json:"synthesis_brief"`
	}
	if err := DecodeArgs(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", answerToolName, err)
	}

	agent.AddMessage(toolMessage(agent, "Executing answer tool to generate and stream the final response."))

	prompt := agent.ToolPrompt(answerToolName)
	if prompt.NextStepPrompt != "" {
		agent.AddMessage(types.NewUserMessage(FillPrompt(prompt.NextStepPrompt, "synthesis_brief", in.SynthesisBrief)))
	} else {
		toolsLog.Warnf("No next step prompt found for %s tool.", answerToolName)
	}
	if prompt.SystemPrompt == "" {
		toolsLog.Warnf("No system prompt found for %s tool.", answerToolName)
	}

	res := agent.LLM().AskStreaming(ctx, agent.Messages(), systemMessages(prompt.SystemPrompt))
	if !res.OK() {
		return streamingFailure(res.Error()), nil
	}
	text, _, err := relay(agent, res.Stream)
	if err != nil {
		return streamingFailure(err), nil
	}

	agent.AddMessage(types.NewAssistantMessage(text))
	agent.Emit(types.NewStateMessage(types.RoleAssistantFinished, text))
	return answerStreamedResult, nil
}

func streamingFailure(err error) string {
	msg := fmt.Sprintf("An error occurred during final answer streaming: %v", err)
	toolsLog.Errorf("%s", msg)
	return "Error: " + msg
}

// relay forwards every answer delta to the queue as a streaming message and
// returns the full answer text with any assembled tool calls. Reasoning
// blocks are logged, never emitted.
func relay(agent AgentContext, stream <-chan *llm.StreamChunk) (string, []types.ToolCall, error) {
	var text strings.Builder
	acc := llm.NewToolCallAccumulator()
	filter := parser.NewReasoningFilter()
	forward := func(reasoning, answer string) {
		if reasoning != "" {
			toolsLog.Debugf("Model reasoning: %s", reasoning)
		}
		if answer != "" {
			text.WriteString(answer)
			agent.Emit(types.NewStateMessage(types.RoleAssistantStreaming, answer))
		}
	}

	for chunk := range stream {
		if chunk.IsError() {
			for range stream {
			}
			forward(filter.Flush())
			return text.String(), acc.Calls(), chunk.Error
		}
		if chunk.Content != "" {
			forward(filter.Parse(chunk.Content))
		}
		acc.Add(chunk.ToolCalls...)
	}
	forward(filter.Flush())
	return text.String(), acc.Calls(), nil
}
