package tools

import (
	"context"

	"github.com/entrhq/conduit/pkg/types"
)

const answerWithCiteSourcesStreamingToolName = "answer_with_cite_sources_streaming"

// AnswerWithCiteSourcesStreamingTool streams the final answer token by token
// while the model reports its sources through the cite_sources tool.
type AnswerWithCiteSourcesStreamingTool struct {
	links   *LinkClassifier
	sources *Collection
}

// NewAnswerWithCiteSourcesStreamingTool creates a new streamed cited answer tool
func NewAnswerWithCiteSourcesStreamingTool() *AnswerWithCiteSourcesStreamingTool {
	return &AnswerWithCiteSourcesStreamingTool{
		links:   DocumentLinks,
		sources: NewCollection(NewCiteSourcesTool()),
	}
}

// Name returns the tool's identifier
func (t *AnswerWithCiteSourcesStreamingTool) Name() string {
	return answerWithCiteSourcesStreamingToolName
}

// Description returns a description of what this tool does
func (t *AnswerWithCiteSourcesStreamingTool) Description() string {
	return "Call this tool ONLY when you have gathered all necessary information and are ready to " +
		"provide the complete, final answer to the user. This signals the end of the reasoning process."
}

// Schema returns the JSON schema for the tool's arguments
func (t *AnswerWithCiteSourcesStreamingTool) Schema() map[string]any {
	return BaseToolSchema(nil, nil)
}

// Execute streams the answer, then emits a link for every cited source.
func (t *AnswerWithCiteSourcesStreamingTool) Execute(ctx context.Context, args map[string]any, agent AgentContext) (string, error) {
	agent.Emit(types.NewStateMessage(types.RoleAssistantRunning, writingAnswerProgress))
	agent.AddMessage(toolMessage(agent, "Executing FinalAnswerTool to generate and stream the final response."))

	prompt := agent.ToolPrompt(answerWithCiteSourcesStreamingToolName)
	if prompt.NextStepPrompt != "" {
		agent.AddMessage(types.NewUserMessage(prompt.NextStepPrompt))
	}
	if prompt.SystemPrompt == "" {
		toolsLog.Warnf("No system prompt found for %s tool.", answerWithCiteSourcesStreamingToolName)
	}

	res := agent.LLM().AskWithToolsStreaming(ctx, agent.Messages(), systemMessages(prompt.SystemPrompt),
		t.sources.Definitions(), agent.ToolChoice())
	if !res.OK() {
		return streamingFailure(res.Error()), nil
	}
	text, calls, err := relay(agent, res.Stream)
	if err != nil {
		return streamingFailure(err), nil
	}

	for _, call := range calls {
		if call.Function.Name != citeSourcesToolName {
			continue
		}
		links, err := t.links.SourceLinks(call.Function.Arguments)
		if err != nil {
			return streamingFailure(err), nil
		}
		for _, link := range links {
			agent.Emit(link)
		}
	}

	agent.MarkFinished()
	agent.AddMessage(types.NewAssistantMessage(text))
	agent.Emit(types.NewStateMessage(types.RoleAssistantFinished, text))
	return answerStreamedResult, nil
}
