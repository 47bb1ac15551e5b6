package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/entrhq/conduit/pkg/types"
)

const (
	answerWithCiteSourcesToolName = "answer_with_cite_sources"

	// sourcesMarker separates the answer from its trailing source block.
	sourcesMarker = "---"

	// streamedWords is how many leading words are pushed one at a time.
	streamedWords = 10

	writingAnswerProgress = "I've gathered the key pieces of information. Now, I'm structuring and writing the final answer for you... ✨"
)

var jsonFence = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")

// AnswerWithCiteSourcesTool writes the final answer from gathered search
// results in one completion, then streams it along with one link message per
// cited source.
type AnswerWithCiteSourcesTool struct {
	links *LinkClassifier
}

// NewAnswerWithCiteSourcesTool creates a new cited answer tool
func NewAnswerWithCiteSourcesTool() *AnswerWithCiteSourcesTool {
	return &AnswerWithCiteSourcesTool{links: RetrievalLinks}
}

// Name returns the tool's identifier
func (t *AnswerWithCiteSourcesTool) Name() string {
	return answerWithCiteSourcesToolName
}

// Description returns a description of what this tool does
func (t *AnswerWithCiteSourcesTool) Description() string {
	return "Previously gathered search results (`retrieve`, `web_search`) are synthesized to generate the final answer with source citations like [1], [2]. " +
		"**WHEN TO USE:** Call this tool ONLY when: " +
		"1. You have already successfully called `retrieve` or `web_search`. " +
		"2. You have evaluated the search results and have confirmed they are SUFFICIENT and RELEVANT to the user's question. " +
		"**WHEN NOT TO USE:** Do NOT call this if no search was performed or if the search results were insufficient. " +
		"In those cases, use the `answer` tool instead to ask the user for clarification."
}

// Schema returns the JSON schema for the tool's arguments
func (t *AnswerWithCiteSourcesTool) Schema() map[string]any {
	return BaseToolSchema(nil, nil)
}

// Execute asks for the answer, strips the source block and streams the rest.
func (t *AnswerWithCiteSourcesTool) Execute(ctx context.Context, args map[string]any, agent AgentContext) (string, error) {
	agent.Emit(types.NewStateMessage(types.RoleAssistantRunning, writingAnswerProgress))
	agent.AddMessage(toolMessage(agent, "Executing answer_with_cite_sources to generate and stream the final response."))

	prompt := agent.ToolPrompt(answerWithCiteSourcesToolName)
	if prompt.NextStepPrompt != "" {
		agent.AddMessage(types.NewUserMessage(prompt.NextStepPrompt))
	} else {
		toolsLog.Warnf("No next step prompt found for %s tool.", answerWithCiteSourcesToolName)
	}
	if prompt.SystemPrompt == "" {
		toolsLog.Warnf("No system prompt found for %s tool.", answerWithCiteSourcesToolName)
	}

	res := agent.LLM().Ask(ctx, agent.Messages(), systemMessages(prompt.SystemPrompt))
	if !res.OK() {
		return "", fmt.Errorf("failed to generate cited answer: %w", res.Error())
	}
	answer := res.Message.Content

	visible, links := t.split(answer)
	for _, part := range chunkWords(visible) {
		agent.Emit(types.NewStateMessage(types.RoleAssistantStreaming, part))
	}
	for _, link := range links {
		agent.Emit(link)
	}

	// memory keeps the source block
	agent.AddMessage(types.NewAssistantMessage(answer))
	agent.Emit(types.NewStateMessage(types.RoleAssistantFinished, visible))
	return answerStreamedResult, nil
}

// split separates the user-facing answer from the source links that follow
// the marker. A source block that cannot be parsed yields no links.
func (t *AnswerWithCiteSourcesTool) split(answer string) (string, []*types.Message) {
	head, tail, found := strings.Cut(answer, sourcesMarker)
	if !found {
		return answer, nil
	}
	visible := strings.TrimSpace(head)

	block := strings.TrimSpace(tail)
	if m := jsonFence.FindStringSubmatch(block); m != nil {
		block = strings.TrimSpace(m[1])
	}
	if block == "" {
		return visible, nil
	}

	links, err := t.links.SourceLinks(block)
	if err != nil {
		toolsLog.Warnf("[%s] Failed to parse sources: %v", answerWithCiteSourcesToolName, err)
		return visible, nil
	}
	toolsLog.Infof("[%s] Parsed %d sources", answerWithCiteSourcesToolName, len(links))
	return visible, links
}

// chunkWords yields the first words one by one, each followed by a space,
// then the remainder in a single piece.
func chunkWords(text string) []string {
	words := strings.Split(text, " ")
	n := min(streamedWords, len(words))

	parts := make([]string, 0, n+1)
	for _, w := range words[:n] {
		parts = append(parts, w+" ")
	}
	if len(words) > n {
		parts = append(parts, strings.Join(words[n:], " "))
	}
	return parts
}
