package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

const citeSourcesToolName = "cite_sources"

// Source is one cited source.
type Source struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	ToolName string `json:"tool_name"`
	Title    string `json:"title"`
}

// CiteSourcesTool carries structured citation data. Its arguments are read
// straight from the streamed tool call; Execute only echoes them back.
type CiteSourcesTool struct{}

// NewCiteSourcesTool creates a new cite sources tool
func NewCiteSourcesTool() *CiteSourcesTool {
	return &CiteSourcesTool{}
}

// Name returns the tool's identifier
func (t *CiteSourcesTool) Name() string {
	return citeSourcesToolName
}

// Description returns a description of what this tool does
func (t *CiteSourcesTool) Description() string {
	return "Use this tool to provide structured citation data for the information presented in the answer. " +
		"This tool should be called AFTER the main text content has been fully generated. " +
		"Do not write sources as plain text in the answer."
}

// Schema returns the JSON schema for the tool's arguments
func (t *CiteSourcesTool) Schema() map[string]any {
	return BaseToolSchema(
		map[string]any{
			"sources": map[string]any{
				"type":        "array",
				"description": "A list of source objects used to generate the answer.",
				"items": BaseToolSchema(
					map[string]any{
						"id": map[string]any{
							"type":        "integer",
							"description": "The corresponding numerical marker in the text (e.g., 1, 2, 3).",
						},
						"url": map[string]any{
							"type":        "string",
							"description": "The URL of the source page or document.",
						},
						"tool_name": map[string]any{
							"type":        "string",
							"description": "retrieve_documents or web_search",
						},
						"title": map[string]any{
							"type":        "string",
							"description": "The title of the source. if tool_name is retrieve_documents, it is the title of the document + page number",
						},
					},
					[]string{"id", "url", "tool_name", "title"},
				),
			},
		},
		[]string{"sources"},
	)
}

// Execute returns the sources as JSON.
func (t *CiteSourcesTool) Execute(ctx context.Context, args map[string]any, agent AgentContext) (string, error) {
	var in struct {
		Sources []Source `json:"sources"`
	}
	if err := DecodeArgs(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", citeSourcesToolName, err)
	}
	if in.Sources == nil {
		in.Sources = []Source{}
	}
	out, err := json.Marshal(in.Sources)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
