package main

import (
	"github.com/entrhq/conduit/pkg/agent"
	"github.com/entrhq/conduit/pkg/agent/tools"
)

const defaultSystemPrompt = `You are Conduit, an assistant that answers questions by choosing tools.

Work in short steps. Use planning when a question needs several steps. Use
answer once you can reply. Use ask_human when the question is ambiguous and
you cannot proceed without clarification. Use terminate if the request cannot
be completed.`

const defaultNextStepPrompt = `Based on the conversation so far, select the most appropriate tool for the next step.`

// defaultSetup is used when no agent setup file is given.
func defaultSetup() agent.Setup {
	return agent.Setup{
		Name:        "conduit",
		Description: "General purpose tool-calling assistant",
		ModelType:   string(agent.ModelStreaming),
		ToolList:    tools.SpecsFor("planning", "answer", "ask_human", "terminate"),
		Prompts: agent.Prompts{
			SystemPrompt:   defaultSystemPrompt,
			NextStepPrompt: defaultNextStepPrompt,
		},
	}
}
