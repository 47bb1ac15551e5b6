package types

// AgentState is the lifecycle state of an agent.
type AgentState string

const (
	AgentStateIdle     AgentState = "idle"
	AgentStateRunning  AgentState = "assistant_running"
	AgentStateFinished AgentState = "assistant_finished"
	AgentStateError    AgentState = "error"
)

// ToolChoice controls whether a completion may, must, or must not call tools.
type ToolChoice string

const (
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
)

// Valid reports whether c is a known tool choice.
func (c ToolChoice) Valid() bool {
	switch c {
	case ToolChoiceNone, ToolChoiceAuto, ToolChoiceRequired:
		return true
	}
	return false
}
