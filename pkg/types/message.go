package types

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message, or for transport messages, what
// stage of a run the message reports.
type Role string

const (
	RoleSystem             Role = "system"              // RoleSystem is a system prompt message.
	RoleUser               Role = "user"                // RoleUser is a message written by the end user.
	RoleAssistant          Role = "assistant"           // RoleAssistant is a message produced by the model.
	RoleTool               Role = "tool"                // RoleTool carries the output of a tool call.
	RoleAssistantRunning   Role = "assistant_running"   // RoleAssistantRunning reports progress while the agent works.
	RoleAssistantStreaming Role = "assistant_streaming" // RoleAssistantStreaming is one incremental piece of an answer.
	RoleAssistantFinished  Role = "assistant_finished"  // RoleAssistantFinished is the complete final answer.
	RoleStop               Role = "stop"                // RoleStop terminates a message stream.
	RoleError              Role = "error"               // RoleError carries a structured error event.
	RoleDocLink            Role = "doc_link"            // RoleDocLink references an internal document source.
	RoleWebLink            Role = "web_link"            // RoleWebLink references a web source.
	RoleInfo               Role = "info"                // RoleInfo is an informational transport message.
	RoleDebug              Role = "debug"               // RoleDebug is a debugging transport message.
	RoleSSE                Role = "sse"                 // RoleSSE is a raw server-sent event message.
)

// MetadataState is the metadata key holding a message's transport state.
const MetadataState = "state"

// IsConversational reports whether the role is one a completion service
// understands.
func (r Role) IsConversational() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// FunctionCall is the function portion of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a model's request to invoke a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// NewToolCall creates a function tool call.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{
		ID:       id,
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: arguments},
	}
}

// ImageDetail selects the resolution a model uses for an image.
type ImageDetail string

const (
	ImageDetailLow  ImageDetail = "low"
	ImageDetailHigh ImageDetail = "high"
	ImageDetailAuto ImageDetail = "auto"
)

// Image is an image attached to a message. URL is either a remote URL or a
// base64 data URL. Width and Height are optional; zero means unknown.
type Image struct {
	URL    string      `json:"url"`
	Detail ImageDetail `json:"detail,omitempty"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
}

// Message is a single entry in a conversation or on a message stream.
// Messages are treated as immutable once constructed; the With* helpers
// return modified copies.
type Message struct {
	ID         string         `json:"id,omitempty"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Images     []Image        `json:"images,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

func newMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string, images ...Image) *Message {
	m := newMessage(RoleUser, content)
	m.Images = images
	return m
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	return newMessage(RoleSystem, content)
}

// NewAssistantMessage creates a plain assistant message.
func NewAssistantMessage(content string) *Message {
	return newMessage(RoleAssistant, content)
}

// NewToolMessage creates a tool result message answering the given call.
func NewToolMessage(content, name, toolCallID string) *Message {
	m := newMessage(RoleTool, content)
	m.Name = name
	m.ToolCallID = toolCallID
	return m
}

// NewToolCallsMessage creates an assistant message that requests tool calls.
func NewToolCallsMessage(content string, calls []ToolCall) *Message {
	m := newMessage(RoleAssistant, content)
	m.ToolCalls = slices.Clone(calls)
	return m
}

// NewStateMessage creates an assistant message tagged with a transport state
// such as RoleAssistantStreaming or RoleDocLink.
func NewStateMessage(state Role, content string) *Message {
	m := newMessage(RoleAssistant, content)
	m.Metadata = map[string]any{MetadataState: string(state)}
	return m
}

// NewStopMessage creates the sentinel that terminates a message stream.
func NewStopMessage() *Message {
	return newMessage(RoleStop, "")
}

// NewErrorMessage creates a structured error event.
func NewErrorMessage(content string, statusCode int, errorCode any) *Message {
	m := newMessage(RoleError, content)
	m.Metadata = map[string]any{
		"status_code": statusCode,
		"error_code":  errorCode,
	}
	return m
}

// State returns the transport state recorded in metadata, or "" if none.
func (m *Message) State() Role {
	if m == nil || m.Metadata == nil {
		return ""
	}
	switch s := m.Metadata[MetadataState].(type) {
	case string:
		return Role(s)
	case Role:
		return s
	}
	return ""
}

// EffectiveRole returns the transport state if one is set and the role
// otherwise.
func (m *Message) EffectiveRole() Role {
	if s := m.State(); s != "" {
		return s
	}
	return m.Role
}

// IsStop reports whether m is the stream terminator.
func (m *Message) IsStop() bool {
	return m != nil && m.Role == RoleStop
}

// HasImages reports whether the message carries image parts.
func (m *Message) HasImages() bool {
	return len(m.Images) > 0
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.ToolCalls = slices.Clone(m.ToolCalls)
	c.Images = slices.Clone(m.Images)
	if m.Metadata != nil {
		c.Metadata = maps.Clone(m.Metadata)
	}
	return &c
}

// WithMetadata returns a copy of m with key set to value in its metadata.
func (m *Message) WithMetadata(key string, value any) *Message {
	c := m.Clone()
	if c.Metadata == nil {
		c.Metadata = make(map[string]any, 1)
	}
	c.Metadata[key] = value
	return c
}

// WithRole returns a copy of m with a different role.
func (m *Message) WithRole(role Role) *Message {
	c := m.Clone()
	c.Role = role
	return c
}

// WithoutImages returns a copy of m with image parts removed.
func (m *Message) WithoutImages() *Message {
	c := m.Clone()
	c.Images = nil
	return c
}
