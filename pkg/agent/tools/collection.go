package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/logging"
	"github.com/entrhq/conduit/pkg/types"
)

var toolsLog *logging.Logger

func init() {
	var err error
	toolsLog, err = logging.NewLogger("tools")
	if err != nil {
		toolsLog.Warnf("Failed to initialize tools logger, using stderr fallback: %v", err)
	}
}

// FinishFunc decides whether a special tool's result ends the run. One
// predicate may serve several tools, so it receives the tool name and the
// calling agent as well.
type FinishFunc func(name, result string, agent AgentContext) bool

// FinishOnSuccess ends the run unless the tool reported a failure through an
// "Error:" result, which leaves the agent free to try again.
func FinishOnSuccess(_, result string, _ AgentContext) bool {
	return !strings.HasPrefix(result, "Error:")
}

type entry struct {
	tool    Tool
	special bool
	finish  FinishFunc
}

// AddOption configures a tool added to a Collection.
type AddOption func(*entry)

// AsSpecial marks the tool as able to end the run.
func AsSpecial() AddOption {
	return func(e *entry) { e.special = true }
}

// FinishWhen sets the finish predicate of a special tool. Without one, every
// call to a special tool ends the run.
func FinishWhen(f FinishFunc) AddOption {
	return func(e *entry) { e.finish = f }
}

// Collection is the ordered set of tools an agent can call.
type Collection struct {
	entries map[string]*entry
	order   []string
}

// NewCollection creates a collection holding the given non-special tools.
func NewCollection(tools ...Tool) *Collection {
	c := &Collection{entries: make(map[string]*entry)}
	for _, t := range tools {
		c.Add(t)
	}
	return c
}

// Add registers t, replacing any tool with the same name.
func (c *Collection) Add(t Tool, opts ...AddOption) {
	e := &entry{tool: t}
	for _, opt := range opts {
		opt(e)
	}
	if _, exists := c.entries[t.Name()]; !exists {
		c.order = append(c.order, t.Name())
	}
	c.entries[t.Name()] = e
}

// Get returns the tool registered under name.
func (c *Collection) Get(name string) (Tool, bool) {
	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Names returns tool names in registration order.
func (c *Collection) Names() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of tools.
func (c *Collection) Len() int {
	return len(c.order)
}

// Definitions returns the tool schemas in registration order.
func (c *Collection) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(c.order))
	for _, name := range c.order {
		t := c.entries[name].tool
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

// IsSpecial reports whether name is a special tool.
func (c *Collection) IsSpecial(name string) bool {
	e, ok := c.entries[name]
	return ok && e.special
}

// SpecialNames returns the names of special tools in registration order.
func (c *Collection) SpecialNames() []string {
	var names []string
	for _, name := range c.order {
		if c.entries[name].special {
			names = append(names, name)
		}
	}
	return names
}

// ShouldFinish reports whether calling name with the given result ends the
// run for agent.
func (c *Collection) ShouldFinish(name, result string, agent AgentContext) bool {
	e, ok := c.entries[name]
	if !ok || !e.special {
		return false
	}
	if e.finish == nil {
		return true
	}
	return e.finish(name, result, agent)
}

// Execute decodes the call's JSON arguments and runs the named tool. Panics
// inside the tool are recovered and returned as errors.
func (c *Collection) Execute(ctx context.Context, call types.ToolCall, agent AgentContext) (result string, err error) {
	name := call.Function.Name
	e, ok := c.entries[name]
	if !ok {
		return "", fmt.Errorf("%w '%s'", ErrUnknownTool, name)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("%w for %s: %w", ErrInvalidArguments, name, err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			toolsLog.Errorf("Tool %s panicked: %v\n%s", name, r, debug.Stack())
			err = fmt.Errorf("tool %s panicked: %v", name, r)
		}
	}()

	toolsLog.Infof("Executing tool %s", name)
	return e.tool.Execute(ctx, args, agent)
}
