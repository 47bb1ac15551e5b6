package llm

import (
	"sort"
	"strings"

	"github.com/entrhq/conduit/pkg/types"
)

// ToolCallAccumulator assembles streamed tool-call fragments into complete
// calls. The first fragment for an index fixes its id and name; later
// fragments append to the arguments.
type ToolCallAccumulator struct {
	calls map[int]*accumulatedCall
}

type accumulatedCall struct {
	id   string
	name string
	args strings.Builder
}

// NewToolCallAccumulator creates an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*accumulatedCall)}
}

// Add merges fragments.
func (a *ToolCallAccumulator) Add(deltas ...ToolCallDelta) {
	for _, d := range deltas {
		call, ok := a.calls[d.Index]
		if !ok {
			call = &accumulatedCall{}
			a.calls[d.Index] = call
		}
		if call.id == "" {
			call.id = d.ID
		}
		if call.name == "" {
			call.name = d.Name
		}
		call.args.WriteString(d.Arguments)
	}
}

// Len returns the number of distinct calls seen.
func (a *ToolCallAccumulator) Len() int {
	return len(a.calls)
}

// Calls returns the assembled calls ordered by index.
func (a *ToolCallAccumulator) Calls() []types.ToolCall {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]types.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		c := a.calls[i]
		out = append(out, types.NewToolCall(c.id, c.name, c.args.String()))
	}
	return out
}
