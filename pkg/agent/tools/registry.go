package tools

import (
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Factory creates a fresh tool instance.
type Factory func() Tool

type registration struct {
	factory Factory
	special bool
	finish  FinishFunc
}

// Registry maps tool names to factories and their default special flag.
// Agents build their Collection from it at construction time.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds a factory under name. A later registration replaces an
// earlier one.
func (r *Registry) Register(name string, factory Factory, special bool, opts ...AddOption) {
	reg := registration{factory: factory, special: special}
	if len(opts) > 0 {
		e := &entry{}
		for _, opt := range opts {
			opt(e)
		}
		reg.finish = e.finish
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = reg
}

// Lookup creates the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false, fmt.Errorf("%w '%s'", ErrUnknownTool, name)
	}
	return reg.factory(), reg.special, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Spec selects a tool for an agent. Special overrides the registry default
// when set.
type Spec struct {
	Name    string `yaml:"name" json:"name"`
	Special *bool  `yaml:"special,omitempty" json:"special,omitempty"`
}

// UnmarshalYAML accepts either a bare tool name or a {name, special} map.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Name = node.Value
		s.Special = nil
		return nil
	}
	type plain Spec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Spec(p)
	return nil
}

// Build creates a collection from specs in order. Unknown names fail the
// whole build.
func (r *Registry) Build(specs []Spec) (*Collection, error) {
	c := NewCollection()
	for _, spec := range specs {
		r.mu.RLock()
		reg, ok := r.tools[spec.Name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("failed to build tool collection: %w '%s'", ErrUnknownTool, spec.Name)
		}

		special := reg.special
		if spec.Special != nil {
			special = *spec.Special
		}
		var opts []AddOption
		if special {
			opts = append(opts, AsSpecial())
		}
		if reg.finish != nil {
			opts = append(opts, FinishWhen(reg.finish))
		}
		c.Add(reg.factory(), opts...)
	}
	return c, nil
}

// SpecsFor turns plain names into specs that keep the registry defaults.
func SpecsFor(names ...string) []Spec {
	specs := make([]Spec, len(names))
	for i, n := range names {
		specs[i] = Spec{Name: n}
	}
	return specs
}

// DefaultRegistry returns a registry holding every built-in tool.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(citeSourcesToolName, func() Tool { return NewCiteSourcesTool() }, true)
	r.Register(askHumanToolName, func() Tool { return NewAskHumanTool() }, true)
	r.Register(answerToolName, func() Tool { return NewAnswerTool() }, true, FinishWhen(FinishOnSuccess))
	r.Register(answerWithCiteSourcesToolName, func() Tool { return NewAnswerWithCiteSourcesTool() }, true, FinishWhen(FinishOnSuccess))
	r.Register(answerWithCiteSourcesStreamingToolName, func() Tool { return NewAnswerWithCiteSourcesStreamingTool() }, true, FinishWhen(FinishOnSuccess))
	r.Register(planningToolName, func() Tool { return NewPlanningTool() }, false)
	r.Register(terminateToolName, func() Tool { return NewTerminateTool() }, true)
	return r
}
