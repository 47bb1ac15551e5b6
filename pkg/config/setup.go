package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/entrhq/conduit/pkg/agent"
	"gopkg.in/yaml.v3"
)

// LoadAgentSetup reads an agent setup from a YAML file.
func LoadAgentSetup(path string) (agent.Setup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return agent.Setup{}, fmt.Errorf("failed to read agent setup: %w", err)
	}
	setup, err := ParseAgentSetup(raw)
	if err != nil {
		return agent.Setup{}, fmt.Errorf("%s: %w", path, err)
	}
	return setup, nil
}

// ParseAgentSetup decodes a YAML agent setup. Unknown keys are rejected so
// typos in limit names surface at startup.
func ParseAgentSetup(raw []byte) (agent.Setup, error) {
	var setup agent.Setup
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&setup); err != nil {
		if errors.Is(err, io.EOF) {
			return agent.Setup{}, fmt.Errorf("invalid agent setup: empty document")
		}
		return agent.Setup{}, fmt.Errorf("invalid agent setup: %w", err)
	}
	if setup.Name == "" {
		return agent.Setup{}, fmt.Errorf("invalid agent setup: name is required")
	}
	if len(setup.ToolList) == 0 {
		return agent.Setup{}, fmt.Errorf("invalid agent setup: tool_list is empty")
	}
	return setup, nil
}
