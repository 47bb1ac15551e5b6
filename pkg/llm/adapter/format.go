package adapter

import (
	"github.com/entrhq/conduit/pkg/types"
)

// FormatMessages builds the outgoing conversation: system messages first,
// then messages. Transport metadata is dropped, roles that only exist on the
// streaming channel are skipped and images are removed when the model cannot
// read them. Inputs are not modified.
func FormatMessages(messages, system []*types.Message, supportsImages bool) []*types.Message {
	out := make([]*types.Message, 0, len(system)+len(messages))
	for _, group := range [][]*types.Message{system, messages} {
		for _, m := range group {
			if m == nil || !m.Role.IsConversational() {
				continue
			}
			c := m.Clone()
			c.Metadata = nil
			if !supportsImages {
				c.Images = nil
			}
			out = append(out, c)
		}
	}
	return out
}
