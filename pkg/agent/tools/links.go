package tools

import (
	"fmt"

	"github.com/entrhq/conduit/pkg/types"
	"github.com/gobwas/glob"
	"github.com/tidwall/gjson"
)

// LinkClassifier tags a cited source as a document or web link based on the
// tool that retrieved it.
type LinkClassifier struct {
	docTools []glob.Glob
}

// NewLinkClassifier compiles the tool name patterns that yield document
// links. Every other tool yields web links.
func NewLinkClassifier(docToolPatterns ...string) (*LinkClassifier, error) {
	c := &LinkClassifier{}
	for _, p := range docToolPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid document tool pattern %q: %w", p, err)
		}
		c.docTools = append(c.docTools, g)
	}
	return c, nil
}

func mustLinkClassifier(patterns ...string) *LinkClassifier {
	c, err := NewLinkClassifier(patterns...)
	if err != nil {
		panic(err)
	}
	return c
}

// RetrievalLinks classifies every known retrieval tool as a document source.
var RetrievalLinks = mustLinkClassifier(
	"retrieve_documents",
	"retrieve",
	"mcp_retrieval",
	"mcp_retrieval_{retrieve_documents,retrieve,documents}",
)

// DocumentLinks only classifies retrieve_documents as a document source.
var DocumentLinks = mustLinkClassifier("retrieve_documents")

// Classify returns RoleDocLink or RoleWebLink for a source's tool name.
func (c *LinkClassifier) Classify(toolName string) types.Role {
	for _, g := range c.docTools {
		if g.Match(toolName) {
			return types.RoleDocLink
		}
	}
	return types.RoleWebLink
}

// SourceLinks parses a JSON list of source descriptors, or an object with a
// "sources" list, into one link message per source. Each message carries the
// compact JSON of its source.
func (c *LinkClassifier) SourceLinks(raw string) ([]*types.Message, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("sources are not valid JSON")
	}
	root := gjson.Parse(raw)
	if root.IsObject() {
		root = root.Get("sources")
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("sources must be a JSON array")
	}

	var links []*types.Message
	for _, src := range root.Array() {
		if !src.IsObject() {
			continue
		}
		content := gjson.Get(src.Raw, "@ugly").Raw
		links = append(links, types.NewStateMessage(c.Classify(src.Get("tool_name").String()), content))
	}
	return links, nil
}
