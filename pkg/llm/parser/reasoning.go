// Package parser separates model reasoning from answer text in streamed
// content.
package parser

import (
	"strings"
)

// DefaultReasoningTags are the tag names reasoning models wrap their
// thoughts in.
var DefaultReasoningTags = []string{"think", "thinking"}

// ReasoningFilter splits streamed content into reasoning, found between
// reasoning tags, and answer text. Tags may span chunks. Text that only
// looks like the start of a tag is held back until it is decided.
type ReasoningFilter struct {
	open      map[string]bool
	close     map[string]bool
	maxTagLen int

	answer      strings.Builder
	reasoning   strings.Builder
	tag         strings.Builder
	inTag       bool
	inReasoning bool
}

// NewReasoningFilter creates a filter for tags, or DefaultReasoningTags if
// none are given.
func NewReasoningFilter(tags ...string) *ReasoningFilter {
	if len(tags) == 0 {
		tags = DefaultReasoningTags
	}
	f := &ReasoningFilter{open: map[string]bool{}, close: map[string]bool{}}
	for _, t := range tags {
		f.open["<"+t+">"] = true
		f.close["</"+t+">"] = true
		f.maxTagLen = max(f.maxTagLen, len(t)+3)
	}
	return f
}

// Parse consumes one chunk and returns the reasoning and answer text it
// completed.
func (f *ReasoningFilter) Parse(content string) (reasoning, answer string) {
	for _, ch := range content {
		switch {
		case ch == '<':
			if f.inTag {
				f.write(f.tag.String())
			}
			f.inTag = true
			f.tag.Reset()
			f.tag.WriteRune(ch)
		case ch == '>' && f.inTag:
			f.tag.WriteRune(ch)
			f.endTag()
		case f.inTag:
			f.tag.WriteRune(ch)
			if f.tag.Len() > f.maxTagLen || ch == '\n' || ch == ' ' {
				f.inTag = false
				f.write(f.tag.String())
				f.tag.Reset()
			}
		default:
			f.write(string(ch))
		}
	}
	return f.take()
}

// Flush returns everything still held back, including an unfinished tag.
func (f *ReasoningFilter) Flush() (reasoning, answer string) {
	if f.inTag {
		f.inTag = false
		f.write(f.tag.String())
		f.tag.Reset()
	}
	return f.take()
}

// InReasoning reports whether the filter is inside a reasoning block.
func (f *ReasoningFilter) InReasoning() bool {
	return f.inReasoning
}

// Reset clears all state for a new stream.
func (f *ReasoningFilter) Reset() {
	f.answer.Reset()
	f.reasoning.Reset()
	f.tag.Reset()
	f.inTag = false
	f.inReasoning = false
}

func (f *ReasoningFilter) endTag() {
	tag := f.tag.String()
	f.tag.Reset()
	f.inTag = false
	switch {
	case f.open[tag]:
		f.inReasoning = true
	case f.close[tag]:
		f.inReasoning = false
	default:
		f.write(tag)
	}
}

func (f *ReasoningFilter) write(s string) {
	if f.inReasoning {
		f.reasoning.WriteString(s)
	} else {
		f.answer.WriteString(s)
	}
}

func (f *ReasoningFilter) take() (reasoning, answer string) {
	reasoning, answer = f.reasoning.String(), f.answer.String()
	f.reasoning.Reset()
	f.answer.Reset()
	return reasoning, answer
}
