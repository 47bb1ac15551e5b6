package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func feed(f *ReasoningFilter, chunks ...string) (reasoning, answer string) {
	for _, c := range chunks {
		r, a := f.Parse(c)
		reasoning += r
		answer += a
	}
	r, a := f.Flush()
	return reasoning + r, answer + a
}

func TestReasoningFilter(t *testing.T) {
	tests := []struct {
		name          string
		chunks        []string
		wantReasoning string
		wantAnswer    string
	}{
		{
			name:       "plain text",
			chunks:     []string{"Hello ", "world"},
			wantAnswer: "Hello world",
		},
		{
			name:          "think block",
			chunks:        []string{"<think>plan</think>Answer"},
			wantReasoning: "plan",
			wantAnswer:    "Answer",
		},
		{
			name:          "tags split across chunks",
			chunks:        []string{"<thi", "nking>a", "b</thin", "king>", "done"},
			wantReasoning: "ab",
			wantAnswer:    "done",
		},
		{
			name: "comparison operators inside reasoning",
			chunks: []string{
				"<thinking>", "if x>3 {\n", "for i<10 {\n", "</thinking>", "\n\nok",
			},
			wantReasoning: "if x>3 {\nfor i<10 {\n",
			wantAnswer:    "\n\nok",
		},
		{
			name:       "other tags are answer text",
			chunks:     []string{"<b>bold</b>"},
			wantAnswer: "<b>bold</b>",
		},
		{
			name:       "html entities pass through",
			chunks:     []string{"a &lt; b", " and 1 < 2"},
			wantAnswer: "a &lt; b and 1 < 2",
		},
		{
			name:       "unfinished tag is flushed",
			chunks:     []string{"tail <thin"},
			wantAnswer: "tail <thin",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewReasoningFilter()
			reasoning, answer := feed(f, tt.chunks...)
			assert.Equal(t, tt.wantReasoning, reasoning)
			assert.Equal(t, tt.wantAnswer, answer)
			assert.False(t, f.InReasoning())
		})
	}
}

func TestReasoningFilter_HoldsPossibleTag(t *testing.T) {
	f := NewReasoningFilter()
	_, answer := f.Parse("Hi <th")
	assert.Equal(t, "Hi ", answer)
	_, answer = f.Parse("ere")
	assert.Empty(t, answer)
	_, answer = f.Parse(" you")
	assert.Equal(t, "<there you", answer, "a space ends the candidate tag")
}

func TestReasoningFilter_CustomTagsAndReset(t *testing.T) {
	f := NewReasoningFilter("reasoning")
	r, a := feed(f, "<think>x</think><reasoning>y</reasoning>z")
	assert.Equal(t, "y", r)
	assert.Equal(t, "<think>x</think>z", a)

	f.Parse("<reasoning>open")
	assert.True(t, f.InReasoning())
	f.Reset()
	assert.False(t, f.InReasoning())
}
