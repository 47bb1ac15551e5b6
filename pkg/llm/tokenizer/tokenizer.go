// Package tokenizer estimates prompt sizes the way the OpenAI chat API bills
// them and tracks cumulative usage against an input-token ceiling.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when a model has no known encoding.
const DefaultEncoding = "cl100k_base"

// Encoder turns text into model tokens.
type Encoder interface {
	Encode(text string) []int
}

// Tokenizer is a tiktoken-backed Encoder.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// New creates a tokenizer using the default encoding.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", DefaultEncoding, err)
	}
	return &Tokenizer{encoding: enc, name: DefaultEncoding}, nil
}

// NewForModel creates a tokenizer using the encoding registered for model,
// falling back to the default encoding for unknown models.
func NewForModel(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return New()
	}
	return &Tokenizer{encoding: enc, name: model}, nil
}

// Encode returns the token ids for text.
func (t *Tokenizer) Encode(text string) []int {
	return t.encoding.Encode(text, nil, nil)
}

// CountTokens returns the number of tokens in text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.Encode(text))
}

// Name returns the model or encoding name the tokenizer was built for.
func (t *Tokenizer) Name() string {
	return t.name
}
