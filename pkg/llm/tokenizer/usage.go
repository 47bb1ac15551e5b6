package tokenizer

import (
	"fmt"
	"sync"
)

// LimitError reports that a request would push cumulative input past the
// configured ceiling.
type LimitError struct {
	Current int
	Needed  int
	Max     int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Request may exceed input token limit (Current: %d, Needed: %d, Max: %d)",
		e.Current, e.Needed, e.Max)
}

// Usage tracks cumulative input and completion tokens for one adapter.
type Usage struct {
	mu              sync.Mutex
	totalInput      int
	totalCompletion int
	maxInput        int
}

// NewUsage creates a tracker. maxInput <= 0 disables the ceiling.
func NewUsage(maxInput int) *Usage {
	return &Usage{maxInput: maxInput}
}

// Check returns a *LimitError when adding needed input tokens would exceed
// the ceiling. It does not record anything.
func (u *Usage) Check(needed int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.maxInput > 0 && u.totalInput+needed > u.maxInput {
		return &LimitError{Current: u.totalInput, Needed: needed, Max: u.maxInput}
	}
	return nil
}

// Add records prompt and completion tokens.
func (u *Usage) Add(prompt, completion int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.totalInput += prompt
	u.totalCompletion += completion
}

// Totals returns the cumulative input and completion counts.
func (u *Usage) Totals() (input, completion int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.totalInput, u.totalCompletion
}

// MaxInput returns the configured ceiling, or 0 if unlimited.
func (u *Usage) MaxInput() int {
	return u.maxInput
}

// Reset clears the counters.
func (u *Usage) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.totalInput = 0
	u.totalCompletion = 0
}
