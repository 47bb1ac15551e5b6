// Package memory provides the bounded short-term conversation memory used by
// agents during a run.
package memory

import (
	"slices"
	"sync"

	"github.com/entrhq/conduit/pkg/types"
)

// DefaultMaxMessages is the capacity used when none is configured.
const DefaultMaxMessages = 30

// Memory stores the ordered messages an agent sends to the model.
type Memory interface {
	Add(msg *types.Message)
	AddAll(msgs ...*types.Message)
	GetAll() []*types.Message
	Set(msgs []*types.Message)
	Recent(n int) []*types.Message
	Clear()
	Len() int
}

// ConversationMemory keeps at most max messages. When a write would exceed
// the limit the oldest messages are evicted, preserving relative order.
type ConversationMemory struct {
	mu       sync.RWMutex
	messages []*types.Message
	max      int
}

// NewConversationMemory creates a memory holding up to max messages.
// A non-positive max selects DefaultMaxMessages.
func NewConversationMemory(max int) *ConversationMemory {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &ConversationMemory{
		messages: make([]*types.Message, 0, max),
		max:      max,
	}
}

// Add appends a message, evicting the oldest if necessary.
func (m *ConversationMemory) Add(msg *types.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.trim()
}

// AddAll appends messages in order, evicting the oldest if necessary.
func (m *ConversationMemory) AddAll(msgs ...*types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if msg != nil {
			m.messages = append(m.messages, msg)
		}
	}
	m.trim()
}

// GetAll returns a copy of the stored messages.
func (m *ConversationMemory) GetAll() []*types.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.messages)
}

// Set replaces the stored messages. The limit still applies.
func (m *ConversationMemory) Set(msgs []*types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = slices.DeleteFunc(slices.Clone(msgs), func(msg *types.Message) bool { return msg == nil })
	m.trim()
}

// Recent returns the last n messages, or all of them if fewer are stored.
func (m *ConversationMemory) Recent(n int) []*types.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(m.messages) {
		n = len(m.messages)
	}
	return slices.Clone(m.messages[len(m.messages)-n:])
}

// Clear removes all messages.
func (m *ConversationMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = m.messages[:0]
}

// Len returns the number of stored messages.
func (m *ConversationMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Max returns the capacity.
func (m *ConversationMemory) Max() int {
	return m.max
}

func (m *ConversationMemory) trim() {
	if over := len(m.messages) - m.max; over > 0 {
		m.messages = slices.Clone(m.messages[over:])
	}
}
