// Package chat runs one conversation turn against an agent: it loads the
// session, streams the run through the session's message queue and records
// what the consumer received back into the session.
package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/conduit/pkg/types"
)

// MetadataInteractionID is the metadata key grouping the messages of one
// chat turn.
const MetadataInteractionID = "interaction_id"

// Document is a user document that can be attached to a session.
type Document struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	Name     string         `json:"name"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Session is the persisted state of one conversation. History holds the
// user turns and final answers; Events holds progress, citation and error
// messages.
type Session struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Documents  []Document       `json:"documents,omitempty"`
	Collection string           `json:"collection,omitempty"`
	History    []*types.Message `json:"history"`
	Events     []*types.Message `json:"events"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewSession creates an empty session owned by userID.
func NewSession(userID string) *Session {
	now := time.Now()
	return &Session{
		ID:        newSessionID(),
		UserID:    userID,
		History:   []*types.Message{},
		Events:    []*types.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CollectionName returns the index collection for a session's documents.
func CollectionName(userID, sessionID string) string {
	return "c_" + userID + "_" + sessionID
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Documents = slices.Clone(s.Documents)
	c.History = cloneMessages(s.History)
	c.Events = cloneMessages(s.Events)
	return &c
}

// Interaction returns the history and event messages stamped with id.
func (s *Session) Interaction(id string) (history, events []*types.Message) {
	for _, m := range s.History {
		if m.Metadata[MetadataInteractionID] == id {
			history = append(history, m)
		}
	}
	for _, m := range s.Events {
		if m.Metadata[MetadataInteractionID] == id {
			events = append(events, m)
		}
	}
	return history, events
}

func cloneMessages(msgs []*types.Message) []*types.Message {
	if msgs == nil {
		return nil
	}
	out := make([]*types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
