package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// SessionStore persists sessions.
type SessionStore interface {
	Find(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
}

// DocumentStore looks up the documents a user owns.
type DocumentStore interface {
	FindByUserID(ctx context.Context, userID string) ([]Document, error)
}

// Indexer makes documents searchable under a collection name.
type Indexer interface {
	Index(ctx context.Context, collection string, docs []Document) error
}

// MemorySessionStore keeps sessions in a process local map. Sessions are
// cloned on the way in and out.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (m *MemorySessionStore) Find(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *MemorySessionStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

// FileSessionStore keeps one JSON file per session in a directory.
type FileSessionStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileSessionStore creates a store rooted at dir, creating it if needed.
func NewFileSessionStore(dir string) (*FileSessionStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileSessionStore{dir: dir}, nil
}

func (f *FileSessionStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(f.dir, id+".json"), nil
}

func (f *FileSessionStore) Find(_ context.Context, id string) (*Session, error) {
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &s, nil
}

// Save writes the session atomically through a temp file and rename.
func (f *FileSessionStore) Save(_ context.Context, s *Session) error {
	path, err := f.path(s.ID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, raw, 0600); err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// MemoryDocumentStore is a DocumentStore and Indexer backed by maps.
type MemoryDocumentStore struct {
	mu      sync.RWMutex
	docs    []Document
	indexed map[string][]Document
}

// NewMemoryDocumentStore creates a store holding docs.
func NewMemoryDocumentStore(docs ...Document) *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs:    slices.Clone(docs),
		indexed: make(map[string][]Document),
	}
}

// Add stores more documents.
func (m *MemoryDocumentStore) Add(docs ...Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, docs...)
}

func (m *MemoryDocumentStore) FindByUserID(_ context.Context, userID string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Document
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryDocumentStore) Index(_ context.Context, collection string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed[collection] = append(m.indexed[collection], docs...)
	return nil
}

// Indexed returns the documents indexed under collection.
func (m *MemoryDocumentStore) Indexed(collection string) []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.indexed[collection])
}
