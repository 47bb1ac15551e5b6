package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/conduit/pkg/logging"
	"github.com/entrhq/conduit/pkg/messaging"
	"github.com/entrhq/conduit/pkg/types"
)

// DefaultStopTimeout bounds how long Chat waits for the consumer to take the
// stop message.
const DefaultStopTimeout = 30 * time.Second

var chatLog *logging.Logger

func init() {
	var err error
	chatLog, err = logging.NewLogger("chat")
	if err != nil {
		chatLog.Warnf("Failed to initialize chat logger, using stderr fallback: %v", err)
	}
}

// Request is one user turn.
type Request struct {
	Content string        `json:"content"`
	Images  []types.Image `json:"images,omitempty"`
}

// Validate rejects requests without text.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// Service creates sessions and runs chat turns through a Runner.
type Service struct {
	sessions    SessionStore
	documents   DocumentStore
	indexer     Indexer
	dispatcher  *messaging.Dispatcher
	runner      Runner
	stopTimeout time.Duration
	log         *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDocuments enables document selection on CreateSession.
func WithDocuments(docs DocumentStore, indexer Indexer) Option {
	return func(s *Service) {
		s.documents = docs
		s.indexer = indexer
	}
}

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a chat service.
func NewService(sessions SessionStore, dispatcher *messaging.Dispatcher, runner Runner, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	s := &Service{
		sessions:    sessions,
		dispatcher:  dispatcher,
		runner:      runner,
		stopTimeout: DefaultStopTimeout,
		log:         chatLog,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateSession creates and saves a session for userID. With documentIDs,
// the user's matching documents are attached and indexed under the
// session's collection.
func (s *Service) CreateSession(ctx context.Context, userID string, documentIDs []string) (*Session, error) {
	sess := NewSession(userID)

	if len(documentIDs) > 0 {
		if s.documents == nil {
			return nil, fmt.Errorf("documents are not enabled")
		}
		owned, err := s.documents.FindByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to find documents: %w", err)
		}
		if len(owned) == 0 {
			return nil, ErrDocumentsNotFound
		}
		for _, d := range owned {
			if slices.Contains(documentIDs, d.ID) {
				sess.Documents = append(sess.Documents, d)
			}
		}
		sess.Collection = CollectionName(userID, sess.ID)
		if s.indexer != nil {
			if err := s.indexer.Index(ctx, sess.Collection, sess.Documents); err != nil {
				return nil, fmt.Errorf("failed to index documents: %w", err)
			}
		}
	}

	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	s.log.Infof("Created session %s for user %s with %d documents", sess.ID, userID, len(sess.Documents))
	return sess, nil
}

// Chat runs one turn of sessionID. The session's queue must already be
// registered with the dispatcher and have a consumer; Chat always ends the
// stream with a stop message and waits for the consumer to take it. Agent
// failures are reported as an error event rather than returned.
func (s *Service) Chat(ctx context.Context, sessionID string, req Request) (*Session, error) {
	q, err := s.dispatcher.GetQueue(sessionID)
	if err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		s.stop(q)
		return nil, err
	}

	sess, err := s.sessions.Find(ctx, sessionID)
	if err != nil {
		s.stop(q)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound.wrap(err)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	interactionID := uuid.NewString()
	user := types.NewUserMessage(req.Content, req.Images...).WithMetadata(MetadataInteractionID, interactionID)
	sess.History = append(sess.History, user)

	if runErr := s.runner.Run(ctx, sess.History, q); runErr != nil {
		se := Classify(runErr)
		s.log.Errorf("Chat in session %s failed: %v", sessionID, runErr)
		event := types.NewErrorMessage(se.Message, se.StatusCode, se.ErrorCode)
		if err := q.Put(event); err != nil {
			s.log.Warnf("Failed to push error event: %v", err)
		}
		sess.Events = append(sess.Events, event.WithMetadata(MetadataInteractionID, interactionID))
	}
	s.stop(q)

	if err := s.waitForConsumer(ctx, q); err != nil {
		return nil, err
	}

	s.record(sess, q.Messages(), interactionID)
	sess.UpdatedAt = time.Now()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

func (s *Service) stop(q *messaging.Queue) {
	if err := q.Put(types.NewStopMessage()); err != nil {
		s.log.Warnf("Failed to push stop message: %v", err)
	}
}

func (s *Service) waitForConsumer(ctx context.Context, q *messaging.Queue) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
	defer cancel()
	err := q.WaitForFinished(waitCtx)
	if q.IsStopProcessed() {
		return nil
	}
	if err == nil {
		err = messaging.ErrQueueClosed
	}
	return ErrQueueNeverStopped.wrap(err)
}

// record files the messages the consumer took into the session: final
// answers into history, progress and citations into events.
func (s *Service) record(sess *Session, ledger []*types.Message, interactionID string) {
	for _, m := range ledger {
		role := m.EffectiveRole()
		stamped := m.WithRole(role).WithMetadata(MetadataInteractionID, interactionID)
		switch role {
		case types.RoleAssistantFinished:
			sess.History = append(sess.History, stamped)
		case types.RoleAssistantRunning, types.RoleDocLink, types.RoleWebLink:
			sess.Events = append(sess.Events, stamped)
		}
	}
}
