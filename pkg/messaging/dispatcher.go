package messaging

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/entrhq/conduit/pkg/logging"
)

var dispatchLog *logging.Logger

func init() {
	var err error
	dispatchLog, err = logging.NewLogger("messaging")
	if err != nil {
		dispatchLog.Warnf("Failed to initialize messaging logger, using stderr fallback: %v", err)
	}
}

// Dispatcher maps session ids to their live queue. A session has at most one
// registered queue; creating a new one detaches the previous one, whose
// holders keep using it until they release it.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{queues: make(map[string]*Queue)}
}

// CreateQueue registers a fresh queue for sessionID.
func (d *Dispatcher) CreateQueue(sessionID string) *Queue {
	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.queues[sessionID]; ok && !old.IsClosed() {
		dispatchLog.Debugf("Replacing live queue for session %s", sessionID)
	}
	q := NewQueue()
	d.queues[sessionID] = q
	return q
}

// GetQueue returns the queue registered for sessionID.
func (d *Dispatcher) GetQueue(sessionID string) (*Queue, error) {
	d.mu.Lock()
	q, ok := d.queues[sessionID]
	d.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("Message queue for session %s not found: %w", sessionID, ErrQueueNotFound)
	}
	if q.IsClosed() {
		return nil, fmt.Errorf("Message queue for session %s is deleted: %w", sessionID, ErrQueueClosed)
	}
	return q, nil
}

// Remove detaches the queue for sessionID without closing it.
func (d *Dispatcher) Remove(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.queues, sessionID)
}

// Release closes q and, if it is still the registered queue for sessionID,
// removes the registration. Owners call it when a request is over.
func (d *Dispatcher) Release(sessionID string, q *Queue) {
	d.mu.Lock()
	if cur, ok := d.queues[sessionID]; ok && cur == q {
		delete(d.queues, sessionID)
	}
	d.mu.Unlock()
	q.Close()
}

// Len returns the number of registered queues.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Dispatch returns the SSE frames of the session's queue in order. The
// sequence ends right after the stop frame. Messages that cannot be encoded
// are logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string) (iter.Seq[string], error) {
	q, err := d.GetQueue(sessionID)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for msg := range q.All(ctx) {
			frame, err := EncodeFrame(msg)
			if err != nil {
				dispatchLog.Errorf("Dropping message %s for session %s: %v", msg.ID, sessionID, err)
				continue
			}
			if !yield(frame) {
				return
			}
		}
	}, nil
}
