// Package messaging carries run output from an agent to a single consumer:
// an unbounded ordered Queue per session, a Dispatcher that owns the queues
// and renders them as server-sent event frames.
package messaging

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/entrhq/conduit/pkg/types"
)

var (
	// ErrQueueNotFound is returned when no queue is registered for a session.
	ErrQueueNotFound = errors.New("message queue not found")

	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("message queue is closed")
)

// Queue is an unbounded FIFO of messages with one reader. Every message the
// reader takes is appended to a ledger, and taking the stop message fires
// the finished signal.
type Queue struct {
	mu      sync.Mutex
	pending []*types.Message
	ledger  []*types.Message

	ready    chan struct{}
	finished chan struct{}
	done     chan struct{}

	finishOnce sync.Once
	closeOnce  sync.Once
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		ready:    make(chan struct{}, 1),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Put enqueues msg. It never blocks.
func (q *Queue) Put(msg *types.Message) error {
	if msg == nil {
		return nil
	}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	q.mu.Lock()
	q.pending = append(q.pending, msg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Next blocks until a message is available and returns it. Once the stop
// message has been taken, Next keeps returning ErrQueueClosed.
func (q *Queue) Next(ctx context.Context) (*types.Message, error) {
	for {
		if msg, ok := q.take(); ok {
			return msg, nil
		}
		if q.IsStopProcessed() {
			return nil, ErrQueueClosed
		}
		select {
		case <-q.ready:
		case <-q.done:
			if msg, ok := q.take(); ok {
				return msg, nil
			}
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *Queue) take() (*types.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 || q.IsStopProcessed() {
		return nil, false
	}
	msg := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.ledger = append(q.ledger, msg)

	if msg.IsStop() {
		q.finishOnce.Do(func() { close(q.finished) })
	}
	return msg, true
}

// All iterates messages in order, ending after the stop message, when ctx
// is done or when the queue is closed.
func (q *Queue) All(ctx context.Context) iter.Seq[*types.Message] {
	return func(yield func(*types.Message) bool) {
		for {
			msg, err := q.Next(ctx)
			if err != nil {
				return
			}
			if !yield(msg) || msg.IsStop() {
				return
			}
		}
	}
}

// Messages returns a copy of every message taken so far, in order.
func (q *Queue) Messages() []*types.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.Message, len(q.ledger))
	copy(out, q.ledger)
	return out
}

// Pending returns the number of messages not yet taken.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// WaitForFinished blocks until the stop message has been taken, the queue
// is closed or ctx is done.
func (q *Queue) WaitForFinished(ctx context.Context) error {
	select {
	case <-q.finished:
		return nil
	case <-q.done:
		if q.IsStopProcessed() {
			return nil
		}
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsStopProcessed reports whether the reader has taken the stop message.
func (q *Queue) IsStopProcessed() bool {
	select {
	case <-q.finished:
		return true
	default:
		return false
	}
}

// Close rejects further Puts and wakes blocked readers. Messages already
// queued can still be taken. Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// IsClosed reports whether Close has been called.
func (q *Queue) IsClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
