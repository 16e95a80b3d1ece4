package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue is a bounded in-memory queue between producers and a single consumer
// loop.
type Queue[T any] struct {
	ch     chan T
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool
	// mu keeps sends and close(ch) apart.
	mu sync.RWMutex
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// TryPublish enqueues an event without blocking.
func (q *Queue[T]) TryPublish(e T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish enqueues an event, blocking until there is room, ctx is done or
// the queue is closed.
func (q *Queue[T]) Publish(ctx context.Context, e T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	}
}

// Len returns the number of queued events.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops the queue from accepting new events. Events already queued are
// still delivered to Run.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed.Store(true)
		close(q.ch)
		q.mu.Unlock()
	})
}

// Run consumes events until the context is done or the queue is closed.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
