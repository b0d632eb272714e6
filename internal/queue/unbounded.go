// Package queue provides the unbounded multi-producer/single-consumer
// mailbox used between pipeline stages.
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Send after Close, and by Recv once the queue
	// is closed and drained.
	ErrClosed = errors.New("queue: closed")
	// ErrNoReceiver is returned by Send after the consumer detached.
	ErrNoReceiver = errors.New("queue: receiver gone")
)

// Unbounded is a FIFO that never blocks producers.
//
// Producers call Send and, once no more values will come, Close. The single
// consumer calls Recv and, when it stops consuming, Detach. Growth is
// unbounded; callers rely on low producer rates (human key presses,
// file saves).
type Unbounded[T any] struct {
	mu       sync.Mutex
	items    []T
	closed   bool
	detached bool

	// ready carries at most one pending wake-up for the consumer.
	ready chan struct{}
	// done is closed by Close or Detach to release a blocked Recv.
	done     chan struct{}
	doneOnce sync.Once
}

// New returns an empty queue.
func New[T any]() *Unbounded[T] {
	return &Unbounded[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Send enqueues v.
func (q *Unbounded[T]) Send(v T) error {
	q.mu.Lock()
	switch {
	case q.detached:
		q.mu.Unlock()
		return ErrNoReceiver
	case q.closed:
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Recv dequeues the oldest value, blocking until one is available, the queue
// is closed and drained (ErrClosed), or ctx is done (ctx.Err()).
func (q *Unbounded[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				// Drop the backing array once drained so a burst does not pin memory.
				q.items = nil
			}
			q.mu.Unlock()
			return v, nil
		}
		if q.closed || q.detached {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.ready:
		case <-q.done:
		}
	}
}

// Close marks the producer side finished. Pending values remain receivable.
// Safe to call more than once.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
}

// Detach marks the consumer gone and discards pending values; later Sends
// fail with ErrNoReceiver. Safe to call more than once.
func (q *Unbounded[T]) Detach() {
	q.mu.Lock()
	q.detached = true
	q.items = nil
	q.mu.Unlock()
	q.doneOnce.Do(func() { close(q.done) })
}

// Len returns the number of queued values.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
