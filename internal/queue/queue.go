package queue

import (
	"errors"
	"sync"
)

var (
	// ErrFull is returned by Enqueue when capacity-1 items are already pending.
	ErrFull = errors.New("queue: full")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("queue: closed")
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 16

// Queue is a bounded FIFO ring buffer safe for concurrent use.
type Queue[T any] struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	items    []T
	read     int // next slot to dequeue
	write    int // next slot to fill
	closed   bool
}

// New creates a queue backed by a ring of the given capacity. A capacity below
// 2 cannot hold any item and is raised to 2.
func New[T any](capacity int) *Queue[T] {
	if capacity < 2 {
		capacity = 2
	}
	q := &Queue[T]{
		items: make([]T, capacity),
	}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends item without blocking. It returns ErrFull when the queue is
// saturated and ErrClosed once the queue has been closed; in both cases the
// caller keeps ownership of item.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.size() == len(q.items)-1 {
		return ErrFull
	}

	q.items[q.write] = item
	q.write = (q.write + 1) % len(q.items)

	// Only one consumer can take the item.
	q.nonEmpty.Signal()
	return nil
}

// Dequeue removes and returns the oldest item, blocking until one is
// available. The boolean is false only when the queue is closed and drained.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size() == 0 && !q.closed {
		q.nonEmpty.Wait()
	}

	if q.size() == 0 {
		var zero T
		return zero, false
	}

	return q.take(), true
}

// Close rejects further Enqueue calls, wakes every blocked consumer and
// returns the items that were still pending, oldest first. Ownership of the
// returned items passes to the caller. Calling Close again returns nil.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	var pending []T
	for q.size() > 0 {
		pending = append(pending, q.take())
	}

	q.nonEmpty.Broadcast()
	return pending
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// Cap returns the number of items the queue can hold, which is one less than
// the ring size.
func (q *Queue[T]) Cap() int {
	return len(q.items) - 1
}

// size must be called with the lock held.
func (q *Queue[T]) size() int {
	n := len(q.items)
	return (n - q.read + q.write) % n
}

// take must be called with the lock held and a non-empty queue.
func (q *Queue[T]) take() T {
	item := q.items[q.read]
	var zero T
	q.items[q.read] = zero // drop the reference
	q.read = (q.read + 1) % len(q.items)
	return item
}
