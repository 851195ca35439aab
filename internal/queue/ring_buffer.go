// Package queue provides a bounded FIFO whose producers never block.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is used when NewRingBuffer is given a non-positive size.
const DefaultCapacity = 1000

var (
	// ErrQueueFull is returned when attempting to push to a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when no item became available in time.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned once a closed queue has been drained.
	ErrQueueClosed = errors.New("queue is closed")
)

// RingBuffer is a fixed-capacity circular FIFO safe for concurrent use.
type RingBuffer[T any] struct {
	mu     sync.Mutex
	buffer []T
	head   int
	count  int
	closed bool

	// ready holds at most one wake-up for waiting consumers.
	ready    chan struct{}
	closedCh chan struct{}

	totalPushed  atomic.Uint64
	totalPopped  atomic.Uint64
	totalDropped atomic.Uint64
}

// NewRingBuffer creates a RingBuffer holding up to size items.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		size = DefaultCapacity
	}
	return &RingBuffer[T]{
		buffer:   make([]T, size),
		ready:    make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Push appends item without blocking. It returns ErrQueueFull at capacity
// and ErrQueueClosed after Close.
func (rb *RingBuffer[T]) Push(item T) error {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return ErrQueueClosed
	}
	if rb.count == len(rb.buffer) {
		rb.mu.Unlock()
		rb.totalDropped.Add(1)
		return ErrQueueFull
	}
	rb.buffer[(rb.head+rb.count)%len(rb.buffer)] = item
	rb.count++
	rb.mu.Unlock()

	rb.totalPushed.Add(1)
	rb.signal()
	return nil
}

func (rb *RingBuffer[T]) signal() {
	select {
	case rb.ready <- struct{}{}:
	default:
	}
}

// take removes the head item. Caller holds mu and has checked count > 0.
func (rb *RingBuffer[T]) take() T {
	var zero T
	item := rb.buffer[rb.head]
	rb.buffer[rb.head] = zero // Allow GC
	rb.head = (rb.head + 1) % len(rb.buffer)
	rb.count--
	rb.totalPopped.Add(1)
	if rb.count > 0 {
		rb.signal()
	}
	return item
}

// Pop removes the head item without waiting.
func (rb *RingBuffer[T]) Pop() (T, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		var zero T
		if rb.closed {
			return zero, ErrQueueClosed
		}
		return zero, ErrQueueEmpty
	}
	return rb.take(), nil
}

// PopWithTimeout waits up to timeout for an item. It returns ErrQueueEmpty
// on timeout and ErrQueueClosed once the queue is closed and empty.
func (rb *RingBuffer[T]) PopWithTimeout(timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	item, err := rb.PopContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return item, ErrQueueEmpty
	}
	return item, err
}

// PopContext waits for an item until ctx is done.
func (rb *RingBuffer[T]) PopContext(ctx context.Context) (T, error) {
	for {
		item, err := rb.Pop()
		if !errors.Is(err, ErrQueueEmpty) {
			return item, err
		}

		select {
		case <-rb.ready:
		case <-rb.closedCh:
			// Items pushed before Close are still returned.
			return rb.Pop()
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the current number of items in the queue.
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap returns the capacity of the queue.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.buffer)
}

// Close rejects further pushes and wakes waiting consumers. Items already
// queued can still be popped. Close is idempotent.
func (rb *RingBuffer[T]) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closed {
		return
	}
	rb.closed = true
	close(rb.closedCh)
}

// Metrics returns queue statistics.
func (rb *RingBuffer[T]) Metrics() QueueMetrics {
	return QueueMetrics{
		Pushed:   rb.totalPushed.Load(),
		Popped:   rb.totalPopped.Load(),
		Dropped:  rb.totalDropped.Load(),
		Depth:    rb.Len(),
		Capacity: rb.Cap(),
	}
}

// QueueMetrics holds statistics about queue operations.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
