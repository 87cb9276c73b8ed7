package notify

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueClosed is returned when publishing to a closed queue.
	ErrQueueClosed = errors.New("notify: queue closed")
	// ErrQueueFull is returned when a MemoryQueue buffer has no room left.
	ErrQueueFull = errors.New("notify: queue full")
)

// Queue buffers emails between producers and the dispatcher workers.
type Queue interface {
	Publish(ctx context.Context, email Email) error
	// Consume calls handle for each email until ctx is cancelled or the
	// queue is closed. An email whose handle call fails is not acknowledged;
	// durable queues keep it for a later Consume.
	Consume(ctx context.Context, handle func(Email) error) error
	Close() error
}

// MemoryQueue is an in-process channel queue.
type MemoryQueue struct {
	mu     sync.RWMutex
	ch     chan Email
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Email, size)}
}

func (q *MemoryQueue) Publish(ctx context.Context, email Email) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- email:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handle func(Email) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case email, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := handle(email); err != nil {
				return nil
			}
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
