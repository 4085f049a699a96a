// Package memory provides the bounded in-process task queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/blogwatch/internal/blog"
)

// ErrFull is returned by TryEnqueue when the queue has no free slot.
var ErrFull = errors.New("queue full")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan blog.Task
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan blog.Task, max(capacity, 1)),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task blog.Task) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return blog.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// TryEnqueue pushes a task without blocking, returning ErrFull when the
// queue is at capacity.
func (q *Queue) TryEnqueue(task blog.Task) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return blog.ErrQueueClosed
	}
	select {
	case q.ch <- task:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (blog.Task, error) {
	select {
	case <-ctx.Done():
		return blog.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return blog.Task{}, blog.ErrQueueClosed
		}
		return task, nil
	}
}

// Len reports the number of waiting tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
