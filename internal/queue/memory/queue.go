// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
)

// Queue is a bounded in-memory crawl task queue. Each source holds at most
// one waiting task, so a slow crawl cannot pile up duplicate work for the
// same careers page.
type Queue struct {
	ch      chan harvest.CrawlTask
	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:      make(chan harvest.CrawlTask, capacity),
		pending: make(map[string]struct{}),
	}
}

// Enqueue pushes a crawl task into the queue or returns if the context ends.
// A source with a task already waiting returns ErrAlreadyQueued.
func (q *Queue) Enqueue(ctx context.Context, task harvest.CrawlTask) error {
	q.mu.Lock()
	if _, ok := q.pending[task.Source.ID]; ok {
		q.mu.Unlock()
		return fmt.Errorf("source %s: %w", task.Source.ID, harvest.ErrAlreadyQueued)
	}
	q.pending[task.Source.ID] = struct{}{}
	metrics.SetQueueDepth(len(q.pending))
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.forget(task.Source.ID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (harvest.CrawlTask, error) {
	select {
	case <-ctx.Done():
		return harvest.CrawlTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return harvest.CrawlTask{}, errors.New("queue closed")
		}
		q.forget(task.Source.ID)
		return task, nil
	}
}

// Depth reports how many tasks are waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

func (q *Queue) forget(sourceID string) {
	q.mu.Lock()
	delete(q.pending, sourceID)
	metrics.SetQueueDepth(len(q.pending))
	q.mu.Unlock()
}
