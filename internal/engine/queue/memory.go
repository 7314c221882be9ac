package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anatolykoptev/go_media/internal/engine"
)

// MemoryQueue is an in-process queue for single-binary deployments.
type MemoryQueue struct {
	ch chan engine.Task
}

// NewMemoryQueue returns a queue buffering up to size tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size < 1 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan engine.Task, size)}
}

// Publish enqueues t without blocking.
func (q *MemoryQueue) Publish(_ context.Context, t engine.Task) error {
	select {
	case q.ch <- t:
		return nil
	default:
		return fmt.Errorf("publish task %s: memory queue full", t.JobID)
	}
}

// Consume runs h on each task until ctx is done.
func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-q.ch:
			if err := h(ctx, t); err != nil {
				slog.Error("queue: task failed", slog.String("job_id", t.JobID), slog.Any("error", err))
			}
		}
	}
}

// Depth returns the number of tasks waiting.
func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}
