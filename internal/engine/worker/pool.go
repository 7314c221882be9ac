package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/anatolykoptev/go_media/internal/engine/queue"
)

// Consumer is a task source.
type Consumer interface {
	Consume(ctx context.Context, h queue.Handler) error
}

// Pool runs a fixed number of consumers against one queue.
type Pool struct {
	w    *Worker
	src  Consumer
	size int
}

// NewPool returns a pool of size consumers (at least 1).
func NewPool(w *Worker, src Consumer, size int) *Pool {
	return &Pool{w: w, src: src, size: max(size, 1)}
}

// Run blocks until ctx is done or a consumer fails.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("worker: pool started", slog.Int("consumers", p.size))
	g, ctx := errgroup.WithContext(ctx)
	for range p.size {
		g.Go(func() error {
			return p.src.Consume(ctx, p.w.Execute)
		})
	}
	err := g.Wait()
	slog.Info("worker: pool stopped")
	return err
}
