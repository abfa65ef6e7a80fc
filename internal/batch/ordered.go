// Package batch runs per-file work on a bounded worker pool while keeping
// results in their original order.
package batch

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool processes indexed jobs concurrently and emits their results in index order.
type Pool struct {
	workers int // 0 = auto, <0 = serial, >0 = fixed count
	logger  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of workers.
// Values < 0 force serial processing. Zero uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		p.workers = n
	}
}

// WithLogger sets the logger for pool operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates a Pool.
func NewPool(opts ...Option) *Pool {
	p := &Pool{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Pool) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Workers returns the effective worker count for n jobs.
func (p *Pool) Workers(n int) int {
	w := p.workers
	if w == 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if w < 1 {
		w = 1
	}
	if w > n {
		w = n
	}
	return w
}

// Run calls work for every index in [0, n) and passes each result to emit in
// ascending index order. emit is never called concurrently.
//
// At most Workers(n) jobs are in flight or waiting to be emitted at any time,
// which bounds memory to that many results. Processing stops on the first error.
func Run[T any](ctx context.Context, p *Pool, n int, work func(ctx context.Context, i int) (T, error), emit func(i int, v T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	workers := p.Workers(n)
	p.log().Debug("batch run", "jobs", n, "workers", workers)

	if workers == 1 {
		return runSerial(ctx, n, work, emit)
	}

	g, gctx := errgroup.WithContext(ctx)
	window := semaphore.NewWeighted(int64(workers))
	slots := make([]chan T, n)
	for i := range slots {
		slots[i] = make(chan T, 1)
	}

	g.Go(func() error {
		for i := range n {
			select {
			case v := <-slots[i]:
				if err := emit(i, v); err != nil {
					return err
				}
				window.Release(1)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := range n {
		if err := window.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			v, err := work(gctx, i)
			if err != nil {
				return err
			}
			slots[i] <- v
			return nil
		})
	}

	return g.Wait()
}

func runSerial[T any](ctx context.Context, n int, work func(context.Context, int) (T, error), emit func(int, T) error) error {
	for i := range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := work(ctx, i)
		if err != nil {
			return err
		}
		if err := emit(i, v); err != nil {
			return err
		}
	}
	return nil
}
