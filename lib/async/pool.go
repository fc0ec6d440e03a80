// Package async provides bounded worker pool utilities.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/multibroker/errs"
)

// Task represents a unit of work executed by the pool workers.
type Task func(context.Context) error

// Option configures a Pool.
type Option func(*Pool)

// WithErrorHandler receives every task error and recovered panic.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Pool) {
		p.onError = fn
	}
}

// Pool is a bounded worker pool. Submit rejects work when the queue is full;
// SubmitWait blocks until a slot frees up.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    chan job
	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
	onError func(error)
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int, opts ...Option) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan job, queue),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules fn without blocking. It fails when the pool is closed, ctx
// is done or every worker and queue slot is busy.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	return p.submit(ctx, fn, false)
}

// SubmitWait schedules fn, waiting for queue space until ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, fn Task) error {
	return p.submit(ctx, fn, true)
}

func (p *Pool) submit(ctx context.Context, fn Task, wait bool) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit context: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}

	p.pending.Add(1)
	j := job{ctx: ctx, fn: fn}
	if wait {
		select {
		case p.jobs <- j:
			return nil
		case <-ctx.Done():
			p.pending.Done()
			return fmt.Errorf("submit context: %w", ctx.Err())
		}
	}
	select {
	case p.jobs <- j:
		return nil
	default:
		p.pending.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Close stops accepting new tasks. Queued tasks still run.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
}

// Shutdown closes the pool and waits for queued and running tasks. When ctx
// expires first, the context handed to tasks is cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		p.cancel()
		return nil
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			p.report(fmt.Errorf("task panic: %v", r))
		}
	}()
	ctx, stop := mergeDone(j.ctx, p.ctx)
	defer stop()
	if err := j.fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *Pool) report(err error) {
	if p.onError != nil {
		p.onError(err)
	}
}

// mergeDone derives a context from ctx that is also cancelled with pool.
func mergeDone(ctx, pool context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(pool, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
