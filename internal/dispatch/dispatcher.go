// Package dispatch runs post-commit side effects (audit records, domain
// events) on a bounded pool of worker goroutines so that callers never block
// on them.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of side-effect work. Its context keeps the submitter's values
// (trace span, logger) but not its cancellation, and carries the dispatcher's
// per-job timeout.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	name string
	fn   Job
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the queue capacity. Submissions beyond it are dropped.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithJobTimeout bounds each job's context.
func WithJobTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.jobTimeout = timeout
	}
}

// WithDropHook registers a callback invoked with the job name whenever a
// submission is dropped.
func WithDropHook(fn func(name string)) Option {
	return func(d *Dispatcher) {
		d.onDrop = fn
	}
}

// Dispatcher is a bounded, non-blocking job queue.
type Dispatcher struct {
	logger     *zap.Logger
	workers    int
	queueSize  int
	jobTimeout time.Duration
	onDrop     func(name string)

	queue  chan task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New starts a Dispatcher. Defaults: 4 workers, 256 queued jobs, 10s job
// timeout.
func New(logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:     logger.Named("dispatch"),
		workers:    4,
		queueSize:  256,
		jobTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.queue = make(chan task, d.queueSize)
	d.wg.Add(d.workers)
	for range d.workers {
		go d.run()
	}
	return d
}

// Submit enqueues fn without blocking. It returns false when the queue is
// full or the dispatcher is closed; the job is then dropped.
func (d *Dispatcher) Submit(ctx context.Context, name string, fn Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(name, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- task{ctx: context.WithoutCancel(ctx), name: name, fn: fn}:
		return true
	default:
		d.drop(name, "queue full")
		return false
	}
}

func (d *Dispatcher) drop(name, reason string) {
	d.logger.Warn("side effect dropped",
		zap.String("job", name),
		zap.String("reason", reason),
	)
	if d.onDrop != nil {
		d.onDrop(name)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for t := range d.queue {
		d.execute(t)
	}
}

func (d *Dispatcher) execute(t task) {
	ctx := t.ctx
	if d.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("side effect panicked",
				zap.String("job", t.name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := t.fn(ctx); err != nil {
		d.logger.Warn("side effect failed",
			zap.String("job", t.name),
			zap.Error(err),
		)
	}
}

// Close stops accepting jobs and waits for queued jobs to finish or ctx to
// expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued, not yet started jobs.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
