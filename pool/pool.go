// Package pool provides a bounded worker pool with promise and
// fire-and-forget scheduling plus a barrier wait over outstanding work.
//
// Pools are constructed explicitly and passed to the components that need
// concurrency — there is no process-wide singleton — so tests get per-test
// isolation and callers control sizing.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hyouka/internal/telemetry"
)

// DefaultSize is the worker count used when New is given a non-positive size.
const DefaultSize = 8

// Promise is a handle to a submitted task. Get blocks until the task
// completes and re-raises the task's error in the calling goroutine.
type Promise struct {
	done chan struct{}
	val  any
	err  error
}

// Get blocks until the task completes, returning its value or error.
func (p *Promise) Get() (any, error) {
	<-p.done
	return p.val, p.err
}

// Pool is a fixed-size worker pool. Submissions are executed in FIFO order
// per worker; no further fairness or priority guarantees are made.
// All methods are safe for concurrent use.
type Pool struct {
	logger *slog.Logger
	tasks  chan func()

	outstanding atomic.Int64
	work        sync.WaitGroup // outstanding tasks, for AwaitAll
	workers     sync.WaitGroup // worker goroutines, for Close

	closeOnce sync.Once
	metrics   sync.Once
}

// New starts a pool with the given number of workers. A non-positive size
// uses DefaultSize. A nil logger falls back to slog.Default().
func New(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger: logger,
		tasks:  make(chan func(), size*4),
	}
	p.workers.Add(size)
	for range size {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit schedules fn for execution on a worker and returns a promise for
// its result. Submit blocks only when the task queue is full.
func (p *Pool) Submit(fn func() (any, error)) *Promise {
	pr := &Promise{done: make(chan struct{})}
	p.enqueue(func() {
		defer close(pr.done)
		defer p.recoverInto(&pr.err)
		pr.val, pr.err = fn()
	})
	return pr
}

// RunLater schedules fn without a handle. Errors (and panics) are logged,
// never propagated.
func (p *Pool) RunLater(fn func() error) {
	p.enqueue(func() {
		var err error
		func() {
			defer p.recoverInto(&err)
			err = fn()
		}()
		if err != nil {
			p.logger.Warn("pool: deferred task failed", "error", err)
		}
	})
}

func (p *Pool) enqueue(task func()) {
	p.work.Add(1)
	p.outstanding.Add(1)
	p.tasks <- func() {
		defer p.work.Done()
		defer p.outstanding.Add(-1)
		task()
	}
}

// recoverInto converts a task panic into an error so a misbehaving
// implementation cannot kill a worker.
func (p *Pool) recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("pool: task panicked: %v", r)
	}
}

// AwaitAll blocks until all currently outstanding work completes or the
// timeout elapses, whichever comes first. It reports whether the pool
// drained. Outstanding work is never cancelled on timeout.
func (p *Pool) AwaitAll(timeout time.Duration) bool {
	drained := make(chan struct{})
	go func() {
		p.work.Wait()
		close(drained)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}

// Outstanding returns the number of tasks submitted but not yet completed.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Close stops accepting work and waits for the workers to finish the queue.
// Submitting after Close panics.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
		p.workers.Wait()
	})
}

// RegisterMetrics registers an observable gauge for outstanding work.
// Call after the global meter provider is initialized.
func (p *Pool) RegisterMetrics() {
	p.metrics.Do(func() {
		meter := telemetry.Meter("hyouka/pool")
		_, _ = meter.Int64ObservableGauge("hyouka.pool.outstanding",
			metric.WithDescription("Tasks submitted to the worker pool but not yet completed"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(p.Outstanding())
				return nil
			}),
		)
	})
}
