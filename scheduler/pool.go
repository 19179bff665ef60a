// Package scheduler provides named, bounded worker pools that execute
// asynchronous tasks for a namespace.
//
// A namespace owns a general-purpose pool plus an optional dedicated
// read-ahead pool; when no read-ahead worker count is configured both roles
// alias a single pool. Stop drains queued tasks up to a bounded grace period
// and reports ErrStopTimeout when workers are still busy, which callers treat
// as a logged, non-fatal condition.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dlog/metric"
)

// Task is a unit of asynchronous work executed by the pool.
type Task func(ctx context.Context)

// Pool is a named bounded worker pool.
type Pool struct {
	name      string
	workers   int
	queueSize int

	taskChan chan Task
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	runCtx      context.Context
	cancel      context.CancelFunc

	// Statistics (atomic)
	submitted atomic.Int64
	completed atomic.Int64
	dropped   atomic.Int64

	// Optional prometheus instrumentation
	queueDepth  prometheus.Gauge
	taskLatency prometheus.Histogram
}

// Option configures a Pool.
type Option func(*Pool)

// WithScope registers pool metrics under the given metric scope.
func WithScope(scope *metric.Scope) Option {
	return func(p *Pool) {
		if scope.IsNull() {
			return
		}
		p.queueDepth = scope.Gauge("queue_depth", "Tasks waiting in the scheduler queue")
		p.taskLatency = scope.Histogram("task_duration_seconds", "Task execution time",
			[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0})
	}
}

// NewPool creates a scheduler pool. Non-positive workers or queueSize fall
// back to defaults.
func NewPool(name string, workers, queueSize int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Pool{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		taskChan:  make(chan Task, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Workers returns the configured worker count.
func (p *Pool) Workers() int { return p.workers }

// Start launches the workers. Tasks run on a pool-lifetime context that is
// cancelled only by Stop; the caller's context contributes values, not
// cancellation, so a pool started under a request-scoped context keeps
// running after that context ends.
func (p *Pool) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	p.runCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(p.runCtx)
	}
	p.started = true
	return nil
}

// Submit enqueues a task without blocking. A full queue returns ErrQueueFull.
func (p *Pool) Submit(task Task) error {
	// The lock is held across the send so Stop cannot close the queue
	// between the state check and the enqueue.
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrNotStarted
	}
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.taskChan <- task:
		p.submitted.Add(1)
		if p.queueDepth != nil {
			p.queueDepth.Set(float64(len(p.taskChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Stop closes the queue, waits up to timeout for workers to drain, then
// cancels the pool context. Stopping an unstarted or already-stopped pool is
// a no-op.
func (p *Pool) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.taskChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		// Cancel so stuck tasks observe Done; their workers exit once they
		// return.
		p.cancel()
		return ErrStopTimeout
	}
}

// Stats reports pool counters.
type Stats struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	QueueDepth int    `json:"queue_depth"`
	Submitted  int64  `json:"submitted"`
	Completed  int64  `json:"completed"`
	Dropped    int64  `json:"dropped"`
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:       p.name,
		Workers:    p.workers,
		QueueDepth: len(p.taskChan),
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			start := time.Now()
			task(ctx)
			p.completed.Add(1)
			if p.taskLatency != nil {
				p.taskLatency.Observe(time.Since(start).Seconds())
			}
			if p.queueDepth != nil {
				p.queueDepth.Set(float64(len(p.taskChan)))
			}
		}
	}
}
