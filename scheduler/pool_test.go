package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dlog/metric"
)

func TestNewPoolDefaults(t *testing.T) {
	p := NewPool("ns-scheduler", 0, 0)
	assert.Equal(t, 4, p.Workers())
	assert.Equal(t, "ns-scheduler", p.Name())
}

func TestSubmitBeforeStart(t *testing.T) {
	p := NewPool("ns-scheduler", 2, 8)
	err := p.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStartTwice(t *testing.T) {
	p := NewPool("ns-scheduler", 2, 8)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, p.Stop(time.Second))
}

func TestTasksExecute(t *testing.T) {
	p := NewPool("ns-scheduler", 2, 32)
	require.NoError(t, p.Start(context.Background()))

	var done sync.WaitGroup
	var count atomic.Int64
	for i := 0; i < 20; i++ {
		done.Add(1)
		require.NoError(t, p.Submit(func(context.Context) {
			count.Add(1)
			done.Done()
		}))
	}
	done.Wait()
	assert.Equal(t, int64(20), count.Load())

	require.NoError(t, p.Stop(time.Second))
	stats := p.Stats()
	assert.Equal(t, int64(20), stats.Submitted)
	assert.Equal(t, int64(20), stats.Completed)
}

func TestQueueFull(t *testing.T) {
	p := NewPool("ns-scheduler", 1, 1)
	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop(time.Second) }()

	block := make(chan struct{})
	// Occupy the single worker.
	require.NoError(t, p.Submit(func(context.Context) { <-block }))

	// Fill the queue, then expect ErrQueueFull. The worker may have already
	// dequeued the first task, so allow one extra successful submit.
	var sawFull bool
	for i := 0; i < 3; i++ {
		if err := p.Submit(func(context.Context) { <-block }); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			sawFull = true
			break
		}
	}
	assert.True(t, sawFull, "expected queue to fill")
	close(block)
}

func TestPoolOutlivesStartContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool("ns-scheduler", 2, 8)
	require.NoError(t, p.Start(ctx))
	defer func() { _ = p.Stop(time.Second) }()

	// A caller often starts the pool under a bounded construction context.
	// Ending that context must not take the workers with it.
	cancel()

	var done sync.WaitGroup
	var count atomic.Int64
	for i := 0; i < 5; i++ {
		done.Add(1)
		require.NoError(t, p.Submit(func(taskCtx context.Context) {
			assert.NoError(t, taskCtx.Err())
			count.Add(1)
			done.Done()
		}))
	}
	done.Wait()
	assert.Equal(t, int64(5), count.Load())
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	p := NewPool("ns-scheduler", 1, 16)
	require.NoError(t, p.Start(context.Background()))

	var count atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(context.Context) {
			time.Sleep(time.Millisecond)
			count.Add(1)
		}))
	}
	require.NoError(t, p.Stop(5*time.Second))
	assert.Equal(t, int64(10), count.Load())

	// Submit after stop fails.
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrStopped)
}

func TestStopTimeout(t *testing.T) {
	p := NewPool("ns-scheduler", 1, 4)
	require.NoError(t, p.Start(context.Background()))

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, p.Submit(func(context.Context) { <-block }))

	err := p.Stop(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
}

func TestStopIdempotent(t *testing.T) {
	p := NewPool("ns-scheduler", 1, 4)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(time.Second))
	require.NoError(t, p.Stop(time.Second))
	// Stopping a never-started pool is also a no-op.
	assert.NoError(t, NewPool("idle", 1, 4).Stop(time.Second))
}

func TestPoolMetrics(t *testing.T) {
	reg := metric.NewRegistry()
	scope := reg.RootScope("dlog").Scope("factory").Scope("thread_pool")
	p := NewPool("ns-scheduler", 2, 8, WithScope(scope))
	require.NoError(t, p.Start(context.Background()))

	var done sync.WaitGroup
	done.Add(1)
	require.NoError(t, p.Submit(func(context.Context) { done.Done() }))
	done.Wait()
	require.NoError(t, p.Stop(time.Second))

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "dlog_factory_thread_pool_queue_depth")
	assert.Contains(t, names, "dlog_factory_thread_pool_task_duration_seconds")
}
