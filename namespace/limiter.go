package namespace

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/feature"
	"github.com/c360/dlog/metric"
)

// WriteLimiter gates the number of outstanding write operations across every
// log in the namespace. Resolved once at construction into one of four
// behaviors: enabled, darkmode (counts but never blocks), disabled by the
// runtime feature flag, or null (no limit configured).
type WriteLimiter interface {
	// Acquire claims one write permit. The returned release function must
	// be called exactly once when the write completes.
	Acquire(ctx context.Context) (release func(), err error)

	// Outstanding reports the current number of claimed permits.
	Outstanding() int64

	Close() error
}

// NewWriteLimiter builds the limiter for the given limit. A negative limit
// yields the null limiter. The disable_write_limit feature is consulted on
// every acquire, so flipping it at runtime takes effect immediately.
func NewWriteLimiter(limit int, darkmode bool, features feature.Provider, scope *metric.Scope) WriteLimiter {
	if limit < 0 {
		return nullLimiter{}
	}
	l := &permitLimiter{
		limit:    int64(limit),
		darkmode: darkmode,
		sem:      semaphore.NewWeighted(int64(limit)),
	}
	if features != nil {
		l.disabled = features.GetFeature(feature.KeyDisableWriteLimit)
	}
	if !scope.IsNull() {
		l.outstandingGauge = scope.Gauge("outstanding_writes", "Writes currently holding a permit")
		l.rejected = scope.Counter("writes_rejected_total", "Writes denied a permit")
		l.darkmodeOver = scope.Counter("darkmode_over_limit_total", "Writes that would have been denied in darkmode")
	}
	return l
}

// nullLimiter always permits; it backs namespaces with no configured limit.
type nullLimiter struct{}

func (nullLimiter) Acquire(context.Context) (func(), error) { return func() {}, nil }
func (nullLimiter) Outstanding() int64                      { return 0 }
func (nullLimiter) Close() error                            { return nil }

type permitLimiter struct {
	limit    int64
	darkmode bool
	sem      *semaphore.Weighted
	disabled feature.Feature

	outstanding atomic.Int64
	closed      atomic.Bool

	outstandingGauge prometheus.Gauge
	rejected         prometheus.Counter
	darkmodeOver     prometheus.Counter
}

func (l *permitLimiter) Acquire(_ context.Context) (func(), error) {
	if l.closed.Load() {
		return nil, errors.Wrap(errors.ErrAlreadyClosed, "WriteLimiter", "Acquire", "claim permit")
	}

	if l.disabled != nil && l.disabled.IsAvailable() {
		return l.claim(false), nil
	}
	if l.darkmode {
		if l.outstanding.Load() >= l.limit && l.darkmodeOver != nil {
			l.darkmodeOver.Inc()
		}
		return l.claim(false), nil
	}
	if !l.sem.TryAcquire(1) {
		if l.rejected != nil {
			l.rejected.Inc()
		}
		return nil, errors.Wrap(errors.ErrPermitDenied, "WriteLimiter", "Acquire", "claim permit")
	}
	return l.claim(true), nil
}

// claim records one outstanding write and returns its once-only release.
func (l *permitLimiter) claim(held bool) func() {
	n := l.outstanding.Add(1)
	if l.outstandingGauge != nil {
		l.outstandingGauge.Set(float64(n))
	}
	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		n := l.outstanding.Add(-1)
		if l.outstandingGauge != nil {
			l.outstandingGauge.Set(float64(n))
		}
		if held {
			l.sem.Release(1)
		}
	}
}

func (l *permitLimiter) Outstanding() int64 { return l.outstanding.Load() }

func (l *permitLimiter) Close() error {
	l.closed.Store(true)
	return nil
}
