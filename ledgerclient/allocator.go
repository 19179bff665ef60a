package ledgerclient

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/metric"
	"github.com/c360/dlog/scheduler"
)

// Allocator hands out pre-created ledgers so that segment rollover does
// not pay storage round-trip latency on the write path.
type Allocator interface {
	// Start primes the pool. Allocate works before Start, falling back
	// to synchronous creation.
	Start(ctx context.Context) error
	// Allocate returns a ready ledger, creating one synchronously when
	// the pool is empty.
	Allocate(ctx context.Context) (*Ledger, error)
	// Stop drains the pool and best-effort deletes unclaimed ledgers.
	Stop(timeout time.Duration) error
}

// PoolAllocator keeps a buffered channel of pre-created ledgers and
// refills it in the background after each Allocate.
type PoolAllocator struct {
	client  *Client
	pool    chan *Ledger
	sched   *scheduler.Pool
	logger  *slog.Logger
	stopped atomic.Bool

	poolGauge prometheus.Gauge
}

// PoolAllocatorConfig configures NewPoolAllocator.
type PoolAllocatorConfig struct {
	Client    *Client
	CoreSize  int
	Scheduler *scheduler.Pool
	Scope     *metric.Scope
	Logger    *slog.Logger
}

// NewPoolAllocator creates a pool allocator. A CoreSize of zero or less
// returns a nil allocator, which callers treat as "allocate inline".
func NewPoolAllocator(cfg PoolAllocatorConfig) (*PoolAllocator, error) {
	if cfg.CoreSize <= 0 {
		return nil, nil
	}
	if cfg.Client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "PoolAllocator", "New", "check ledger client")
	}
	if cfg.Scheduler == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "PoolAllocator", "New", "check scheduler")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scope := cfg.Scope
	if scope.IsNull() {
		scope = metric.NullScope()
	}
	a := &PoolAllocator{
		client:    cfg.Client,
		pool:      make(chan *Ledger, cfg.CoreSize),
		sched:     cfg.Scheduler,
		logger:    logger.With("component", "ledger_allocator"),
		poolGauge: scope.Gauge("allocator_pool_size", "Pre-created ledgers available in the pool"),
	}
	return a, nil
}

// Start fills the pool to capacity. Errors priming individual slots are
// logged and retried by later refills rather than failing startup.
func (a *PoolAllocator) Start(ctx context.Context) error {
	if a.stopped.Load() {
		return errors.ErrAllocatorStopped
	}
	for i := 0; i < cap(a.pool); i++ {
		if err := a.refillOne(ctx); err != nil {
			a.logger.Warn("pool priming incomplete", "filled", i, "capacity", cap(a.pool), "error", err)
			break
		}
	}
	a.poolGauge.Set(float64(len(a.pool)))
	return nil
}

// Allocate pops a pre-created ledger, or creates one synchronously when
// the pool is empty. A background refill is scheduled either way.
func (a *PoolAllocator) Allocate(ctx context.Context) (*Ledger, error) {
	if a.stopped.Load() {
		return nil, errors.ErrAllocatorStopped
	}
	defer a.scheduleRefill()
	select {
	case l := <-a.pool:
		a.poolGauge.Set(float64(len(a.pool)))
		return l, nil
	default:
	}
	return a.create(ctx)
}

// Stop drains the pool and deletes every unclaimed ledger. Deletion
// failures are logged, not returned, so shutdown always completes.
func (a *PoolAllocator) Stop(timeout time.Duration) error {
	if !a.stopped.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		select {
		case l := <-a.pool:
			if err := a.client.DeleteLedger(ctx, l.ID); err != nil {
				a.logger.Warn("failed to reclaim pooled ledger", "ledger", l.ID, "error", err)
			}
		default:
			a.poolGauge.Set(0)
			return nil
		}
	}
}

func (a *PoolAllocator) create(ctx context.Context) (*Ledger, error) {
	return a.client.CreateLedger(ctx)
}

func (a *PoolAllocator) refillOne(ctx context.Context) error {
	l, err := a.create(ctx)
	if err != nil {
		return err
	}
	select {
	case a.pool <- l:
		return nil
	default:
		// Pool filled up behind us; give the ledger back.
		if derr := a.client.DeleteLedger(ctx, l.ID); derr != nil {
			a.logger.Warn("failed to reclaim surplus ledger", "ledger", l.ID, "error", derr)
		}
		return nil
	}
}

func (a *PoolAllocator) scheduleRefill() {
	err := a.sched.Submit(func(ctx context.Context) {
		if a.stopped.Load() {
			return
		}
		if err := a.refillOne(ctx); err != nil {
			a.logger.Warn("pool refill failed", "error", err)
			return
		}
		a.poolGauge.Set(float64(len(a.pool)))
	})
	if err != nil {
		a.logger.Debug("refill not scheduled", "error", err)
	}
}
