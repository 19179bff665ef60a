// Package ledgerclient provides connections to the segmented ledger storage
// ensemble backing a dlog namespace.
//
// Ledgers are append-only storage segments; this package covers their
// creation, deletion and pooled pre-allocation. Builders memoize the client
// they build and clients connect lazily, mirroring the metadata side, so all
// log handles created with shared clients observe the same live connection.
package ledgerclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/feature"
	"github.com/c360/dlog/metric"
	"github.com/c360/dlog/pkg/retry"
)

// Ledger identifies one storage segment.
type Ledger struct {
	ID       uint64 `json:"id"`
	RootPath string `json:"root_path"`
}

// LedgerStore is the narrow storage-ensemble surface consumed by the
// orchestrator. The production implementation maps ledgers onto JetStream
// streams; tests use MemLedgerStore.
type LedgerStore interface {
	CreateLedger(ctx context.Context) (uint64, error)
	DeleteLedger(ctx context.Context, id uint64) error
	LedgerExists(ctx context.Context, id uint64) (bool, error)
	Close() error
}

// Dialer opens a LedgerStore for the given ensemble.
type Dialer func(ctx context.Context, ensemble []string, opts DialOptions) (LedgerStore, error)

// DialOptions parameterizes a Dialer.
type DialOptions struct {
	Name      string
	RootPath  string
	Transport *Transport
}

// Client is a lazily-connecting storage ensemble connection.
type Client struct {
	name           string
	ensemble       []string
	rootPath       string
	sessionTimeout time.Duration
	retryPolicy    retry.Policy
	dialer         Dialer
	transport      *Transport
	logger         *slog.Logger

	mu     sync.Mutex
	store  LedgerStore
	closed atomic.Bool

	creates  prometheus.Counter
	opErrors prometheus.Counter
}

// Name returns the connection name.
func (c *Client) Name() string { return c.name }

// Ensemble returns the ensemble addresses this client targets.
func (c *Client) Ensemble() []string { return c.ensemble }

// RootPath returns the segment root path this client creates ledgers under.
func (c *Client) RootPath() string { return c.rootPath }

func (c *Client) get(ctx context.Context) (LedgerStore, error) {
	if c.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Client", "get", "use closed client")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store != nil {
		return c.store, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.sessionTimeout)
	defer cancel()

	store, err := c.dialer(dialCtx, c.ensemble, DialOptions{
		Name:      c.name,
		RootPath:  c.rootPath,
		Transport: c.transport,
	})
	if err != nil {
		if c.opErrors != nil {
			c.opErrors.Inc()
		}
		return nil, errors.WrapTransient(err, "Client", "get", "dial storage ensemble")
	}
	c.store = store
	c.logger.Info("connected to storage ensemble",
		"name", c.name, "ensemble", c.ensemble, "root_path", c.rootPath)
	return c.store, nil
}

func (c *Client) withRetry(ctx context.Context, fn func(LedgerStore) error) error {
	store, err := c.get(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, c.sessionTimeout)
	defer cancel()

	return retry.Do(opCtx, c.retryPolicy, func() error {
		err := fn(store)
		if err == nil {
			return nil
		}
		if c.opErrors != nil {
			c.opErrors.Inc()
		}
		if errors.IsTransient(err) {
			return err
		}
		return retry.NonRetryable(err)
	})
}

// CreateLedger allocates a new storage segment.
func (c *Client) CreateLedger(ctx context.Context) (*Ledger, error) {
	var id uint64
	err := c.withRetry(ctx, func(s LedgerStore) error {
		var err error
		id, err = s.CreateLedger(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if c.creates != nil {
		c.creates.Inc()
	}
	return &Ledger{ID: id, RootPath: c.rootPath}, nil
}

// DeleteLedger removes a storage segment.
func (c *Client) DeleteLedger(ctx context.Context, id uint64) error {
	return c.withRetry(ctx, func(s LedgerStore) error {
		return s.DeleteLedger(ctx, id)
	})
}

// LedgerExists reports whether a segment exists.
func (c *Client) LedgerExists(ctx context.Context, id uint64) (bool, error) {
	var exists bool
	err := c.withRetry(ctx, func(s LedgerStore) error {
		var err error
		exists, err = s.LedgerExists(ctx, id)
		return err
	})
	return exists, err
}

// Close releases the underlying session. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	store := c.store
	c.store = nil
	c.mu.Unlock()

	if store == nil {
		return nil
	}
	if err := store.Close(); err != nil {
		return errors.Wrap(err, "Client", "Close", "close ledger store")
	}
	c.logger.Info("closed storage ensemble connection", "name", c.name)
	return nil
}

// BuilderConfig holds the settings captured by a Builder.
type BuilderConfig struct {
	Name           string
	Ensemble       []string
	RootPath       string
	SessionTimeout time.Duration
	RetryPolicy    retry.Policy
	StatsScope     *metric.Scope

	// FeatureProvider scopes storage-client feature flags; only the shared
	// writer builder carries one.
	FeatureProvider feature.Provider

	// Transport is the shared low-level connection factory.
	Transport *Transport

	// Dialer opens the underlying store. Nil selects the JetStream dialer.
	Dialer Dialer

	Logger *slog.Logger
}

// Builder builds and memoizes one Client.
type Builder struct {
	cfg BuilderConfig

	mu    sync.Mutex
	built *Client
}

// NewBuilder creates a Builder from the given config.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NATSDialer()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{cfg: cfg}
}

// Config returns a copy of the builder's configuration.
func (b *Builder) Config() BuilderConfig {
	return b.cfg
}

// Build returns the builder's client, constructing it on first call.
func (b *Builder) Build() *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built != nil {
		return b.built
	}

	c := &Client{
		name:           b.cfg.Name,
		ensemble:       b.cfg.Ensemble,
		rootPath:       b.cfg.RootPath,
		sessionTimeout: b.cfg.SessionTimeout,
		retryPolicy:    b.cfg.RetryPolicy,
		dialer:         b.cfg.Dialer,
		transport:      b.cfg.Transport,
		logger:         b.cfg.Logger,
	}
	if !b.cfg.StatsScope.IsNull() {
		c.creates = b.cfg.StatsScope.Counter("ledger_creates_total", "Ledgers created")
		c.opErrors = b.cfg.StatsScope.Counter("op_errors_total", "Failed ledger operations")
	}
	b.built = c
	return c
}
