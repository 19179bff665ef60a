package metaclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/metric"
	"github.com/c360/dlog/pkg/retry"
)

// Client is a lazily-connecting metadata ensemble connection. The underlying
// session is established single-flight on first use; concurrent first callers
// wait on the same dial rather than racing.
type Client struct {
	name           string
	ensemble       []string
	bucket         string
	sessionTimeout time.Duration
	retryPolicy    retry.Policy
	dialer         Dialer
	logger         *slog.Logger

	mu     sync.Mutex
	store  Store
	closed atomic.Bool

	connects prometheus.Counter
	opErrors prometheus.Counter
}

// Name returns the connection name.
func (c *Client) Name() string { return c.name }

// Ensemble returns the ensemble addresses this client targets.
func (c *Client) Ensemble() []string { return c.ensemble }

// get returns the live store, dialing it on first use.
func (c *Client) get(ctx context.Context) (Store, error) {
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

	store, err := c.dialer(dialCtx, c.ensemble, DialOptions{Name: c.name, Bucket: c.bucket})
	if err != nil {
		if c.opErrors != nil {
			c.opErrors.Inc()
		}
		return nil, errors.WrapTransient(err, "Client", "get", "dial ensemble")
	}
	c.store = store
	if c.connects != nil {
		c.connects.Inc()
	}
	c.logger.Info("connected to metadata ensemble", "name", c.name, "ensemble", c.ensemble)
	return c.store, nil
}

// withRetry runs fn against the live store under the client's retry policy.
// Non-transient errors stop the retry loop immediately.
func (c *Client) withRetry(ctx context.Context, fn func(Store) error) error {
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

// Get returns the value at key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.withRetry(ctx, func(s Store) error {
		var err error
		value, err = s.Get(ctx, key)
		return err
	})
	return value, err
}

// Put writes the value at key.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	return c.withRetry(ctx, func(s Store) error {
		return s.Put(ctx, key, value)
	})
}

// Create writes the value at key only if absent.
func (c *Client) Create(ctx context.Context, key string, value []byte) error {
	return c.withRetry(ctx, func(s Store) error {
		return s.Create(ctx, key, value)
	})
}

// Delete removes the key and everything below it.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.withRetry(ctx, func(s Store) error {
		return s.Delete(ctx, key)
	})
}

// Children lists the immediate children under path.
func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	var children []string
	err := c.withRetry(ctx, func(s Store) error {
		var err error
		children, err = s.Children(ctx, path)
		return err
	})
	return children, err
}

// Exists reports whether the key holds a value.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := c.withRetry(ctx, func(s Store) error {
		var err error
		exists, err = s.Exists(ctx, key)
		return err
	})
	return exists, err
}

// Close releases the underlying session. Safe to call more than once and on a
// client that never connected.
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
		return errors.Wrap(err, "Client", "Close", "close store")
	}
	c.logger.Info("closed metadata ensemble connection", "name", c.name)
	return nil
}

// BuilderConfig holds the settings captured by a Builder.
type BuilderConfig struct {
	// Name identifies connections built from this builder for observability.
	Name string

	// Ensemble is the metadata ensemble address set. Builders may be shared
	// across consumers only when their ensembles are equal by value.
	Ensemble []string

	// Bucket is the KV bucket holding the namespace tree.
	Bucket string

	// SessionTimeout bounds dialing and individual operations.
	SessionTimeout time.Duration

	// RetryPolicy governs per-operation retries.
	RetryPolicy retry.Policy

	// StatsScope receives connection counters; nil discards them.
	StatsScope *metric.Scope

	// Dialer opens the underlying store. Nil selects the NATS KV dialer.
	Dialer Dialer

	// Logger for connection lifecycle events. Nil selects slog.Default.
	Logger *slog.Logger
}

// Builder builds and memoizes one Client. The first Build dials nothing; the
// client connects lazily.
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
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	return &Builder{cfg: cfg}
}

// Config returns a copy of the builder's configuration.
func (b *Builder) Config() BuilderConfig {
	return b.cfg
}

// Build returns the builder's client, constructing it on first call. All
// callers of the same builder share one client instance.
func (b *Builder) Build() *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built != nil {
		return b.built
	}

	c := &Client{
		name:           b.cfg.Name,
		ensemble:       b.cfg.Ensemble,
		bucket:         b.cfg.Bucket,
		sessionTimeout: b.cfg.SessionTimeout,
		retryPolicy:    b.cfg.RetryPolicy,
		dialer:         b.cfg.Dialer,
		logger:         b.cfg.Logger,
	}
	if !b.cfg.StatsScope.IsNull() {
		c.connects = b.cfg.StatsScope.Counter("connects_total", "Sessions established")
		c.opErrors = b.cfg.StatsScope.Counter("op_errors_total", "Failed store operations")
	}
	b.built = c
	return c
}

// EqualEnsembles reports value equality of two ensemble address sets. Order
// matters; bindings are expected to list addresses consistently.
func EqualEnsembles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return stderrors.Is(err, errors.ErrKeyNotFound)
}
