package namespace

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/c360/dlog/config"
	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/feature"
	"github.com/c360/dlog/ledgerclient"
	"github.com/c360/dlog/logmeta"
	"github.com/c360/dlog/metaclient"
	"github.com/c360/dlog/metric"
	"github.com/c360/dlog/scheduler"
)

// Builder assembles a Namespace. Conf and URI are required; everything else
// has a default. Build opens one bootstrap metadata connection, resolves the
// namespace binding through it, and hands the connection to the namespace as
// its writer-side metadata connection.
type Builder struct {
	// Conf is the namespace configuration. Required.
	Conf *config.NamespaceConfig

	// URI is the namespace location (dlog://ensemble/path). Required.
	URI *url.URL

	// StatsScope receives namespace-level metrics. Defaults to a null scope.
	StatsScope *metric.Scope

	// PerLogStatsScope receives per-log metrics. When nil and the
	// configuration enables per-stream stats, a "stream" sub-scope of
	// StatsScope is used.
	PerLogStatsScope *metric.Scope

	// FeatureProvider supplies runtime flags. Defaults to an all-off
	// settable provider.
	FeatureProvider feature.Provider

	// ClientID identifies this process to the cluster. Defaults to the
	// hostname, falling back to a random identity.
	ClientID string

	// RegionID identifies the region for cross-region setups.
	RegionID int32

	Logger *slog.Logger

	// MetaDialer and LedgerDialer open the underlying stores. Nil selects
	// the production JetStream dialers; tests inject in-memory ones.
	MetaDialer   metaclient.Dialer
	LedgerDialer ledgerclient.Dialer
}

// DefaultClientID derives the default client identity.
func DefaultClientID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "dlog-" + uuid.NewString()
}

// Build validates the inputs, resolves the namespace binding, and constructs
// a ready-to-use Namespace. The bootstrap metadata connection opened here
// becomes the namespace's writer-side metadata connection. On failure every
// resource opened so far is released and no namespace is returned.
func (b Builder) Build(ctx context.Context) (*Namespace, error) {
	if err := ValidateConfAndURI(b.Conf, b.URI); err != nil {
		return nil, err
	}

	conf := b.Conf.Clone()
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("namespace", b.URI.Path)

	statsScope := b.StatsScope
	if statsScope.IsNull() {
		statsScope = metric.NullScope()
	}
	features := b.FeatureProvider
	if features == nil {
		features = feature.NewSettableProvider("", 0)
	}
	clientID := b.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}
	metaDialer := b.MetaDialer
	if metaDialer == nil {
		metaDialer = metaclient.NATSDialer()
	}
	ledgerDialer := b.LedgerDialer

	nsName := strings.ReplaceAll(strings.Trim(b.URI.Path, "/"), "/", "_")

	// Bootstrap metadata connection; it stays on as the writer side.
	writerMetaBuilder := metaclient.NewBuilder(metaclient.BuilderConfig{
		Name:           "dlog_" + nsName + "_writer",
		Ensemble:       EnsembleFromURI(b.URI),
		SessionTimeout: conf.MetadataSessionTimeout,
		RetryPolicy:    conf.MetadataRetry,
		StatsScope:     statsScope.Scope("meta_writer"),
		Dialer:         metaDialer,
		Logger:         logger,
	})
	writerMeta := writerMetaBuilder.Build()

	binding, err := ResolveBinding(ctx, writerMeta, b.URI)
	if err != nil {
		_ = writerMeta.Close()
		return nil, err
	}
	binding.Propagate(&conf)

	// Reader metadata side aliases the writer builder when the resolved
	// ensembles match, so both sides share one live connection.
	readerMetaBuilder := writerMetaBuilder
	if !metaclient.EqualEnsembles(binding.ReaderMetadataEnsemble, writerMeta.Ensemble()) {
		readerMetaBuilder = metaclient.NewBuilder(metaclient.BuilderConfig{
			Name:           "dlog_" + nsName + "_reader",
			Ensemble:       binding.ReaderMetadataEnsemble,
			SessionTimeout: conf.MetadataSessionTimeout,
			RetryPolicy:    conf.MetadataRetry,
			StatsScope:     statsScope.Scope("meta_reader"),
			Dialer:         metaDialer,
			Logger:         logger,
		})
	}
	readerMeta := readerMetaBuilder.Build()

	perLogScope := b.PerLogStatsScope
	if perLogScope.IsNull() {
		if conf.EnablePerStreamStat {
			perLogScope = statsScope.Scope("stream")
		} else {
			perLogScope = metric.NullScope()
		}
	}

	n := &Namespace{
		conf:     conf,
		uri:      b.URI,
		binding:  binding,
		clientID: clientID,
		regionID: b.RegionID,
		logger:   logger,

		statsScope:          statsScope,
		perLogStatsScope:    perLogScope,
		readAheadExceptions: statsScope.Scope("readahead_exceptions"),
		features:            features,

		writerMetaBuilder: writerMetaBuilder,
		readerMetaBuilder: readerMetaBuilder,
		writerMeta:        writerMeta,
		readerMeta:        readerMeta,

		metaDialer:   metaDialer,
		ledgerDialer: ledgerDialer,
	}

	if err := n.finishBuild(ctx); err != nil {
		n.releasePartial()
		return nil, err
	}

	logger.Info("namespace ready",
		"client_id", clientID,
		"federated", conf.Federated,
		"allocator_pool", n.allocator != nil)
	return n, nil
}

// finishBuild wires everything downstream of the resolved binding. On error
// the caller releases whatever was constructed.
func (n *Namespace) finishBuild(ctx context.Context) error {
	conf := &n.conf
	binding := n.binding
	nsName := strings.ReplaceAll(strings.Trim(n.uri.Path, "/"), "/", "_")

	// Scheduler pools. The read-ahead pool aliases the general one unless
	// it is separately sized.
	n.sched = scheduler.NewPool("dlog_scheduler", conf.NumWorkerThreads, conf.SchedulerQueueSize,
		scheduler.WithScope(n.statsScope.Scope("scheduler")))
	if err := n.sched.Start(ctx); err != nil {
		return err
	}
	n.readAheadSched = n.sched
	if conf.NumReadAheadWorkerThreads > 0 {
		n.readAheadSched = scheduler.NewPool("dlog_readahead", conf.NumReadAheadWorkerThreads, conf.SchedulerQueueSize,
			scheduler.WithScope(n.statsScope.Scope("readahead")))
		if err := n.readAheadSched.Start(ctx); err != nil {
			return err
		}
	}

	// Storage side, with the same equality-based reader aliasing.
	n.transport = ledgerclient.NewTransport()
	n.writerLedgerBuilder = ledgerclient.NewBuilder(ledgerclient.BuilderConfig{
		Name:            "dlog_" + nsName + "_ledger_writer",
		Ensemble:        binding.StorageEnsemble,
		RootPath:        binding.LedgerRootPath,
		SessionTimeout:  conf.LedgerSessionTimeout,
		RetryPolicy:     conf.LedgerRetry,
		StatsScope:      n.statsScope.Scope("ledger_writer"),
		FeatureProvider: n.features.Scope("ledger"),
		Transport:       n.transport,
		Dialer:          n.ledgerDialer,
		Logger:          n.logger,
	})
	n.readerLedgerBuilder = n.writerLedgerBuilder
	if !metaclient.EqualEnsembles(binding.ReaderStorageEnsemble, binding.StorageEnsemble) {
		n.readerLedgerBuilder = ledgerclient.NewBuilder(ledgerclient.BuilderConfig{
			Name:           "dlog_" + nsName + "_ledger_reader",
			Ensemble:       binding.ReaderStorageEnsemble,
			RootPath:       binding.LedgerRootPath,
			SessionTimeout: conf.LedgerSessionTimeout,
			RetryPolicy:    conf.LedgerRetry,
			StatsScope:     n.statsScope.Scope("ledger_reader"),
			Transport:      n.transport,
			Dialer:         n.ledgerDialer,
			Logger:         n.logger,
		})
	}
	n.writerLedger = n.writerLedgerBuilder.Build()
	n.readerLedger = n.readerLedgerBuilder.Build()

	// Metadata store selector: chosen once, never switched.
	storeOpts := []logmeta.SimpleStoreOption{
		logmeta.WithLogger(n.logger),
		logmeta.WithPollInterval(conf.ListenerPollInterval),
	}
	if conf.Federated {
		n.metadataStore = logmeta.NewFederatedStore(n.writerMeta, n.uri, storeOpts...)
	} else {
		n.metadataStore = logmeta.NewSimpleStore(n.writerMeta, n.uri, storeOpts...)
	}
	n.writerStreamStore = logmeta.NewStreamStore(n.writerMeta, n.logger)
	n.readerStreamStore = logmeta.NewStreamStore(n.readerMeta, n.logger)
	n.segmentCache = logmeta.NewSegmentCache(conf.LogSegmentCacheTTL)

	n.limiter = NewWriteLimiter(conf.GlobalOutstandingWriteLimit, conf.WriteLimitDarkmode,
		n.features, n.statsScope.Scope("write_limiter"))

	if conf.EnableLedgerAllocatorPool {
		if err := validateAllocatorPool(conf, n.uri); err != nil {
			return err
		}
		alloc, err := ledgerclient.NewPoolAllocator(ledgerclient.PoolAllocatorConfig{
			Client:    n.writerLedger,
			CoreSize:  conf.LedgerAllocatorPoolCoreSize,
			Scheduler: n.sched,
			Scope:     n.statsScope.Scope("allocator"),
			Logger:    n.logger,
		})
		if err != nil {
			return err
		}
		if alloc == nil {
			// Pool construction yielded no allocator; degrade to inline
			// allocation rather than failing the namespace.
			n.logger.Warn("ledger allocator pool unavailable, allocating inline")
		} else {
			if err := alloc.Start(ctx); err != nil {
				return err
			}
			n.allocator = alloc
		}
	}
	return nil
}

// validateAllocatorPool checks the allocator pool path rules: the path must
// be relative to the namespace (start with "."), must not end with a
// separator, and needs a pool name so the combined hierarchical path is
// well formed.
func validateAllocatorPool(conf *config.NamespaceConfig, uri *url.URL) error {
	poolPath := conf.LedgerAllocatorPoolPath
	if !strings.HasPrefix(poolPath, ".") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: allocator pool path %q must start with '.'", errors.ErrInvalidConfig, poolPath),
			"Namespace", "Build", "check allocator pool path")
	}
	if strings.HasSuffix(poolPath, "/") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: allocator pool path %q must not end with '/'", errors.ErrInvalidConfig, poolPath),
			"Namespace", "Build", "check allocator pool path")
	}
	if conf.LedgerAllocatorPoolName == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: allocator pool name is required", errors.ErrInvalidConfig),
			"Namespace", "Build", "check allocator pool name")
	}
	combined := strings.TrimSuffix(uri.Path, "/") + "/" + poolPath + "/" + conf.LedgerAllocatorPoolName
	if strings.Contains(combined, "//") {
		return errors.WrapInvalid(
			fmt.Errorf("%w: allocator pool path %q is not a valid hierarchical path", errors.ErrInvalidConfig, combined),
			"Namespace", "Build", "check allocator pool path")
	}
	return nil
}
