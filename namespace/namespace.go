package namespace

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/c360/dlog/config"
	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/feature"
	"github.com/c360/dlog/ledgerclient"
	"github.com/c360/dlog/logmeta"
	"github.com/c360/dlog/metaclient"
	"github.com/c360/dlog/metric"
	"github.com/c360/dlog/scheduler"
)

// Namespace owns the pooled resources behind a set of log streams: the four
// shared connections (writer/reader, metadata/storage), the scheduler pools,
// the ledger allocator, and the write admission limiter. Log handles are
// created through it and share these resources per the chosen sharing option.
//
// All public operations check the closed flag first; Close tears everything
// down exactly once regardless of concurrent callers.
type Namespace struct {
	conf     config.NamespaceConfig
	uri      *url.URL
	binding  *Binding
	clientID string
	regionID int32
	logger   *slog.Logger

	statsScope          *metric.Scope
	perLogStatsScope    *metric.Scope
	readAheadExceptions *metric.Scope
	features            feature.Provider

	writerMetaBuilder *metaclient.Builder
	readerMetaBuilder *metaclient.Builder
	writerMeta        *metaclient.Client
	readerMeta        *metaclient.Client

	transport           *ledgerclient.Transport
	writerLedgerBuilder *ledgerclient.Builder
	readerLedgerBuilder *ledgerclient.Builder
	writerLedger        *ledgerclient.Client
	readerLedger        *ledgerclient.Client

	// Per-stream storage-metadata connection pair, built lazily at most
	// once under perStreamMu by the first handle using the
	// SharedMetadataPerStreamStorageClient option.
	perStreamMu         sync.Mutex
	perStreamWriterMeta *metaclient.Client
	perStreamReaderMeta *metaclient.Client

	sched          *scheduler.Pool
	readAheadSched *scheduler.Pool

	metadataStore     logmeta.LogMetadataStore
	writerStreamStore logmeta.LogStreamMetadataStore
	readerStreamStore logmeta.LogStreamMetadataStore
	segmentCache      *logmeta.SegmentCache

	allocator ledgerclient.Allocator
	limiter   WriteLimiter

	aclMu sync.Mutex
	acl   AccessControlManager

	closed atomic.Bool

	metaDialer   metaclient.Dialer
	ledgerDialer ledgerclient.Dialer
}

func (n *Namespace) checkOpen(method string) error {
	if n.closed.Load() {
		return errors.Wrap(errors.ErrAlreadyClosed, "Namespace", method, "use namespace")
	}
	return nil
}

func (n *Namespace) checkLegacy(method string) error {
	if err := n.checkOpen(method); err != nil {
		return err
	}
	if n.conf.Federated {
		return errors.WrapInvalid(errors.ErrUnsupportedOperation, "Namespace", method, "use fixed-location operation on federated namespace")
	}
	return nil
}

// URI returns the namespace location.
func (n *Namespace) URI() *url.URL { return n.uri }

// Conf returns a copy of the namespace configuration with binding fields
// propagated.
func (n *Namespace) Conf() config.NamespaceConfig { return n.conf.Clone() }

// ClientID returns the client identity the namespace was built with.
func (n *Namespace) ClientID() string { return n.clientID }

// CreateLog creates the named log in the namespace: registers the name with
// the metadata store and creates its stream metadata node. An existing log
// fails with errors.ErrLogExists.
func (n *Namespace) CreateLog(ctx context.Context, name string) error {
	if err := n.checkOpen("CreateLog"); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	loc, err := n.metadataStore.CreateLog(ctx, name)
	if err != nil {
		return err
	}
	// The store's atomic create is the duplicate signal: concurrent creators
	// of the same name get exactly one success.
	_, err = n.writerStreamStore.CreateLog(ctx, loc, name)
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrLogExists) {
		return errors.WrapInvalid(errors.ErrLogExists, "Namespace", "CreateLog", "create "+name)
	}
	// A registered name must not outlive a failed stream node creation, or
	// the name wedges: create reports it exists while open reports not found.
	if rmErr := n.metadataStore.RemoveLog(ctx, name); rmErr != nil {
		n.logger.Warn("failed to roll back log registration", "log", name, "error", rmErr)
	}
	return err
}

// DeleteLog deletes the named log. The log is opened first so deletion runs
// through its own handle, mirroring how consumers release a log.
func (n *Namespace) DeleteLog(ctx context.Context, name string) error {
	if err := n.checkOpen("DeleteLog"); err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	loc, ok, err := n.metadataStore.GetLogLocation(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(errors.ErrLogNotFound, "Namespace", "DeleteLog", "resolve "+name)
	}

	handle, err := n.newHandle(ctx, name, loc, SharedClients, nil, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = handle.Close() }()

	if err := handle.Delete(ctx); err != nil {
		return err
	}
	if err := n.metadataStore.RemoveLog(ctx, name); err != nil {
		return err
	}
	n.logger.Info("deleted log", "log", name)
	return nil
}

// OpenLog opens a handle to an existing log. A name with no resolved
// location, or whose stream metadata node is absent, fails with
// errors.ErrLogNotFound before any handle is constructed.
func (n *Namespace) OpenLog(ctx context.Context, name string, opts ...OpenOption) (*LogManager, error) {
	if err := n.checkOpen("OpenLog"); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	loc, ok, err := n.metadataStore.GetLogLocation(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrap(errors.ErrLogNotFound, "Namespace", "OpenLog", "resolve "+name)
	}
	if err := n.readerStreamStore.LogExists(ctx, loc, name); err != nil {
		return nil, err
	}

	return n.newHandle(ctx, name, loc, SharedClients, o.override, o.dynamic, o.perLogScope)
}

// OpenOption adjusts a single OpenLog call.
type OpenOption func(*openOptions)

type openOptions struct {
	override    *config.Override
	dynamic     config.DynamicConfig
	perLogScope *metric.Scope
}

// WithConfigOverride applies per-call configuration overrides on top of the
// namespace configuration.
func WithConfigOverride(o *config.Override) OpenOption {
	return func(opts *openOptions) { opts.override = o }
}

// WithDynamicConfig supplies a live dynamic configuration instead of the
// static view derived from the merged configuration.
func WithDynamicConfig(d config.DynamicConfig) OpenOption {
	return func(opts *openOptions) { opts.dynamic = d }
}

// WithPerLogStatsScope overrides the per-log stats sink for this handle.
func WithPerLogStatsScope(s *metric.Scope) OpenOption {
	return func(opts *openOptions) { opts.perLogScope = s }
}

// LogExists reports whether the named log exists. A missing location mapping
// or a missing stream metadata node is existence-false, not an error.
func (n *Namespace) LogExists(ctx context.Context, name string) (bool, error) {
	if err := n.checkOpen("LogExists"); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, err
	}

	loc, ok, err := n.metadataStore.GetLogLocation(ctx, name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	err = n.readerStreamStore.LogExists(ctx, loc, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errors.ErrLogNotFound):
		return false, nil
	default:
		return false, err
	}
}

// GetLogs lists the log names in the namespace. The listing is fresh per
// call; callers re-invoke to restart it.
func (n *Namespace) GetLogs(ctx context.Context) ([]string, error) {
	if err := n.checkOpen("GetLogs"); err != nil {
		return nil, err
	}
	return n.metadataStore.GetLogs(ctx)
}

// RegisterNamespaceListener subscribes to changes of the namespace's log
// set.
func (n *Namespace) RegisterNamespaceListener(l logmeta.NamespaceListener) error {
	if err := n.checkOpen("RegisterNamespaceListener"); err != nil {
		return err
	}
	n.metadataStore.RegisterListener(l)
	return nil
}

// CreateAccessControlManager returns the namespace's access control manager,
// building it on first call. With no configured ACL root the manager is
// permissive; otherwise the root must be a reserved name and entries are
// resolved from the quorum store beneath it.
func (n *Namespace) CreateAccessControlManager() (AccessControlManager, error) {
	if err := n.checkOpen("CreateAccessControlManager"); err != nil {
		return nil, err
	}

	n.aclMu.Lock()
	defer n.aclMu.Unlock()
	if n.acl != nil {
		return n.acl, nil
	}

	if n.conf.ACLRootPath == "" {
		n.acl = defaultACLManager{}
		return n.acl, nil
	}
	if !logmeta.IsReservedName(n.conf.ACLRootPath) {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Namespace", "CreateAccessControlManager",
			"use non-reserved acl root "+n.conf.ACLRootPath)
	}
	n.acl = newStoreACLManager(n.writerMeta, n.uri, n.conf.ACLRootPath, n.logger)
	return n.acl, nil
}

// perStreamClients returns the per-stream storage-metadata connection pair,
// building it on first demand. At most one build happens per namespace; all
// concurrent callers wait and observe the same pair. The pair points at the
// storage-side ensembles, with reader aliasing writer when they match.
func (n *Namespace) perStreamClients() (*metaclient.Client, *metaclient.Client) {
	n.perStreamMu.Lock()
	defer n.perStreamMu.Unlock()
	if n.perStreamWriterMeta != nil {
		return n.perStreamWriterMeta, n.perStreamReaderMeta
	}

	writerBuilder := metaclient.NewBuilder(metaclient.BuilderConfig{
		Name:           "dlog_per_stream_writer",
		Ensemble:       n.binding.StorageEnsemble,
		SessionTimeout: n.conf.MetadataSessionTimeout,
		RetryPolicy:    n.conf.MetadataRetry,
		StatsScope:     n.statsScope.Scope("per_stream_meta_writer"),
		Dialer:         n.metaDialer,
		Logger:         n.logger,
	})
	readerBuilder := writerBuilder
	if !metaclient.EqualEnsembles(n.binding.ReaderStorageEnsemble, n.binding.StorageEnsemble) {
		readerBuilder = metaclient.NewBuilder(metaclient.BuilderConfig{
			Name:           "dlog_per_stream_reader",
			Ensemble:       n.binding.ReaderStorageEnsemble,
			SessionTimeout: n.conf.MetadataSessionTimeout,
			RetryPolicy:    n.conf.MetadataRetry,
			StatsScope:     n.statsScope.Scope("per_stream_meta_reader"),
			Dialer:         n.metaDialer,
			Logger:         n.logger,
		})
	}

	n.perStreamWriterMeta = writerBuilder.Build()
	n.perStreamReaderMeta = readerBuilder.Build()
	n.logger.Info("built per-stream storage metadata connections",
		"aliased", writerBuilder == readerBuilder)
	return n.perStreamWriterMeta, n.perStreamReaderMeta
}

// newHandle constructs a log handle at a resolved location, wiring the
// resources selected by the sharing option.
func (n *Namespace) newHandle(
	_ context.Context,
	name string,
	loc *url.URL,
	sharing ClientSharingOption,
	override *config.Override,
	dynamic config.DynamicConfig,
	perLogScope *metric.Scope,
) (*LogManager, error) {
	if !sharing.valid() {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedOperation, "Namespace", "newHandle",
			"use unknown sharing option "+sharing.String())
	}

	merged := n.conf.Merge(override)
	dynConf := dynamic
	if dynConf == nil {
		dynConf = config.ConstDynamic(merged)
	}
	if perLogScope.IsNull() {
		perLogScope = n.perLogStatsScope
	}

	m := &LogManager{
		name:    name,
		uri:     loc,
		conf:    merged,
		dynConf: dynConf,

		writerLedger: n.writerLedger,
		readerLedger: n.readerLedger,

		segmentCache:   n.segmentCache,
		sched:          n.sched,
		readAheadSched: n.readAheadSched,
		transport:      n.transport,

		limiter:  n.limiter,
		features: n.features.Scope("dl"),

		clientID: n.clientID,
		regionID: n.regionID,

		statsScope:          n.statsScope,
		perLogStatsScope:    perLogScope,
		readAheadExceptions: n.readAheadExceptions,
	}

	switch sharing {
	case SharedClients:
		m.writerMeta = n.writerMeta
		m.readerMeta = n.readerMeta
		m.writerStreamStore = n.writerStreamStore
		m.readerStreamStore = n.readerStreamStore
		m.allocator = n.allocator
	case SharedMetadataPerStreamStorageClient:
		writer, reader := n.perStreamClients()
		m.writerMeta = writer
		m.readerMeta = reader
		m.writerStreamStore = logmeta.NewStreamStore(writer, n.logger)
		m.readerStreamStore = logmeta.NewStreamStore(reader, n.logger)
	}
	return m, nil
}

// Close tears the namespace down exactly once. Each step is best-effort:
// failures are collected and logged, and every remaining step still runs.
// Close never reports an error to its caller, so it is safe from shutdown
// hooks; concurrent and repeat calls return immediately.
func (n *Namespace) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			n.logger.Warn("teardown step failed", "step", name, "error", err)
			errs = append(errs, err)
		}
	}

	n.aclMu.Lock()
	acl := n.acl
	n.aclMu.Unlock()
	if acl != nil {
		step("access_control", acl.Close)
	}

	if n.allocator != nil {
		step("allocator", func() error { return n.allocator.Stop(n.conf.SchedulerShutdownTimeout) })
	}
	step("write_limiter", n.limiter.Close)

	step("writer_stream_store", n.writerStreamStore.Close)
	step("reader_stream_store", n.readerStreamStore.Close)
	step("metadata_store", n.metadataStore.Close)

	step("scheduler", func() error { return n.sched.Stop(n.conf.SchedulerShutdownTimeout) })
	if n.readAheadSched != n.sched {
		step("readahead_scheduler", func() error { return n.readAheadSched.Stop(n.conf.SchedulerShutdownTimeout) })
	}

	step("ledger_writer", n.writerLedger.Close)
	if n.readerLedger != n.writerLedger {
		step("ledger_reader", n.readerLedger.Close)
	}
	step("meta_writer", n.writerMeta.Close)
	if n.readerMeta != n.writerMeta {
		step("meta_reader", n.readerMeta.Close)
	}

	n.perStreamMu.Lock()
	psWriter, psReader := n.perStreamWriterMeta, n.perStreamReaderMeta
	n.perStreamMu.Unlock()
	if psWriter != nil {
		step("per_stream_meta_writer", psWriter.Close)
	}
	if psReader != nil && psReader != psWriter {
		step("per_stream_meta_reader", psReader.Close)
	}

	step("transport", n.transport.Release)

	if len(errs) > 0 {
		n.logger.Warn("namespace closed with teardown failures", "failures", len(errs))
	} else {
		n.logger.Info("namespace closed")
	}
	return nil
}

// releasePartial unwinds a half-built namespace after a construction
// failure. Ordering mirrors Close; absent resources are skipped.
func (n *Namespace) releasePartial() {
	n.closed.Store(true)
	if n.allocator != nil {
		_ = n.allocator.Stop(n.conf.SchedulerShutdownTimeout)
	}
	if n.sched != nil {
		_ = n.sched.Stop(n.conf.SchedulerShutdownTimeout)
	}
	if n.readAheadSched != nil && n.readAheadSched != n.sched {
		_ = n.readAheadSched.Stop(n.conf.SchedulerShutdownTimeout)
	}
	if n.writerLedger != nil {
		_ = n.writerLedger.Close()
	}
	if n.readerLedger != nil && n.readerLedger != n.writerLedger {
		_ = n.readerLedger.Close()
	}
	if n.writerMeta != nil {
		_ = n.writerMeta.Close()
	}
	if n.readerMeta != nil && n.readerMeta != n.writerMeta {
		_ = n.readerMeta.Close()
	}
	if n.transport != nil {
		_ = n.transport.Release()
	}
}
