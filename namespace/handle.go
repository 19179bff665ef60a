package namespace

import (
	"context"
	"net/url"
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

// LogManager is the per-log handle produced by the namespace. It carries the
// connections, schedulers, and policies the log's readers and writers draw
// from; the append/read state machine itself lives with those consumers.
type LogManager struct {
	name string
	uri  *url.URL

	conf    config.NamespaceConfig
	dynConf config.DynamicConfig

	writerMeta *metaclient.Client
	readerMeta *metaclient.Client

	writerLedger *ledgerclient.Client
	readerLedger *ledgerclient.Client

	writerStreamStore logmeta.LogStreamMetadataStore
	readerStreamStore logmeta.LogStreamMetadataStore

	segmentCache *logmeta.SegmentCache

	sched          *scheduler.Pool
	readAheadSched *scheduler.Pool

	transport *ledgerclient.Transport

	allocator ledgerclient.Allocator
	limiter   WriteLimiter
	features  feature.Provider

	clientID string
	regionID int32

	statsScope          *metric.Scope
	perLogStatsScope    *metric.Scope
	readAheadExceptions *metric.Scope

	closed atomic.Bool
}

// Name returns the log name this handle serves.
func (m *LogManager) Name() string { return m.name }

// Location returns the namespace location the log resolved to.
func (m *LogManager) Location() *url.URL { return m.uri }

// Conf returns the merged configuration the handle was built with.
func (m *LogManager) Conf() config.NamespaceConfig { return m.conf }

// DynConf returns the dynamic configuration view.
func (m *LogManager) DynConf() config.DynamicConfig { return m.dynConf }

// WriterMetadataClient returns the metadata connection for write-side traffic.
func (m *LogManager) WriterMetadataClient() *metaclient.Client { return m.writerMeta }

// ReaderMetadataClient returns the metadata connection for read-side traffic.
func (m *LogManager) ReaderMetadataClient() *metaclient.Client { return m.readerMeta }

// WriterLedgerClient returns the storage connection for write-side traffic.
func (m *LogManager) WriterLedgerClient() *ledgerclient.Client { return m.writerLedger }

// ReaderLedgerClient returns the storage connection for read-side traffic.
func (m *LogManager) ReaderLedgerClient() *ledgerclient.Client { return m.readerLedger }

// SegmentCache returns the shared segment metadata cache.
func (m *LogManager) SegmentCache() *logmeta.SegmentCache { return m.segmentCache }

// Scheduler returns the general task pool.
func (m *LogManager) Scheduler() *scheduler.Pool { return m.sched }

// ReadAheadScheduler returns the read-ahead task pool; it may alias the
// general pool.
func (m *LogManager) ReadAheadScheduler() *scheduler.Pool { return m.readAheadSched }

// Allocator returns the ledger allocator, or nil when this handle was built
// without one.
func (m *LogManager) Allocator() ledgerclient.Allocator { return m.allocator }

// WriteLimiter returns the namespace-wide write admission gate.
func (m *LogManager) WriteLimiter() WriteLimiter { return m.limiter }

// Features returns the feature provider scoped to this handle's subsystem.
func (m *LogManager) Features() feature.Provider { return m.features }

// ClientID returns the owning client identity.
func (m *LogManager) ClientID() string { return m.clientID }

// RegionID returns the owning region.
func (m *LogManager) RegionID() int32 { return m.regionID }

// Transport returns the shared low-level storage transport.
func (m *LogManager) Transport() *ledgerclient.Transport { return m.transport }

// ReadAheadExceptionsScope returns the sink for read-ahead failures.
func (m *LogManager) ReadAheadExceptionsScope() *metric.Scope { return m.readAheadExceptions }

// StatsScope returns the handle's stats sink.
func (m *LogManager) StatsScope() *metric.Scope { return m.statsScope }

// PerLogStatsScope returns the per-log stats sink.
func (m *LogManager) PerLogStatsScope() *metric.Scope { return m.perLogStatsScope }

// Metadata fetches this log's stream metadata.
func (m *LogManager) Metadata(ctx context.Context) (*logmeta.LogMetadata, error) {
	if m.closed.Load() {
		return nil, errors.Wrap(errors.ErrAlreadyClosed, "LogManager", "Metadata", "read "+m.name)
	}
	return m.readerStreamStore.GetLog(ctx, m.uri, m.name, false, true)
}

// Delete removes the log's stream metadata and invalidates cached segments.
func (m *LogManager) Delete(ctx context.Context) error {
	if m.closed.Load() {
		return errors.Wrap(errors.ErrAlreadyClosed, "LogManager", "Delete", "delete "+m.name)
	}
	if err := m.writerStreamStore.DeleteLog(ctx, m.uri, m.name); err != nil {
		return err
	}
	m.segmentCache.Invalidate(m.name)
	return nil
}

// Close releases handle-local state. Shared resources stay open; they belong
// to the namespace.
func (m *LogManager) Close() error {
	m.closed.Store(true)
	return nil
}
