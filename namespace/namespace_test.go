package namespace

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dlog/config"
	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/ledgerclient"
	"github.com/c360/dlog/metaclient"
)

const (
	testMetaAddr    = "nats://meta-1:4222"
	testStorageAddr = "nats://storage-1:4222"
)

type testEnv struct {
	meta    *metaclient.MemEnsemble
	ledgers *ledgerclient.MemLedgerEnsemble
	uri     *url.URL
	conf    config.NamespaceConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	uri, err := url.Parse("dlog://meta-1:4222/messaging/orders")
	require.NoError(t, err)
	return &testEnv{
		meta:    metaclient.NewMemEnsemble(),
		ledgers: ledgerclient.NewMemLedgerEnsemble(),
		uri:     uri,
		conf:    config.Default(),
	}
}

// seedBinding writes the binding node the bootstrap connection resolves.
func (e *testEnv) seedBinding(t *testing.T, b Binding) {
	t.Helper()
	if len(b.StorageEnsemble) == 0 {
		b.StorageEnsemble = []string{testStorageAddr}
	}
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	e.meta.Store([]string{testMetaAddr}).Seed("/messaging/orders/.binding", raw)
}

func (e *testEnv) metaStore() *metaclient.MemStore {
	return e.meta.Store([]string{testMetaAddr})
}

func (e *testEnv) build(t *testing.T) *Namespace {
	t.Helper()
	n, err := e.tryBuild()
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func (e *testEnv) tryBuild() (*Namespace, error) {
	return Builder{
		Conf:         &e.conf,
		URI:          e.uri,
		ClientID:     "test-client",
		MetaDialer:   e.meta.Dialer(),
		LedgerDialer: e.ledgers.Dialer(),
	}.Build(context.Background())
}

func TestBuildRequiresConfAndURI(t *testing.T) {
	env := newTestEnv(t)

	_, err := Builder{URI: env.uri}.Build(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	badURI, perr := url.Parse("zk://meta-1:2181/messaging/orders")
	require.NoError(t, perr)
	_, err = Builder{Conf: &env.conf, URI: badURI}.Build(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidURI))

	rootURI, perr := url.Parse("dlog://meta-1:4222/")
	require.NoError(t, perr)
	_, err = Builder{Conf: &env.conf, URI: rootURI}.Build(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidURI))
}

func TestBuildFailsWithoutBinding(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.tryBuild()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBindingNotFound))
}

func TestReaderAliasesWriterWhenEnsemblesEqual(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)

	assert.Same(t, n.writerMeta, n.readerMeta)
	assert.Same(t, n.writerLedger, n.readerLedger)
}

func TestReaderDistinctWhenEnsemblesDiffer(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{
		ReaderMetadataEnsemble: []string{"nats://meta-reader:4222"},
		StorageEnsemble:        []string{testStorageAddr},
		ReaderStorageEnsemble:  []string{"nats://storage-reader:4222"},
	})
	n := env.build(t)

	require.NotSame(t, n.writerMeta, n.readerMeta)
	assert.Equal(t, []string{"nats://meta-reader:4222"}, n.readerMeta.Ensemble())

	require.NotSame(t, n.writerLedger, n.readerLedger)
	assert.Equal(t, []string{"nats://storage-reader:4222"}, n.readerLedger.Ensemble())
}

func TestCreateOpenDeleteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	require.NoError(t, n.CreateLog(ctx, "orders-eu"))

	exists, err := n.LogExists(ctx, "orders-eu")
	require.NoError(t, err)
	assert.True(t, exists)

	m, err := n.OpenLog(ctx, "orders-eu")
	require.NoError(t, err)
	assert.Equal(t, "orders-eu", m.Name())
	require.NoError(t, m.Close())

	logs, err := n.GetLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders-eu"}, logs)

	require.NoError(t, n.DeleteLog(ctx, "orders-eu"))
	exists, err = n.LogExists(ctx, "orders-eu")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateLogDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	require.NoError(t, n.CreateLog(ctx, "orders-eu"))
	err := n.CreateLog(ctx, "orders-eu")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLogExists))
}

func TestCreateLogConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var created, duplicate atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := n.CreateLog(ctx, "orders-eu"); {
			case err == nil:
				created.Add(1)
			case errors.Is(err, errors.ErrLogExists):
				duplicate.Add(1)
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), created.Load())
	assert.Equal(t, int64(7), duplicate.Load())
}

func TestCreateLogRollsBackRegistrationOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{Federated: true})
	n := env.build(t)
	ctx := context.Background()

	// Registering the name succeeds; creating its stream node does not.
	store := env.metaStore()
	store.FailCreates("/messaging/orders/orders-eu", errors.ErrMetadataCorrupt)
	err := n.CreateLog(ctx, "orders-eu")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMetadataCorrupt))

	// The name mapping was rolled back, so the log neither exists nor is
	// wedged: once the store recovers, create succeeds.
	exists, err := n.LogExists(ctx, "orders-eu")
	require.NoError(t, err)
	assert.False(t, exists)

	store.FailCreates("", nil)
	require.NoError(t, n.CreateLog(ctx, "orders-eu"))
	exists, err = n.LogExists(ctx, "orders-eu")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateLogRejectsInvalidNames(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	for _, name := range []string{"", ".reserved", "a/b", "has space"} {
		err := n.CreateLog(ctx, name)
		require.Error(t, err, "name %q", name)
		assert.True(t, errors.Is(err, errors.ErrInvalidStreamName), "name %q", name)
	}
}

func TestOpenLogMissing(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)

	_, err := n.OpenLog(context.Background(), "missing-log")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLogNotFound))

	// The failed open never touched the storage side.
	assert.Equal(t, int64(0), env.ledgers.Store([]string{testStorageAddr}).Dials.Load())
}

func TestDeleteLogMissing(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{Federated: true})
	n := env.build(t)

	err := n.DeleteLog(context.Background(), "missing-log")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLogNotFound))
}

func TestCloseConcurrentTearsDownOnce(t *testing.T) {
	env := newTestEnv(t)
	env.conf.EnableLedgerAllocatorPool = true
	env.conf.LedgerAllocatorPoolPath = ".allocation"
	env.conf.LedgerAllocatorPoolName = "pool-1"
	env.conf.LedgerAllocatorPoolCoreSize = 3
	env.seedBinding(t, Binding{})
	n := env.build(t)

	store := env.ledgers.Store([]string{testStorageAddr})
	require.Equal(t, 3, store.Count())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, n.Close())
		}()
	}
	wg.Wait()

	// Teardown ran exactly once: the pooled ledgers were reclaimed and the
	// scheduler no longer accepts work.
	assert.Equal(t, 0, store.Count())
	assert.Error(t, n.sched.Submit(func(context.Context) {}))
}

func TestOperationsFailAfterClose(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()
	require.NoError(t, n.Close())

	assertClosed := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrAlreadyClosed))
	}

	assertClosed(n.CreateLog(ctx, "x"))
	assertClosed(n.DeleteLog(ctx, "x"))
	_, err := n.OpenLog(ctx, "x")
	assertClosed(err)
	_, err = n.LogExists(ctx, "x")
	assertClosed(err)
	_, err = n.GetLogs(ctx)
	assertClosed(err)
	assertClosed(n.RegisterNamespaceListener(nil))
	_, err = n.CreateAccessControlManager()
	assertClosed(err)
	_, err = n.CreateLogManager(ctx, "x", SharedClients)
	assertClosed(err)
	_, err = n.CreateMetadataAccessor("x")
	assertClosed(err)
	_, err = n.EnumerateAllLogs(ctx)
	assertClosed(err)
	_, err = n.EnumerateLogsWithMetadata(ctx)
	assertClosed(err)
}

func TestFederatedRejectsLegacyOperations(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{Federated: true})
	n := env.build(t)
	ctx := context.Background()

	assertUnsupported := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrUnsupportedOperation))
	}

	_, err := n.CreateLogManager(ctx, "orders-eu", SharedClients)
	assertUnsupported(err)
	_, err = n.CreateLogManagerWithSharedClients(ctx, "orders-eu")
	assertUnsupported(err)
	_, err = n.CreateMetadataAccessor("orders-eu")
	assertUnsupported(err)
	_, err = n.EnumerateAllLogs(ctx)
	assertUnsupported(err)
	_, err = n.EnumerateLogsWithMetadata(ctx)
	assertUnsupported(err)

	// Name-only operations stay available.
	require.NoError(t, n.CreateLog(ctx, "orders-eu"))
	m, err := n.OpenLog(ctx, "orders-eu")
	require.NoError(t, err)
	require.NoError(t, m.Close())
	logs, err := n.GetLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders-eu"}, logs)
}

func TestSharedClientsHandlesShareEverything(t *testing.T) {
	env := newTestEnv(t)
	env.conf.EnableLedgerAllocatorPool = true
	env.conf.LedgerAllocatorPoolPath = ".allocation"
	env.conf.LedgerAllocatorPoolName = "pool-1"
	env.conf.LedgerAllocatorPoolCoreSize = 2
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	a, err := n.CreateLogManager(ctx, "log-a", SharedClients)
	require.NoError(t, err)
	b, err := n.CreateLogManager(ctx, "log-b", SharedClients)
	require.NoError(t, err)

	assert.Same(t, a.WriterMetadataClient(), b.WriterMetadataClient())
	assert.Same(t, a.ReaderMetadataClient(), b.ReaderMetadataClient())
	assert.Same(t, a.WriterLedgerClient(), b.WriterLedgerClient())
	assert.Same(t, a.Allocator(), b.Allocator())
	require.NotNil(t, a.Allocator())
	assert.Same(t, n.allocator, a.Allocator())
}

func TestPerStreamStorageClientBuiltOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	handles := make([]*LogManager, 8)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := n.CreateLogManager(ctx, "log-a", SharedMetadataPerStreamStorageClient)
			assert.NoError(t, err)
			handles[i] = m
		}(i)
	}
	wg.Wait()

	first := handles[0]
	require.NotNil(t, first.WriterMetadataClient())
	for _, m := range handles[1:] {
		assert.Same(t, first.WriterMetadataClient(), m.WriterMetadataClient())
		assert.Same(t, first.ReaderMetadataClient(), m.ReaderMetadataClient())
	}

	// The pair is dedicated to per-stream storage traffic, distinct from
	// the namespace metadata connections, and carries no allocator.
	assert.NotSame(t, n.writerMeta, first.WriterMetadataClient())
	assert.Nil(t, first.Allocator())

	// Writer and reader alias each other because the storage-side reader
	// ensemble matches the writer ensemble.
	assert.Same(t, first.WriterMetadataClient(), first.ReaderMetadataClient())
}

func TestAllocatorPoolPathValidation(t *testing.T) {
	cases := []struct {
		name string
		path string
		pool string
	}{
		{"no relative marker", "allocation", "pool-1"},
		{"trailing separator", ".allocation/", "pool-1"},
		{"missing pool name", ".allocation", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.conf.EnableLedgerAllocatorPool = true
			env.conf.LedgerAllocatorPoolPath = tc.path
			env.conf.LedgerAllocatorPoolName = tc.pool
			env.seedBinding(t, Binding{})

			_, err := env.tryBuild()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
		})
	}

	t.Run("valid combination", func(t *testing.T) {
		env := newTestEnv(t)
		env.conf.EnableLedgerAllocatorPool = true
		env.conf.LedgerAllocatorPoolPath = ".allocation"
		env.conf.LedgerAllocatorPoolName = "pool-1"
		env.seedBinding(t, Binding{})

		n := env.build(t)
		assert.NotNil(t, n.allocator)
	})
}

func TestEnumerateLogsWithMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	store := env.metaStore()
	store.Seed("/messaging/orders/a/segments/1", []byte("seg"))
	store.Seed("/messaging/orders/b", []byte{1, 2, 3})
	store.Seed("/messaging/orders/.reserved", []byte("internal"))
	n := env.build(t)

	result, err := n.EnumerateLogsWithMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"a": {},
		"b": {1, 2, 3},
	}, result)
}

func TestEnumerateLogsWithMetadataStatic(t *testing.T) {
	env := newTestEnv(t)
	store := env.metaStore()
	store.Seed("/messaging/orders/b", []byte{1, 2, 3})

	result, err := EnumerateLogsWithMetadata(context.Background(), &env.conf, env.uri, env.meta.Dialer())
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"b": {1, 2, 3}}, result)
}

func TestMetadataAccessor(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	acc, err := n.CreateMetadataAccessor("orders-eu")
	require.NoError(t, err)

	_, err = acc.GetMetadata(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLogNotFound))

	require.NoError(t, acc.CreateOrUpdateMetadata(ctx, []byte("raw")))
	raw, err := acc.GetMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), raw)

	require.NoError(t, acc.DeleteMetadata(ctx))
	err = acc.DeleteMetadata(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLogNotFound))
}

func TestOpenLogOverridesTakePrecedence(t *testing.T) {
	env := newTestEnv(t)
	env.conf.EnsembleSize = 5
	env.conf.WriteQuorumSize = 3
	env.conf.RetentionPeriod = 24 * time.Hour
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	require.NoError(t, n.CreateLog(ctx, "orders-eu"))

	retention := 48 * time.Hour
	quorum := 2
	m, err := n.OpenLog(ctx, "orders-eu", WithConfigOverride(&config.Override{
		RetentionPeriod: &retention,
		WriteQuorumSize: &quorum,
	}))
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	// Overridden keys win; untouched keys keep the namespace value.
	assert.Equal(t, 48*time.Hour, m.Conf().RetentionPeriod)
	assert.Equal(t, 2, m.Conf().WriteQuorumSize)
	assert.Equal(t, 5, m.Conf().EnsembleSize)

	// The derived dynamic view is frozen over the merged configuration.
	assert.Equal(t, 48*time.Hour, m.DynConf().RetentionPeriod())
	assert.Equal(t, 2, m.DynConf().WriteQuorumSize())
	assert.Equal(t, 5, m.DynConf().EnsembleSize())

	// The namespace configuration itself is untouched.
	assert.Equal(t, 24*time.Hour, n.Conf().RetentionPeriod)
}

func TestReadAheadSchedulerAliasing(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)
	assert.Same(t, n.sched, n.readAheadSched)

	env2 := newTestEnv(t)
	env2.conf.NumReadAheadWorkerThreads = 2
	env2.seedBinding(t, Binding{})
	n2 := env2.build(t)
	assert.NotSame(t, n2.sched, n2.readAheadSched)
	assert.Equal(t, 2, n2.readAheadSched.Workers())
}

func TestSchedulerSurvivesBuildContext(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})

	ctx, cancel := context.WithCancel(context.Background())
	n, err := Builder{
		Conf:         &env.conf,
		URI:          env.uri,
		ClientID:     "test-client",
		MetaDialer:   env.meta.Dialer(),
		LedgerDialer: env.ledgers.Dialer(),
	}.Build(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	// The build context is routinely a bounded timeout. Ending it must not
	// stop the namespace's background workers.
	cancel()

	var done sync.WaitGroup
	done.Add(1)
	require.NoError(t, n.sched.Submit(func(context.Context) { done.Done() }))
	done.Wait()
}

func TestNamespaceListener(t *testing.T) {
	env := newTestEnv(t)
	env.conf.ListenerPollInterval = 20 * time.Millisecond
	env.seedBinding(t, Binding{})
	n := env.build(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	require.NoError(t, n.RegisterNamespaceListener(listenerFunc(func(logs []string) {
		mu.Lock()
		seen = append([]string(nil), logs...)
		mu.Unlock()
	})))

	require.NoError(t, n.CreateLog(ctx, "orders-eu"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == "orders-eu"
	}, 2*time.Second, 10*time.Millisecond)
}

type listenerFunc func(logs []string)

func (f listenerFunc) OnLogsChanged(logs []string) { f(logs) }
