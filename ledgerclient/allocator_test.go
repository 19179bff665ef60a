package ledgerclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlogerrors "github.com/c360/dlog/errors"
	"github.com/c360/dlog/scheduler"
)

func testAllocator(t *testing.T, coreSize int) (*PoolAllocator, *MemLedgerStore) {
	t.Helper()

	ensemble := NewMemLedgerEnsemble()
	client := testBuilder(t, ensemble).Build()
	store := ensemble.Store([]string{"nats://localhost:4222"})

	sched := scheduler.NewPool("allocator-test", 2, 64)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { _ = sched.Stop(time.Second) })

	a, err := NewPoolAllocator(PoolAllocatorConfig{
		Client:    client,
		CoreSize:  coreSize,
		Scheduler: sched,
	})
	require.NoError(t, err)
	return a, store
}

func TestNewPoolAllocatorZeroCoreSize(t *testing.T) {
	a, err := NewPoolAllocator(PoolAllocatorConfig{CoreSize: 0})
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestNewPoolAllocatorRequiresClientAndScheduler(t *testing.T) {
	_, err := NewPoolAllocator(PoolAllocatorConfig{CoreSize: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dlogerrors.ErrInvalidConfig))

	ensemble := NewMemLedgerEnsemble()
	client := testBuilder(t, ensemble).Build()
	_, err = NewPoolAllocator(PoolAllocatorConfig{CoreSize: 2, Client: client})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dlogerrors.ErrInvalidConfig))
}

func TestPoolAllocatorStartPrimesPool(t *testing.T) {
	a, store := testAllocator(t, 3)

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, 3, store.Count())
	assert.Equal(t, 3, len(a.pool))
}

func TestPoolAllocatorAllocateFromPool(t *testing.T) {
	a, store := testAllocator(t, 2)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	require.Equal(t, int64(2), store.Creates.Load())
	ledger, err := a.Allocate(ctx)
	require.NoError(t, err)
	require.NotNil(t, ledger)

	// The ledger came out of the pool primed at Start, not a fresh create.
	assert.LessOrEqual(t, ledger.ID, uint64(2))
}

func TestPoolAllocatorAllocateWhenPoolEmpty(t *testing.T) {
	a, store := testAllocator(t, 2)
	ctx := context.Background()

	// No Start: pool is empty, allocation falls back to a direct create.
	ledger, err := a.Allocate(ctx)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.GreaterOrEqual(t, store.Creates.Load(), int64(1))
}

func TestPoolAllocatorRefillsAfterAllocate(t *testing.T) {
	a, _ := testAllocator(t, 1)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	_, err := a.Allocate(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(a.pool) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPoolAllocatorStopReclaimsPooledLedgers(t *testing.T) {
	a, store := testAllocator(t, 3)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.Equal(t, 3, store.Count())

	require.NoError(t, a.Stop(time.Second))
	assert.Equal(t, 0, store.Count())

	_, err := a.Allocate(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, dlogerrors.ErrAllocatorStopped))
}

func TestPoolAllocatorStopIsIdempotent(t *testing.T) {
	a, _ := testAllocator(t, 1)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(time.Second))
	require.NoError(t, a.Stop(time.Second))
}
