package metaclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/pkg/retry"
)

func testBuilder(t *testing.T, ens *MemEnsemble, name string, ensemble []string) *Builder {
	t.Helper()
	return NewBuilder(BuilderConfig{
		Name:           name,
		Ensemble:       ensemble,
		SessionTimeout: 5 * time.Second,
		RetryPolicy:    retry.Policy{MaxAttempts: 1},
		Dialer:         ens.Dialer(),
	})
}

func TestBuilderMemoizesClient(t *testing.T) {
	ens := NewMemEnsemble()
	b := testBuilder(t, ens, "writer", []string{"nats-1:4222"})
	assert.Same(t, b.Build(), b.Build(), "one builder yields one client")
}

func TestLazyConnectSingleFlight(t *testing.T) {
	ens := NewMemEnsemble()
	ensemble := []string{"nats-1:4222"}
	c := testBuilder(t, ens, "writer", ensemble).Build()

	// No dial happens at build time.
	assert.Equal(t, int64(0), ens.Store(ensemble).Dials.Load())

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Exists(ctx, "/ns/whatever")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), ens.Store(ensemble).Dials.Load(), "concurrent callers share one dial")
}

func TestClientCRUD(t *testing.T) {
	ens := NewMemEnsemble()
	c := testBuilder(t, ens, "writer", []string{"nats-1:4222"}).Build()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "/ns/logs/orders", []byte("meta")))

	v, err := c.Get(ctx, "/ns/logs/orders")
	require.NoError(t, err)
	assert.Equal(t, []byte("meta"), v)

	exists, err := c.Exists(ctx, "/ns/logs/orders")
	require.NoError(t, err)
	assert.True(t, exists)

	// Create refuses to overwrite.
	err = c.Create(ctx, "/ns/logs/orders", []byte("other"))
	assert.ErrorIs(t, err, errors.ErrLogExists)

	require.NoError(t, c.Delete(ctx, "/ns/logs/orders"))
	_, err = c.Get(ctx, "/ns/logs/orders")
	assert.True(t, IsNotFound(err))
}

func TestChildren(t *testing.T) {
	ens := NewMemEnsemble()
	c := testBuilder(t, ens, "writer", []string{"nats-1:4222"}).Build()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "/ns/a", []byte("1")))
	require.NoError(t, c.Put(ctx, "/ns/b", []byte("2")))
	require.NoError(t, c.Put(ctx, "/ns/b/segments/0", []byte("3")))

	children, err := c.Children(ctx, "/ns")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, children)
}

func TestDeleteIsRecursive(t *testing.T) {
	ens := NewMemEnsemble()
	c := testBuilder(t, ens, "writer", []string{"nats-1:4222"}).Build()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "/ns/log", []byte("meta")))
	require.NoError(t, c.Put(ctx, "/ns/log/segments/0", []byte("s0")))
	require.NoError(t, c.Put(ctx, "/ns/logother", []byte("keep")))

	require.NoError(t, c.Delete(ctx, "/ns/log"))

	exists, err := c.Exists(ctx, "/ns/log/segments/0")
	require.NoError(t, err)
	assert.False(t, exists)

	// Sibling with a shared name prefix survives.
	exists, err = c.Exists(ctx, "/ns/logother")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCloseIdempotentAndFailsFast(t *testing.T) {
	ens := NewMemEnsemble()
	c := testBuilder(t, ens, "writer", []string{"nats-1:4222"}).Build()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "/ns/x", []byte("v")))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Get(ctx, "/ns/x")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCloseNeverConnected(t *testing.T) {
	ens := NewMemEnsemble()
	c := testBuilder(t, ens, "writer", []string{"nats-1:4222"}).Build()
	assert.NoError(t, c.Close())
	assert.Equal(t, int64(0), ens.Store([]string{"nats-1:4222"}).Dials.Load())
}

func TestSeparateEnsemblesSeparateData(t *testing.T) {
	ens := NewMemEnsemble()
	writer := testBuilder(t, ens, "writer", []string{"nats-1:4222"}).Build()
	reader := testBuilder(t, ens, "reader", []string{"nats-9:4222"}).Build()
	ctx := context.Background()

	require.NoError(t, writer.Put(ctx, "/ns/x", []byte("v")))
	exists, err := reader.Exists(ctx, "/ns/x")
	require.NoError(t, err)
	assert.False(t, exists, "different ensembles see different trees")
}

func TestEqualEnsembles(t *testing.T) {
	assert.True(t, EqualEnsembles([]string{"a", "b"}, []string{"a", "b"}))
	assert.False(t, EqualEnsembles([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, EqualEnsembles([]string{"a"}, []string{"a", "b"}))
	assert.True(t, EqualEnsembles(nil, nil))
}
