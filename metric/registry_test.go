package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeNesting(t *testing.T) {
	r := NewRegistry()
	root := r.RootScope("dlog")
	pool := root.Scope("factory").Scope("thread_pool")
	assert.Equal(t, "dlog_factory_thread_pool", pool.Name())
}

func TestCounterRegistration(t *testing.T) {
	r := NewRegistry()
	scope := r.RootScope("dlog")

	c := scope.Counter("ops_total", "total operations")
	c.Inc()
	c.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(c))

	// Same name resolves to the same collector, not an error.
	again := scope.Counter("ops_total", "total operations")
	again.Inc()
	assert.Equal(t, float64(3), testutil.ToFloat64(c))
}

func TestGaugeRegistration(t *testing.T) {
	r := NewRegistry()
	g := r.RootScope("dlog").Scope("limiter").Gauge("outstanding", "outstanding permits")
	g.Set(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(g))
}

func TestNullScopeCollectorsWork(t *testing.T) {
	scope := NullScope()
	require.True(t, scope.IsNull())

	c := scope.Counter("ignored_total", "ignored")
	c.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(c))

	child := scope.Scope("sub")
	assert.True(t, child.IsNull())
	assert.Equal(t, "sub", child.Name())
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	scope := r.RootScope("dlog")
	scope.Counter("once_total", "counter")
	assert.True(t, r.Unregister("dlog_once_total"))
	assert.False(t, r.Unregister("dlog_once_total"))
}

func TestNilScopeIsNull(t *testing.T) {
	var s *Scope
	assert.True(t, s.IsNull())
	assert.Equal(t, "", s.Name())
	assert.True(t, s.Scope("x").IsNull())
}
