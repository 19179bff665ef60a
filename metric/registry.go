// Package metric manages prometheus metric registration for dlog components.
//
// Components receive a *Scope rather than the registry itself. Scopes nest,
// producing hierarchical metric prefixes (for example
// "dlog_factory_thread_pool_queue_depth"), which is how per-namespace and
// per-stream statistics are kept apart. NullScope returns a scope whose
// collectors are created but never registered, for callers that do not care
// about metrics.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/dlog/errors"
)

// Registry manages the registration and lifecycle of metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	registered         map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewRegistry creates a metrics registry with Go runtime collectors attached.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		prometheusRegistry: reg,
		registered:         make(map[string]prometheus.Collector),
	}
}

// PrometheusRegistry returns the underlying prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// register records a collector under its fully-qualified name. Duplicate
// registrations return the already-registered collector so shared builders can
// re-scope without conflict.
func (r *Registry) register(name string, c prometheus.Collector) (prometheus.Collector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.registered[name]; ok {
		return existing, nil
	}
	if err := r.prometheusRegistry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			r.registered[name] = are.ExistingCollector
			return are.ExistingCollector, nil
		}
		return nil, errors.WrapInvalid(err, "Registry", "register", fmt.Sprintf("register %s", name))
	}
	r.registered[name] = c
	return c, nil
}

// Unregister removes a collector by fully-qualified name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.registered[name]
	if !ok {
		return false
	}
	delete(r.registered, name)
	return r.prometheusRegistry.Unregister(c)
}

// Scope is a named metric namespace. A nil-registry scope produces working
// but unregistered collectors.
type Scope struct {
	registry *Registry
	prefix   string
}

// NullScope returns a scope that never registers its collectors.
func NullScope() *Scope {
	return &Scope{}
}

// RootScope returns a scope rooted at prefix on the given registry.
func (r *Registry) RootScope(prefix string) *Scope {
	return &Scope{registry: r, prefix: prefix}
}

// Scope returns a child scope with the given name appended to the prefix.
func (s *Scope) Scope(name string) *Scope {
	if s == nil {
		return NullScope()
	}
	prefix := name
	if s.prefix != "" {
		prefix = s.prefix + "_" + name
	}
	return &Scope{registry: s.registry, prefix: prefix}
}

// Name returns the scope's fully-qualified prefix.
func (s *Scope) Name() string {
	if s == nil {
		return ""
	}
	return s.prefix
}

// IsNull reports whether this scope discards registrations.
func (s *Scope) IsNull() bool {
	return s == nil || s.registry == nil
}

func (s *Scope) qualified(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "_" + name
}

// Counter creates and registers a counter under this scope.
func (s *Scope) Counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: s.qualified(name), Help: help})
	if s.IsNull() {
		return c
	}
	if reg, err := s.registry.register(s.qualified(name), c); err == nil {
		if existing, ok := reg.(prometheus.Counter); ok {
			return existing
		}
	}
	return c
}

// Gauge creates and registers a gauge under this scope.
func (s *Scope) Gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: s.qualified(name), Help: help})
	if s.IsNull() {
		return g
	}
	if reg, err := s.registry.register(s.qualified(name), g); err == nil {
		if existing, ok := reg.(prometheus.Gauge); ok {
			return existing
		}
	}
	return g
}

// Histogram creates and registers a histogram under this scope.
func (s *Scope) Histogram(name, help string, buckets []float64) prometheus.Histogram {
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    s.qualified(name),
		Help:    help,
		Buckets: buckets,
	})
	if s.IsNull() {
		return h
	}
	if reg, err := s.registry.register(s.qualified(name), h); err == nil {
		if existing, ok := reg.(prometheus.Histogram); ok {
			return existing
		}
	}
	return h
}

// CounterVec creates and registers a labeled counter under this scope.
func (s *Scope) CounterVec(name, help string, labels []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: s.qualified(name), Help: help}, labels)
	if s.IsNull() {
		return cv
	}
	if reg, err := s.registry.register(s.qualified(name), cv); err == nil {
		if existing, ok := reg.(*prometheus.CounterVec); ok {
			return existing
		}
	}
	return cv
}
