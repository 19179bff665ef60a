package metaclient

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c360/dlog/errors"
)

// MemStore is an in-memory Store for tests. It is safe for concurrent use and
// tracks how many sessions were dialed against it.
type MemStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed atomic.Bool

	failCreatePrefix string
	failCreateErr    error

	Dials atomic.Int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// Seed writes an entry without error handling, for test setup.
func (m *MemStore) Seed(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[pathKey(key)] = value
}

// Dump returns a copy of all entries keyed by normalized path.
func (m *MemStore) Dump() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// FailCreates makes Create fail with err for keys at or under prefix, for
// fault injection in tests. A nil err clears the rule.
func (m *MemStore) FailCreates(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCreatePrefix = pathKey(prefix)
	m.failCreateErr = err
}

// Closed reports whether Close was called.
func (m *MemStore) Closed() bool { return m.closed.Load() }

func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[pathKey(key)]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[pathKey(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemStore) Create(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pathKey(key)
	if m.failCreateErr != nil && (k == m.failCreatePrefix || strings.HasPrefix(k, m.failCreatePrefix+"/")) {
		return m.failCreateErr
	}
	if _, exists := m.data[k]; exists {
		return errors.ErrLogExists
	}
	m.data[k] = append([]byte(nil), value...)
	return nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := pathKey(key)
	for k := range m.data {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *MemStore) Children(_ context.Context, path string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := pathKey(path)
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]struct{})
	var children []string
	for k := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		child, _, _ := strings.Cut(rest, "/")
		if child == "" {
			continue
		}
		if _, dup := seen[child]; !dup {
			seen[child] = struct{}{}
			children = append(children, child)
		}
	}
	sort.Strings(children)
	return children, nil
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[pathKey(key)]
	return ok, nil
}

func (m *MemStore) Close() error {
	m.closed.Store(true)
	return nil
}

// MemEnsemble hands out one shared MemStore per distinct ensemble address
// set, simulating separate metadata clusters. All clients dialing the same
// ensemble observe the same data.
type MemEnsemble struct {
	mu     sync.Mutex
	stores map[string]*MemStore
}

// NewMemEnsemble creates an empty ensemble map.
func NewMemEnsemble() *MemEnsemble {
	return &MemEnsemble{stores: make(map[string]*MemStore)}
}

// Store returns the MemStore backing the given ensemble, creating it if
// needed.
func (e *MemEnsemble) Store(ensemble []string) *MemStore {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := strings.Join(ensemble, ",")
	s, ok := e.stores[key]
	if !ok {
		s = NewMemStore()
		e.stores[key] = s
	}
	return s
}

// Dialer returns a Dialer resolving ensembles against this map. Each dial is
// wrapped in a session so closing one client does not tear down the shared
// backing store.
func (e *MemEnsemble) Dialer() Dialer {
	return func(_ context.Context, ensemble []string, _ DialOptions) (Store, error) {
		store := e.Store(ensemble)
		store.Dials.Add(1)
		return &memSession{MemStore: store}, nil
	}
}

// memSession delegates to a shared MemStore but scopes Close to the session.
type memSession struct {
	*MemStore
	closed atomic.Bool
}

func (s *memSession) Close() error {
	s.closed.Store(true)
	return nil
}

// SessionClosed reports whether this session was closed.
func (s *memSession) SessionClosed() bool { return s.closed.Load() }
