package ledgerclient

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c360/dlog/errors"
)

// MemLedgerStore is an in-memory LedgerStore for tests.
type MemLedgerStore struct {
	mu      sync.Mutex
	nextID  uint64
	ledgers map[uint64]bool

	Dials   atomic.Int64
	Creates atomic.Int64
}

// NewMemLedgerStore creates an empty in-memory ledger store.
func NewMemLedgerStore() *MemLedgerStore {
	return &MemLedgerStore{nextID: 1, ledgers: make(map[uint64]bool)}
}

func (m *MemLedgerStore) CreateLedger(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.ledgers[id] = true
	m.Creates.Add(1)
	return id, nil
}

func (m *MemLedgerStore) DeleteLedger(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ledgers[id] {
		return errors.ErrKeyNotFound
	}
	delete(m.ledgers, id)
	return nil
}

func (m *MemLedgerStore) LedgerExists(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledgers[id], nil
}

func (m *MemLedgerStore) Close() error { return nil }

// Count returns the number of live ledgers.
func (m *MemLedgerStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledgers)
}

// MemLedgerEnsemble hands out one MemLedgerStore per distinct ensemble
// address set, simulating separate storage clusters.
type MemLedgerEnsemble struct {
	mu     sync.Mutex
	stores map[string]*MemLedgerStore
}

// NewMemLedgerEnsemble creates an empty ensemble map.
func NewMemLedgerEnsemble() *MemLedgerEnsemble {
	return &MemLedgerEnsemble{stores: make(map[string]*MemLedgerStore)}
}

// Store returns the MemLedgerStore backing the given ensemble.
func (e *MemLedgerEnsemble) Store(ensemble []string) *MemLedgerStore {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := strings.Join(ensemble, ",")
	s, ok := e.stores[key]
	if !ok {
		s = NewMemLedgerStore()
		e.stores[key] = s
	}
	return s
}

// Dialer returns a Dialer resolving ensembles against this map.
func (e *MemLedgerEnsemble) Dialer() Dialer {
	return func(_ context.Context, ensemble []string, _ DialOptions) (LedgerStore, error) {
		store := e.Store(ensemble)
		store.Dials.Add(1)
		return store, nil
	}
}
