// Package metaclient provides connections to the quorum metadata ensemble
// backing a dlog namespace.
//
// A Builder captures everything needed to open a connection (ensemble
// addresses, session timeout, retry policy, stats scope) and memoizes the
// Client it builds, so two resolvers holding the same builder share one live
// connection. The Client itself connects lazily on first use; construction is
// free of network I/O.
package metaclient

import (
	"context"
)

// Store is the narrow quorum-store surface consumed by the orchestrator.
// Keys are hierarchical slash-separated paths rooted at the namespace path.
//
// The production implementation maps paths onto a NATS JetStream Key-Value
// bucket; tests use MemStore.
type Store interface {
	// Get returns the value at key, or errors.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the value at key, creating it if absent.
	Put(ctx context.Context, key string, value []byte) error

	// Create writes the value at key only if absent; errors.ErrLogExists
	// otherwise.
	Create(ctx context.Context, key string, value []byte) error

	// Delete removes the key and, recursively, everything below it.
	Delete(ctx context.Context, key string) error

	// Children lists the names of the immediate children under path.
	Children(ctx context.Context, path string) ([]string, error)

	// Exists reports whether the key itself holds a value.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the underlying session.
	Close() error
}

// Dialer opens a Store for the given ensemble. Injected so tests can supply
// in-memory stores.
type Dialer func(ctx context.Context, ensemble []string, opts DialOptions) (Store, error)

// DialOptions carries per-connection settings parameterizing a Dialer.
type DialOptions struct {
	// Name identifies the connection for observability.
	Name string

	// Bucket is the KV bucket holding the namespace tree.
	Bucket string
}
