package logmeta

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/c360/dlog/metaclient"
)

// SimpleStore serves a non-federated namespace: every log lives directly
// under the namespace root, so name resolution is the identity mapping onto
// the namespace location.
type SimpleStore struct {
	client  *metaclient.Client
	uri     *url.URL
	watcher *watcher
}

// SimpleStoreOption configures NewSimpleStore.
type SimpleStoreOption func(*simpleStoreOptions)

type simpleStoreOptions struct {
	pollInterval time.Duration
	logger       *slog.Logger
}

// WithPollInterval sets the namespace listener poll interval.
func WithPollInterval(d time.Duration) SimpleStoreOption {
	return func(o *simpleStoreOptions) { o.pollInterval = d }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) SimpleStoreOption {
	return func(o *simpleStoreOptions) { o.logger = l }
}

// NewSimpleStore creates the fixed-location metadata store for uri.
func NewSimpleStore(client *metaclient.Client, uri *url.URL, opts ...SimpleStoreOption) *SimpleStore {
	o := simpleStoreOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	s := &SimpleStore{client: client, uri: uri}
	s.watcher = newWatcher(s.GetLogs, o.pollInterval, o.logger)
	return s
}

// CreateLog resolves the new log's location. The log's stream metadata node
// is created by the stream metadata store, not here, so this is pure name
// resolution.
func (s *SimpleStore) CreateLog(_ context.Context, _ string) (*url.URL, error) {
	return s.uri, nil
}

// GetLogLocation always resolves to the namespace location: in a simple
// namespace every name maps under the fixed root.
func (s *SimpleStore) GetLogLocation(_ context.Context, _ string) (*url.URL, bool, error) {
	return s.uri, true, nil
}

// RemoveLog is a no-op: a simple namespace has no name mapping to clean up.
func (s *SimpleStore) RemoveLog(context.Context, string) error { return nil }

// GetLogs lists the children of the namespace root, reserved names excluded.
func (s *SimpleStore) GetLogs(ctx context.Context) ([]string, error) {
	children, err := s.client.Children(ctx, s.uri.Path)
	if err != nil {
		if metaclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	logs := make([]string, 0, len(children))
	for _, c := range children {
		if IsReservedName(c) {
			continue
		}
		logs = append(logs, c)
	}
	return logs, nil
}

func (s *SimpleStore) RegisterListener(l NamespaceListener) {
	s.watcher.register(l)
}

// Close stops the change watcher. The shared metadata connection stays open;
// it belongs to the namespace.
func (s *SimpleStore) Close() error {
	s.watcher.close()
	return nil
}
