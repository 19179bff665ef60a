package logmeta

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/metaclient"
)

// LogMetadata is the persisted per-stream metadata node.
type LogMetadata struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// LogStreamMetadataStore reads and writes individual log stream metadata
// through a shared metadata connection. Writer and reader sides of a
// namespace each hold one.
type LogStreamMetadataStore interface {
	// GetLog fetches the stream metadata for name under uri. With
	// createIfMissing, an absent node is created; otherwise an absent node
	// returns errors.ErrLogNotFound when throwIfMissing, or (nil, nil).
	GetLog(ctx context.Context, uri *url.URL, name string, createIfMissing, throwIfMissing bool) (*LogMetadata, error)

	// CreateLog creates the stream metadata node. A node that already exists
	// fails with errors.ErrLogExists; the store's atomic create is the
	// duplicate signal, so concurrent creators of one name get exactly one
	// success.
	CreateLog(ctx context.Context, uri *url.URL, name string) (*LogMetadata, error)

	// LogExists returns nil when the stream metadata node exists and
	// errors.ErrLogNotFound when it does not.
	LogExists(ctx context.Context, uri *url.URL, name string) error

	// DeleteLog removes the stream metadata node and everything below it.
	DeleteLog(ctx context.Context, uri *url.URL, name string) error

	// Close releases store-local resources, not the shared connection.
	Close() error
}

// StreamStore is the quorum-store-backed LogStreamMetadataStore.
type StreamStore struct {
	client *metaclient.Client
	logger *slog.Logger
}

// NewStreamStore creates a stream metadata store over the given connection.
func NewStreamStore(client *metaclient.Client, logger *slog.Logger) *StreamStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamStore{client: client, logger: logger}
}

func logPath(uri *url.URL, name string) string {
	return joinPath(uri.Path, name)
}

func (s *StreamStore) GetLog(ctx context.Context, uri *url.URL, name string, createIfMissing, throwIfMissing bool) (*LogMetadata, error) {
	path := logPath(uri, name)
	raw, err := s.client.Get(ctx, path)
	if err == nil {
		return decodeLogMetadata(raw, name)
	}
	if !metaclient.IsNotFound(err) {
		return nil, err
	}
	if createIfMissing {
		return s.createLog(ctx, uri, name)
	}
	if throwIfMissing {
		return nil, errors.Wrap(errors.ErrLogNotFound, "StreamStore", "GetLog", "resolve "+name)
	}
	return nil, nil
}

// CreateLog creates the stream metadata node, propagating the store's
// ErrLogExists when another creator got there first.
func (s *StreamStore) CreateLog(ctx context.Context, uri *url.URL, name string) (*LogMetadata, error) {
	path := logPath(uri, name)
	meta := &LogMetadata{Name: name, Path: path, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "StreamStore", "CreateLog", "encode metadata")
	}
	if err := s.client.Create(ctx, path, raw); err != nil {
		return nil, err
	}
	s.logger.Info("created log stream metadata", "log", name, "path", path)
	return meta, nil
}

func (s *StreamStore) createLog(ctx context.Context, uri *url.URL, name string) (*LogMetadata, error) {
	meta, err := s.CreateLog(ctx, uri, name)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, errors.ErrLogExists) {
		return nil, err
	}
	// Lost the creation race; the winner's node is authoritative.
	raw, err := s.client.Get(ctx, logPath(uri, name))
	if err != nil {
		return nil, err
	}
	return decodeLogMetadata(raw, name)
}

func (s *StreamStore) LogExists(ctx context.Context, uri *url.URL, name string) error {
	exists, err := s.client.Exists(ctx, logPath(uri, name))
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrap(errors.ErrLogNotFound, "StreamStore", "LogExists", "resolve "+name)
	}
	return nil
}

func (s *StreamStore) DeleteLog(ctx context.Context, uri *url.URL, name string) error {
	path := logPath(uri, name)
	exists, err := s.client.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrap(errors.ErrLogNotFound, "StreamStore", "DeleteLog", "resolve "+name)
	}
	if err := s.client.Delete(ctx, path); err != nil {
		return err
	}
	s.logger.Info("deleted log stream metadata", "log", name)
	return nil
}

// Close is a no-op: the metadata connection belongs to the namespace.
func (s *StreamStore) Close() error { return nil }

func decodeLogMetadata(raw []byte, name string) (*LogMetadata, error) {
	var meta LogMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.WrapFatal(errors.ErrMetadataCorrupt, "StreamStore", "GetLog", "decode metadata for "+name)
	}
	return &meta, nil
}
