package namespace

import (
	"context"
	"net/url"

	"github.com/c360/dlog/config"
	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/logmeta"
	"github.com/c360/dlog/metaclient"
)

// The operations in this file assume every log lives at one fixed location
// under the namespace root. Federated namespaces have no such layout, so
// each of them rejects federated use with errors.ErrUnsupportedOperation.

// CreateLogManager constructs a handle for the named log at the namespace's
// fixed location, without requiring the log to exist yet. The sharing option
// selects which namespace connections the handle reuses.
func (n *Namespace) CreateLogManager(ctx context.Context, name string, sharing ClientSharingOption, opts ...OpenOption) (*LogManager, error) {
	if err := n.checkLegacy("CreateLogManager"); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	return n.newHandle(ctx, name, n.uri, sharing, o.override, o.dynamic, o.perLogScope)
}

// CreateLogManagerWithSharedClients is CreateLogManager with the
// SharedClients option and no overrides.
func (n *Namespace) CreateLogManagerWithSharedClients(ctx context.Context, name string) (*LogManager, error) {
	return n.CreateLogManager(ctx, name, SharedClients)
}

// MetadataAccessor reads and writes a log's raw metadata bytes without
// opening a full handle. Administrative tooling uses it to inspect or patch
// stream metadata directly.
type MetadataAccessor struct {
	name   string
	path   string
	client *metaclient.Client
}

// Name returns the log name the accessor is bound to.
func (a *MetadataAccessor) Name() string { return a.name }

// GetMetadata returns the raw metadata bytes, or errors.ErrLogNotFound.
func (a *MetadataAccessor) GetMetadata(ctx context.Context) ([]byte, error) {
	raw, err := a.client.Get(ctx, a.path)
	if err != nil {
		if metaclient.IsNotFound(err) {
			return nil, errors.Wrap(errors.ErrLogNotFound, "MetadataAccessor", "GetMetadata", "read "+a.name)
		}
		return nil, err
	}
	return raw, nil
}

// CreateOrUpdateMetadata writes the raw metadata bytes, creating the node if
// absent.
func (a *MetadataAccessor) CreateOrUpdateMetadata(ctx context.Context, data []byte) error {
	return a.client.Put(ctx, a.path, data)
}

// DeleteMetadata removes the metadata node.
func (a *MetadataAccessor) DeleteMetadata(ctx context.Context) error {
	exists, err := a.client.Exists(ctx, a.path)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrap(errors.ErrLogNotFound, "MetadataAccessor", "DeleteMetadata", "resolve "+a.name)
	}
	return a.client.Delete(ctx, a.path)
}

// Close releases the accessor. The underlying connection belongs to the
// namespace.
func (a *MetadataAccessor) Close() error { return nil }

// CreateMetadataAccessor returns a raw metadata accessor for the named log.
func (n *Namespace) CreateMetadataAccessor(name string) (*MetadataAccessor, error) {
	if err := n.checkLegacy("CreateMetadataAccessor"); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &MetadataAccessor{
		name:   name,
		path:   logNodePath(n.uri, name),
		client: n.writerMeta,
	}, nil
}

// EnumerateAllLogs lists every log under the namespace root, reserved names
// excluded.
func (n *Namespace) EnumerateAllLogs(ctx context.Context) ([]string, error) {
	if err := n.checkLegacy("EnumerateAllLogs"); err != nil {
		return nil, err
	}
	return enumerateLogs(ctx, n.writerMeta, n.uri)
}

// EnumerateLogsWithMetadata lists every log under the namespace root along
// with its raw metadata bytes. Logs whose location node carries no metadata
// map to empty bytes; reserved names are excluded.
func (n *Namespace) EnumerateLogsWithMetadata(ctx context.Context) (map[string][]byte, error) {
	if err := n.checkLegacy("EnumerateLogsWithMetadata"); err != nil {
		return nil, err
	}
	return enumerateLogsWithMetadata(ctx, n.writerMeta, n.uri)
}

// EnumerateLogsWithMetadata inspects a namespace without constructing one: a
// short-lived metadata connection is opened, the logs enumerated, and the
// connection closed again.
func EnumerateLogsWithMetadata(ctx context.Context, conf *config.NamespaceConfig, uri *url.URL, dialer metaclient.Dialer) (map[string][]byte, error) {
	if err := ValidateConfAndURI(conf, uri); err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = metaclient.NATSDialer()
	}

	client := metaclient.NewBuilder(metaclient.BuilderConfig{
		Name:           "dlog_enumerate",
		Ensemble:       EnsembleFromURI(uri),
		SessionTimeout: conf.MetadataSessionTimeout,
		RetryPolicy:    conf.MetadataRetry,
		Dialer:         dialer,
	}).Build()
	defer func() { _ = client.Close() }()

	return enumerateLogsWithMetadata(ctx, client, uri)
}

func logNodePath(uri *url.URL, name string) string {
	path := uri.Path
	if path != "" && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path + "/" + name
}

func enumerateLogs(ctx context.Context, client *metaclient.Client, uri *url.URL) ([]string, error) {
	children, err := client.Children(ctx, uri.Path)
	if err != nil {
		if metaclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	logs := make([]string, 0, len(children))
	for _, c := range children {
		if logmeta.IsReservedName(c) {
			continue
		}
		logs = append(logs, c)
	}
	return logs, nil
}

func enumerateLogsWithMetadata(ctx context.Context, client *metaclient.Client, uri *url.URL) (map[string][]byte, error) {
	logs, err := enumerateLogs(ctx, client, uri)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(logs))
	for _, name := range logs {
		raw, err := client.Get(ctx, logNodePath(uri, name))
		if err != nil {
			if metaclient.IsNotFound(err) {
				result[name] = []byte{}
				continue
			}
			return nil, err
		}
		result[name] = raw
	}
	return result, nil
}
