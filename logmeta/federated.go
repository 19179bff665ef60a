package logmeta

import (
	"context"
	"net/url"

	"github.com/c360/dlog/errors"
	"github.com/c360/dlog/metaclient"
)

// federatedRoot is the reserved sub-tree holding the name-to-location
// mapping of a federated namespace.
const federatedRoot = ".federated/logs"

// FederatedStore serves a federated namespace: logs are created implicitly
// by name and resolved through an explicit mapping rather than a fixed root
// path. The mapping lives under a reserved sub-tree so it never collides
// with user log names.
type FederatedStore struct {
	client  *metaclient.Client
	uri     *url.URL
	watcher *watcher
}

// NewFederatedStore creates the name-mapping metadata store for uri.
func NewFederatedStore(client *metaclient.Client, uri *url.URL, opts ...SimpleStoreOption) *FederatedStore {
	o := simpleStoreOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	s := &FederatedStore{client: client, uri: uri}
	s.watcher = newWatcher(s.GetLogs, o.pollInterval, o.logger)
	return s
}

func (s *FederatedStore) mappingPath(name string) string {
	return joinPath(joinPath(s.uri.Path, federatedRoot), name)
}

// CreateLog registers the name in the mapping, pointing it at this
// namespace's storage location. An existing mapping fails with
// errors.ErrLogExists.
func (s *FederatedStore) CreateLog(ctx context.Context, name string) (*url.URL, error) {
	err := s.client.Create(ctx, s.mappingPath(name), []byte(s.uri.String()))
	if err != nil {
		if errors.Is(err, errors.ErrLogExists) {
			return nil, errors.WrapInvalid(errors.ErrLogExists, "FederatedStore", "CreateLog", "register "+name)
		}
		return nil, err
	}
	return s.uri, nil
}

// GetLogLocation resolves the name through the mapping. An unmapped name
// returns false without error.
func (s *FederatedStore) GetLogLocation(ctx context.Context, name string) (*url.URL, bool, error) {
	raw, err := s.client.Get(ctx, s.mappingPath(name))
	if err != nil {
		if metaclient.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	loc, err := url.Parse(string(raw))
	if err != nil {
		return nil, false, errors.WrapFatal(errors.ErrMetadataCorrupt, "FederatedStore", "GetLogLocation", "parse location for "+name)
	}
	return loc, true, nil
}

// RemoveLog drops the name from the mapping.
func (s *FederatedStore) RemoveLog(ctx context.Context, name string) error {
	return s.client.Delete(ctx, s.mappingPath(name))
}

// GetLogs lists the mapped names. A namespace with no mapping sub-tree yet
// has no logs.
func (s *FederatedStore) GetLogs(ctx context.Context) ([]string, error) {
	children, err := s.client.Children(ctx, joinPath(s.uri.Path, federatedRoot))
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

func (s *FederatedStore) RegisterListener(l NamespaceListener) {
	s.watcher.register(l)
}

// Close stops the change watcher.
func (s *FederatedStore) Close() error {
	s.watcher.close()
	return nil
}
