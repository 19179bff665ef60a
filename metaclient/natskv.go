package metaclient

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dlog/errors"
)

// DefaultBucket is the KV bucket holding namespace metadata when none is
// configured.
const DefaultBucket = "dlog_metadata"

// NATSDialer returns a Dialer that opens a JetStream Key-Value session
// against the ensemble. Extra nats options are applied on top of the
// connection name.
func NATSDialer(opts ...nats.Option) Dialer {
	return func(ctx context.Context, ensemble []string, dialOpts DialOptions) (Store, error) {
		connOpts := append([]nats.Option{nats.Name(dialOpts.Name)}, opts...)
		nc, err := nats.Connect(strings.Join(ensemble, ","), connOpts...)
		if err != nil {
			return nil, errors.WrapTransient(err, "natsStore", "dial", "connect ensemble")
		}

		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, errors.WrapTransient(err, "natsStore", "dial", "initialize jetstream")
		}

		bucket := dialOpts.Bucket
		if bucket == "" {
			bucket = DefaultBucket
		}

		// Get-or-create, tolerating a concurrent creator.
		kv, err := js.KeyValue(ctx, bucket)
		if err != nil {
			kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
			if err != nil {
				if kv2, getErr := js.KeyValue(ctx, bucket); getErr == nil {
					kv = kv2
				} else {
					nc.Close()
					return nil, errors.WrapTransient(err, "natsStore", "dial", "open bucket")
				}
			}
		}

		return &natsStore{nc: nc, kv: kv}, nil
	}
}

// natsStore maps hierarchical paths onto a JetStream KV bucket. A path
// "/tenant/ns/log" is stored under the single key "tenant/ns/log".
type natsStore struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

func pathKey(path string) string {
	return strings.Trim(path, "/")
}

func (s *natsStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, pathKey(key))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, errors.WrapTransient(err, "natsStore", "Get", "read key")
	}
	return entry.Value(), nil
}

func (s *natsStore) Put(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Put(ctx, pathKey(key), value); err != nil {
		return errors.WrapTransient(err, "natsStore", "Put", "write key")
	}
	return nil
}

func (s *natsStore) Create(ctx context.Context, key string, value []byte) error {
	if _, err := s.kv.Create(ctx, pathKey(key), value); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyExists) {
			return errors.ErrLogExists
		}
		return errors.WrapTransient(err, "natsStore", "Create", "create key")
	}
	return nil
}

func (s *natsStore) Delete(ctx context.Context, key string) error {
	prefix := pathKey(key)
	keys, err := s.allKeys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			if err := s.kv.Purge(ctx, k); err != nil {
				return errors.WrapTransient(err, "natsStore", "Delete", "purge key")
			}
		}
	}
	return nil
}

func (s *natsStore) Children(ctx context.Context, path string) ([]string, error) {
	prefix := pathKey(path)
	if prefix != "" {
		prefix += "/"
	}

	keys, err := s.allKeys(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var children []string
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) || k == strings.TrimSuffix(prefix, "/") {
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
	return children, nil
}

func (s *natsStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.kv.Get(ctx, pathKey(key))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "natsStore", "Exists", "read key")
	}
	return true, nil
}

func (s *natsStore) allKeys(ctx context.Context) ([]string, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsStore", "allKeys", "list keys")
	}
	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *natsStore) Close() error {
	s.nc.Close()
	return nil
}
