package namespace

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/c360/dlog/metaclient"
	"github.com/c360/dlog/pkg/cache"
)

// AccessControlManager answers per-stream permission checks. Enforcement is
// the caller's responsibility; this layer only resolves the policy.
type AccessControlManager interface {
	AllowWrite(stream string) bool
	AllowRead(stream string) bool
	AllowDelete(stream string) bool
	Close() error
}

// defaultACLManager permits everything; used when no ACL root is configured.
type defaultACLManager struct{}

func (defaultACLManager) AllowWrite(string) bool  { return true }
func (defaultACLManager) AllowRead(string) bool   { return true }
func (defaultACLManager) AllowDelete(string) bool { return true }
func (defaultACLManager) Close() error            { return nil }

// aclEntry is the persisted per-stream policy. Absent fields permit.
type aclEntry struct {
	DenyWrite  bool `json:"deny_write,omitempty"`
	DenyRead   bool `json:"deny_read,omitempty"`
	DenyDelete bool `json:"deny_delete,omitempty"`
}

// storeACLManager resolves policies from the reserved ACL sub-tree of the
// namespace, caching entries briefly so permission checks stay off the hot
// path of the metadata connection.
type storeACLManager struct {
	client  *metaclient.Client
	root    string
	entries *cache.TTL[aclEntry]
	logger  *slog.Logger
}

const aclCacheTTL = time.Minute

func newStoreACLManager(client *metaclient.Client, uri *url.URL, aclRoot string, logger *slog.Logger) *storeACLManager {
	return &storeACLManager{
		client:  client,
		root:    strings.TrimSuffix(uri.Path, "/") + "/" + aclRoot,
		entries: cache.NewTTL[aclEntry](aclCacheTTL),
		logger:  logger,
	}
}

func (m *storeACLManager) entry(stream string) aclEntry {
	if e, ok := m.entries.Get(stream); ok {
		return e
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var e aclEntry
	raw, err := m.client.Get(ctx, m.root+"/"+stream)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(raw, &e); jerr != nil {
			// Unreadable policy denies nothing; log and fall through.
			m.logger.Warn("undecodable access control entry", "stream", stream, "error", jerr)
			e = aclEntry{}
		}
	case metaclient.IsNotFound(err):
		// No entry: permissive.
	default:
		m.logger.Warn("access control lookup failed", "stream", stream, "error", err)
		return aclEntry{}
	}
	m.entries.Set(stream, e)
	return e
}

func (m *storeACLManager) AllowWrite(stream string) bool  { return !m.entry(stream).DenyWrite }
func (m *storeACLManager) AllowRead(stream string) bool   { return !m.entry(stream).DenyRead }
func (m *storeACLManager) AllowDelete(stream string) bool { return !m.entry(stream).DenyDelete }

func (m *storeACLManager) Close() error {
	m.entries.Clear()
	return nil
}
