// Package logmeta holds the namespace-level log metadata stores: locating
// logs by name, listing them, and reading or writing per-stream metadata
// through a shared metadata connection.
//
// Two LogMetadataStore implementations exist. The simple store serves a
// namespace whose logs all live directly under one fixed root path. The
// federated store resolves logs by name through an explicit mapping, so logs
// can be created implicitly without a pre-declared location. The choice is
// made once at namespace build time.
package logmeta

import (
	"context"
	"net/url"
	"strings"
)

// LogMetadataStore locates and lists the logs of one namespace.
type LogMetadataStore interface {
	// CreateLog registers the log name and returns the namespace location
	// under which its stream metadata lives.
	CreateLog(ctx context.Context, name string) (*url.URL, error)

	// GetLogLocation resolves the location serving the named log. The
	// second return is false when no mapping exists.
	GetLogLocation(ctx context.Context, name string) (*url.URL, bool, error)

	// RemoveLog unregisters the log name after its stream metadata is
	// deleted. A no-op for stores without an explicit mapping.
	RemoveLog(ctx context.Context, name string) error

	// GetLogs lists the log names in the namespace, reserved names
	// excluded. Each call re-lists, so the result reflects current state.
	GetLogs(ctx context.Context) ([]string, error)

	// RegisterListener subscribes to log-set changes.
	RegisterListener(l NamespaceListener)

	// Close stops watchers. It does not close the shared connection.
	Close() error
}

// NamespaceListener is notified with the full current log list whenever the
// set of logs in the namespace changes.
type NamespaceListener interface {
	OnLogsChanged(logs []string)
}

// ListenerFunc adapts a function to the NamespaceListener interface.
type ListenerFunc func(logs []string)

func (f ListenerFunc) OnLogsChanged(logs []string) { f(logs) }

// IsReservedName reports whether a log name is reserved for internal use.
// Reserved names start with "." and are never listed or user-creatable.
func IsReservedName(name string) bool {
	return strings.HasPrefix(name, ".")
}

func joinPath(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + name
}
