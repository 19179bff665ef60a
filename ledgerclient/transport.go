package ledgerclient

import (
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360/dlog/errors"
)

// Transport is the shared low-level connection factory for storage clients.
// Multiple builders pointed at the same ensemble reuse one network
// connection; Release tears all of them down once during namespace shutdown.
type Transport struct {
	opts []nats.Option

	mu       sync.Mutex
	conns    map[string]*nats.Conn
	released bool
}

// NewTransport creates a Transport. Extra nats options apply to every
// connection it opens.
func NewTransport(opts ...nats.Option) *Transport {
	return &Transport{
		opts:  opts,
		conns: make(map[string]*nats.Conn),
	}
}

// Acquire returns a live connection to the ensemble, opening it on first use.
func (t *Transport) Acquire(name string, ensemble []string) (*nats.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Transport", "Acquire", "use released transport")
	}

	key := strings.Join(ensemble, ",")
	if conn, ok := t.conns[key]; ok && conn.IsConnected() {
		return conn, nil
	}

	conn, err := nats.Connect(key, append([]nats.Option{nats.Name(name)}, t.opts...)...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Transport", "Acquire", "connect ensemble")
	}
	t.conns[key] = conn
	return conn, nil
}

// Release closes every connection the transport opened. Idempotent.
func (t *Transport) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		return nil
	}
	t.released = true

	for _, conn := range t.conns {
		conn.Close()
	}
	t.conns = nil
	return nil
}

// Released reports whether Release was called.
func (t *Transport) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}
