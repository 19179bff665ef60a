package ledgerclient

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/dlog/errors"
)

// NATSDialer returns a Dialer mapping ledgers onto JetStream streams. A
// ledger with id N under root path "/ns/ledgers" becomes the stream
// "ns-ledgers-L<N>". Connections come from the shared Transport.
func NATSDialer() Dialer {
	return func(ctx context.Context, ensemble []string, opts DialOptions) (LedgerStore, error) {
		if opts.Transport == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("no transport supplied"),
				"natsLedgerStore", "dial", "acquire connection")
		}
		conn, err := opts.Transport.Acquire(opts.Name, ensemble)
		if err != nil {
			return nil, err
		}
		js, err := jetstream.New(conn)
		if err != nil {
			return nil, errors.WrapTransient(err, "natsLedgerStore", "dial", "initialize jetstream")
		}
		return &natsLedgerStore{js: js, prefix: streamPrefix(opts.RootPath)}, nil
	}
}

func streamPrefix(rootPath string) string {
	p := strings.Trim(rootPath, "/")
	p = strings.ReplaceAll(p, "/", "-")
	if p == "" {
		p = "ledgers"
	}
	return p
}

// natsLedgerStore creates one JetStream stream per ledger. The stream is the
// append-only segment; its subject space is private to the ledger.
type natsLedgerStore struct {
	js     jetstream.JetStream
	prefix string
}

// newLedgerID derives a cluster-unique ledger id.
func newLedgerID() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

func (s *natsLedgerStore) streamName(id uint64) string {
	return fmt.Sprintf("%s-L%d", s.prefix, id)
}

func (s *natsLedgerStore) CreateLedger(ctx context.Context) (uint64, error) {
	id := newLedgerID()
	name := s.streamName(id)
	_, err := s.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{name + ".>"},
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "natsLedgerStore", "CreateLedger", "create stream")
	}
	return id, nil
}

func (s *natsLedgerStore) DeleteLedger(ctx context.Context, id uint64) error {
	err := s.js.DeleteStream(ctx, s.streamName(id))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrStreamNotFound) {
			return errors.ErrKeyNotFound
		}
		return errors.WrapTransient(err, "natsLedgerStore", "DeleteLedger", "delete stream")
	}
	return nil
}

func (s *natsLedgerStore) LedgerExists(ctx context.Context, id uint64) (bool, error) {
	_, err := s.js.Stream(ctx, s.streamName(id))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrStreamNotFound) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "natsLedgerStore", "LedgerExists", "get stream")
	}
	return true, nil
}

// Close is a no-op: the connection belongs to the shared Transport and is
// released with it.
func (s *natsLedgerStore) Close() error {
	return nil
}
