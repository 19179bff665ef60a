package logmeta

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultPollInterval is how often a watcher re-lists the namespace when no
// interval is configured.
const DefaultPollInterval = 10 * time.Second

// watcher polls a list function and notifies listeners when the set of log
// names changes. The quorum store exposes no push notification for bucket
// sub-trees, so change detection is poll-and-diff.
type watcher struct {
	fetch    func(ctx context.Context) ([]string, error)
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	listeners []NamespaceListener
	last      []string
	started   bool
	stopped   bool
	stop      chan struct{}
	done      chan struct{}
}

func newWatcher(fetch func(ctx context.Context) ([]string, error), interval time.Duration, logger *slog.Logger) *watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &watcher{
		fetch:    fetch,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// register adds a listener and starts the poll loop on first registration.
func (w *watcher) register(l NamespaceListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, l)
	if !w.started {
		w.started = true
		go w.loop()
	}
}

// close is safe to call from multiple goroutines; the stop channel is closed
// exactly once under the mutex.
func (w *watcher) close() {
	w.mu.Lock()
	started := w.started
	if started && !w.stopped {
		w.stopped = true
		close(w.stop)
	}
	w.mu.Unlock()
	if !started {
		return
	}
	<-w.done
}

func (w *watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *watcher) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	logs, err := w.fetch(ctx)
	if err != nil {
		w.logger.Warn("namespace poll failed", "error", err)
		return
	}
	sort.Strings(logs)

	w.mu.Lock()
	changed := !equalLists(w.last, logs)
	if changed {
		w.last = logs
	}
	listeners := make([]NamespaceListener, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		l.OnLogsChanged(logs)
	}
}

func equalLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
