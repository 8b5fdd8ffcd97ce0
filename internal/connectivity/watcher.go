// Package connectivity tracks whether the backend is reachable. Two signals
// feed the flag: a periodic health probe, and explicit reports pushed by the
// UI shell when the platform's connectivity events fire. Either source can
// flip the state; subscribers hear about transitions only.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Probe checks reachability; any error means offline.
type Probe func(ctx context.Context) error

// Watcher maintains the online flag and notifies subscribers on every
// transition. Subscribers run on their own goroutine so a slow subscriber
// (a sync pass) never stalls probing.
type Watcher struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
	stop   chan struct{}

	probe    Probe
	interval time.Duration
	log      zerolog.Logger
}

// NewWatcher creates a watcher that runs probe every interval once started.
// The initial state is offline until the first probe or report says
// otherwise.
func NewWatcher(probe Probe, interval time.Duration, log zerolog.Logger) *Watcher {
	return &Watcher{
		probe:    probe,
		interval: interval,
		log:      log.With().Str("component", "connectivity").Logger(),
	}
}

// Subscribe registers a transition callback. Register before Start; the
// callback receives the new state.
func (w *Watcher) Subscribe(fn func(online bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

// Start probes immediately and then on every interval. Call in a goroutine
// or rely on the internal one; Start returns after launching it.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.stop != nil {
		w.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	w.stop = stop
	w.mu.Unlock()

	go w.loop(ctx, stop)
}

// Stop halts probing. Reports still work after Stop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		close(w.stop)
		w.stop = nil
	}
}

// Online returns the current flag.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Report feeds an externally observed state, e.g. the UI shell relaying the
// platform's online/offline events.
func (w *Watcher) Report(online bool) {
	w.set(online)
}

func (w *Watcher) loop(ctx context.Context, stop chan struct{}) {
	w.runProbe(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.runProbe(ctx)
		}
	}
}

func (w *Watcher) runProbe(ctx context.Context) {
	err := w.probe(ctx)
	w.set(err == nil)
}

// set updates the flag and fans out on transitions.
func (w *Watcher) set(online bool) {
	w.mu.Lock()
	if w.online == online {
		w.mu.Unlock()
		return
	}
	w.online = online
	subs := append([]func(bool){}, w.subs...)
	w.mu.Unlock()

	w.log.Info().Bool("online", online).Msg("Connectivity changed")
	for _, fn := range subs {
		go fn(online)
	}
}
