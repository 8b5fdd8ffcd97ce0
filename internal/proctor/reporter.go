// Package proctor streams liveness and visibility events to the backend's
// exam channel over WebSocket. The stream is best-effort by contract: a
// broken socket reconnects with backoff, a full queue drops events, and no
// proctor failure ever blocks or fails the exam session itself.
package proctor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	heartbeatInterval = 25 * time.Second
	writeDeadline     = 10 * time.Second
	maxBackoff        = 30 * time.Second
	queueDepth        = 64
)

// Reporter is one proctor stream for one exam session.
type Reporter struct {
	url   string
	queue chan CheatMessage

	mu      sync.Mutex
	stopped bool
	stop    chan struct{}

	log zerolog.Logger
}

// NewReporter creates a reporter for the given stream URL (ws:// or wss://,
// token already in the query string, matching the backend's WS auth).
func NewReporter(url string, log zerolog.Logger) *Reporter {
	return &Reporter{
		url:   url,
		queue: make(chan CheatMessage, queueDepth),
		stop:  make(chan struct{}),
		log:   log.With().Str("component", "proctor").Logger(),
	}
}

// Start runs the stream until Stop or ctx cancellation. Call in a
// goroutine is not needed; Start launches its own.
func (r *Reporter) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop closes the stream. Safe to call more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopped {
		r.stopped = true
		close(r.stop)
	}
}

// ReportVisibility queues a visibility transition for delivery. Never
// blocks; with the stream down and the queue full the oldest pending event
// is dropped.
func (r *Reporter) ReportVisibility(focusLost bool) {
	typ := "focus_restored"
	if focusLost {
		typ = "focus_lost"
	}

	payload, err := json.Marshal(VisibilityEvent{
		Type: typ,
		At:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	msg := CheatMessage{Action: ActionCheat, Payload: string(payload)}
	select {
	case r.queue <- msg:
	default:
		select {
		case <-r.queue:
		default:
		}
		select {
		case r.queue <- msg:
		default:
		}
		r.log.Warn().Msg("Proctor queue full, dropped oldest event")
	}
}

// ─── Stream loop ────────────────────────────────────────────────────

func (r *Reporter) run(ctx context.Context) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.url, nil)
		if err != nil {
			r.log.Debug().Err(err).Dur("retry_in", backoff).Msg("Proctor dial failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second
		r.log.Debug().Msg("Proctor stream connected")
		r.pump(ctx, conn)
		conn.Close()
	}
}

// pump sends heartbeats and queued events until the socket breaks or the
// reporter stops.
func (r *Reporter) pump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	// Drain server frames so pings/pongs keep flowing; contents are only
	// logged.
	go func() {
		for {
			var env EventEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Event == EventError {
				r.log.Warn().Str("error", env.Error).Msg("Proctor stream error event")
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case msg := <-r.queue:
			if err := r.write(conn, msg); err != nil {
				r.log.Debug().Err(err).Msg("Proctor write failed, reconnecting")
				return
			}
		case <-ticker.C:
			if err := r.write(conn, PingMessage{Action: ActionPing}); err != nil {
				r.log.Debug().Err(err).Msg("Proctor heartbeat failed, reconnecting")
				return
			}
		}
	}
}

func (r *Reporter) write(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(v)
}
