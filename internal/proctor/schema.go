package proctor

// ─── Actions (Agent → Backend) ──────────────────────────────────────

type Action string

const (
	ActionPing  Action = "ping"
	ActionCheat Action = "cheat"
)

// PingMessage is the periodic heartbeat that keeps the proctor stream and
// the backend's liveness view alive.
type PingMessage struct {
	Action Action `json:"action"`
}

// CheatMessage reports a suspicious client-side event. Payload is a JSON
// string, matching what the backend's cheat worker expects to relay.
type CheatMessage struct {
	Action  Action `json:"action"`
	Payload string `json:"payload"`
}

// VisibilityEvent is the payload for tab/window visibility transitions.
type VisibilityEvent struct {
	Type string `json:"type"` // focus_lost | focus_restored
	At   string `json:"at"`   // RFC3339
}

// ─── Events (Backend → Agent) ───────────────────────────────────────

type Event string

const (
	EventPong  Event = "pong"
	EventError Event = "error"
)

// EventEnvelope is used to peek at the event type before full parsing.
type EventEnvelope struct {
	Event Event  `json:"event"`
	Error string `json:"error,omitempty"`
}
