// Package countdown implements the exam countdown as an explicit three-state
// machine driven by wall-clock time. Tick counts are never trusted: the
// authoritative value is always recomputed from a reference timestamp, so a
// workstation that suspends the process (lid close, tab backgrounding relayed
// by the UI shell) loses no time on resume.
package countdown

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State enumerates the controller states.
type State string

const (
	StateStopped   State = "STOPPED"
	StateRunning   State = "RUNNING"
	StateSuspended State = "SUSPENDED"
)

// Controller counts down one exam attempt. While RUNNING the authoritative
// pair is (remainingAtRun, runStartedAt); while SUSPENDED it is (remaining,
// suspendedAt). Every transition and every read recomputes from wall clock.
// The expiry callback fires exactly once, whether exhaustion is detected by
// a tick or on resume.
type Controller struct {
	mu sync.Mutex

	state          State
	remaining      int // seconds; valid while STOPPED or SUSPENDED
	remainingAtRun int // remaining when the current run segment started
	runStartedAt   time.Time
	suspendedAt    time.Time
	expired        bool

	onExpire func()
	now      func() time.Time
	stopTick chan struct{}

	log zerolog.Logger
}

// New creates a controller for durationSeconds with an expiry callback. The
// callback is invoked outside the controller's lock, at most once, ever.
func New(durationSeconds int, onExpire func(), log zerolog.Logger) *Controller {
	return &Controller{
		state:     StateStopped,
		remaining: durationSeconds,
		onExpire:  onExpire,
		now:       time.Now,
		log:       log.With().Str("component", "countdown").Logger(),
	}
}

// SetClock replaces the time source. Test hook; call before Start.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Start transitions STOPPED → RUNNING and begins ticking. Starting with no
// time left fires expiry immediately. Start on a non-stopped controller is a
// no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.state != StateStopped || c.expired {
		c.mu.Unlock()
		return
	}
	if c.remaining <= 0 {
		fire := c.markExpiredLocked()
		c.mu.Unlock()
		fire()
		return
	}

	c.state = StateRunning
	c.remainingAtRun = c.remaining
	c.runStartedAt = c.now()
	c.startTickLocked()
	c.log.Debug().Int("remaining", c.remaining).Msg("Countdown started")
	c.mu.Unlock()
}

// Suspend transitions RUNNING → SUSPENDED on a page-hidden report: the tick
// source stops and the suspension timestamp is recorded. No-op otherwise.
func (c *Controller) Suspend() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}

	c.remaining = c.runRemainingLocked()
	c.suspendedAt = c.now()
	c.state = StateSuspended
	c.stopTickLocked()
	c.log.Debug().Int("remaining", c.remaining).Msg("Countdown suspended")
	c.mu.Unlock()
}

// Resume transitions SUSPENDED → RUNNING on a page-visible report. Elapsed
// wall-clock time since suspension is subtracted, floored at zero; if the
// budget is already exhausted, expiry fires here instead of being dropped.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != StateSuspended {
		c.mu.Unlock()
		return
	}

	elapsed := int(c.now().Sub(c.suspendedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	c.remaining -= elapsed
	if c.remaining <= 0 {
		c.remaining = 0
		fire := c.markExpiredLocked()
		c.mu.Unlock()
		fire()
		return
	}

	c.state = StateRunning
	c.remainingAtRun = c.remaining
	c.runStartedAt = c.now()
	c.startTickLocked()
	c.log.Debug().
		Int("elapsed_hidden", elapsed).
		Int("remaining", c.remaining).
		Msg("Countdown resumed")
	c.mu.Unlock()
}

// Stop tears down the controller without firing expiry. Used on session
// teardown so no live ticker outlives a destroyed session.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateRunning {
		c.remaining = c.runRemainingLocked()
	}
	c.state = StateStopped
	c.stopTickLocked()
	c.mu.Unlock()
}

// Remaining returns the current remaining seconds, recomputed from wall
// clock when running.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		return c.runRemainingLocked()
	}
	return c.remaining
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Expired reports whether the expiry callback has fired.
func (c *Controller) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// ─── Internals ──────────────────────────────────────────────────────

// runRemainingLocked recomputes remaining time for the current run segment
// from wall clock, floored at 0. Caller holds mu; state is RUNNING.
func (c *Controller) runRemainingLocked() int {
	elapsed := int(c.now().Sub(c.runStartedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := c.remainingAtRun - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// markExpiredLocked moves to the terminal state and returns the expiry
// callback to invoke after unlocking, exactly once across the tick and
// resume paths. Caller holds mu.
func (c *Controller) markExpiredLocked() func() {
	c.remaining = 0
	c.state = StateStopped
	c.stopTickLocked()
	if c.expired {
		return func() {}
	}
	c.expired = true
	c.log.Info().Msg("Countdown expired")
	if c.onExpire == nil {
		return func() {}
	}
	return c.onExpire
}

func (c *Controller) startTickLocked() {
	stop := make(chan struct{})
	c.stopTick = stop
	go c.tickLoop(stop)
}

func (c *Controller) stopTickLocked() {
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
}

func (c *Controller) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.tick() {
				return
			}
		}
	}
}

// tick re-evaluates remaining time on the 1 Hz pulse and fires expiry when
// the wall-clock budget is spent. Returns true when the loop should exit.
func (c *Controller) tick() bool {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return true
	}
	if c.runRemainingLocked() > 0 {
		c.mu.Unlock()
		return false
	}

	fire := c.markExpiredLocked()
	c.mu.Unlock()
	fire()
	return true
}
