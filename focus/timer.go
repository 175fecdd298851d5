// Package focus runs timed do-not-disturb sessions. While a session is
// active the chat reply sink is muted; observers follow along via
// focus-status events on the focus channel.
package focus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
)

// muter is the sink side the timer controls.
type muter interface {
	Mute()
	Unmute()
}

// publisher fans focus-status events out to observers.
type publisher interface {
	Publish(channel, event string, payload any)
}

// Status is the observer-facing snapshot of the timer.
type Status struct {
	Active bool `json:"active"`
	// Remaining is whole seconds left, never negative. Minutes and Seconds
	// are its display decomposition.
	Remaining int `json:"remainingSeconds,omitempty"`
	Minutes   int `json:"minutes,omitempty"`
	Seconds   int `json:"seconds,omitempty"`
	// EndTime is the session deadline in unix milliseconds, Duration the
	// full session length in milliseconds.
	EndTime  int64 `json:"endTime,omitempty"`
	Duration int64 `json:"durationMs,omitempty"`
}

// Timer is the focus session controller. At most one session is active; a
// new Start supersedes the running one without a spurious completion.
type Timer struct {
	clock clockwork.Clock
	sink  muter
	hub   publisher

	mu      sync.Mutex
	active  bool
	minutes int
	endTime time.Time
	timer   clockwork.Timer
	// gen invalidates completion callbacks from superseded sessions.
	gen int
}

// NewTimer wires a timer against the sink and broadcast hub.
func NewTimer(clock clockwork.Clock, sink muter, hub publisher) *Timer {
	return &Timer{clock: clock, sink: sink, hub: hub}
}

// Start begins a session of the given length, replacing any active one.
// Returns false without side effects when minutes is not positive.
func (t *Timer) Start(minutes int) bool {
	if minutes <= 0 {
		return false
	}

	t.mu.Lock()
	if t.active {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	d := time.Duration(minutes) * time.Minute
	t.active = true
	t.minutes = minutes
	t.endTime = t.clock.Now().Add(d)
	t.timer = t.clock.AfterFunc(d, func() { t.complete(gen) })
	status := t.statusLocked()
	t.mu.Unlock()

	t.sink.Mute()
	telemetry.SetFocusActive(true)
	slog.Info("focus: session started", slog.Int("minutes", minutes))
	t.hub.Publish("focus", "focus-status", status)
	return true
}

// Stop ends the active session. Returns false, with no broadcast, when no
// session is running.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return false
	}
	t.timer.Stop()
	t.gen++
	t.clearLocked()
	t.mu.Unlock()

	t.finish("stopped")
	return true
}

// complete is the natural end of a session. Superseded or already stopped
// sessions are ignored via the generation check.
func (t *Timer) complete(gen int) {
	t.mu.Lock()
	if !t.active || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.clearLocked()
	t.mu.Unlock()

	t.finish("completed")
}

func (t *Timer) clearLocked() {
	t.active = false
	t.minutes = 0
	t.endTime = time.Time{}
	t.timer = nil
}

func (t *Timer) finish(outcome string) {
	t.sink.Unmute()
	telemetry.SetFocusActive(false)
	slog.Info("focus: session " + outcome)
	t.hub.Publish("focus", "focus-status", Status{Active: false})
}

// Status reports the current session without side effects.
func (t *Timer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

func (t *Timer) statusLocked() Status {
	if !t.active {
		return Status{Active: false}
	}
	remaining := t.endTime.Sub(t.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	secs := int(remaining / time.Second)
	return Status{
		Active:    true,
		Remaining: secs,
		Minutes:   secs / 60,
		Seconds:   secs % 60,
		EndTime:   t.endTime.UnixMilli(),
		Duration:  int64(t.minutes) * 60 * 1000,
	}
}
