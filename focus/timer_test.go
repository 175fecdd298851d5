package focus

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeSink struct {
	mu    sync.Mutex
	muted bool
}

func (f *fakeSink) Mute() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = true
}

func (f *fakeSink) Unmute() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = false
}

func (f *fakeSink) isMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}

type statusEvent struct {
	channel, event string
	status         Status
}

type fakeHub struct {
	mu     sync.Mutex
	events []statusEvent
}

func (f *fakeHub) Publish(channel, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, statusEvent{channel: channel, event: event, status: payload.(Status)})
}

func (f *fakeHub) all() []statusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statusEvent(nil), f.events...)
}

func newTestTimer() (*Timer, *fakeSink, *fakeHub, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	sink := &fakeSink{}
	hub := &fakeHub{}
	return NewTimer(clock, sink, hub), sink, hub, clock
}

func TestStartRejectsNonPositiveMinutes(t *testing.T) {
	timer, sink, hub, _ := newTestTimer()

	for _, minutes := range []int{0, -5} {
		if timer.Start(minutes) {
			t.Errorf("Start(%d) = true, want false", minutes)
		}
	}
	if sink.isMuted() || len(hub.all()) != 0 {
		t.Errorf("rejected start had side effects: muted=%v events=%d", sink.isMuted(), len(hub.all()))
	}
}

func TestStartMutesAndBroadcasts(t *testing.T) {
	timer, sink, hub, _ := newTestTimer()

	if !timer.Start(25) {
		t.Fatal("Start(25) = false")
	}
	if !sink.isMuted() {
		t.Error("sink not muted while session active")
	}
	events := hub.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.channel != "focus" || ev.event != "focus-status" {
		t.Errorf("published %s/%s", ev.channel, ev.event)
	}
	if !ev.status.Active || ev.status.Minutes != 25 || ev.status.Remaining != 25*60 {
		t.Errorf("status = %+v", ev.status)
	}
	if ev.status.Duration != 25*60*1000 {
		t.Errorf("Duration = %d, want %d", ev.status.Duration, 25*60*1000)
	}
}

func TestStartSupersedesActiveSession(t *testing.T) {
	timer, _, hub, clock := newTestTimer()

	timer.Start(5)
	timer.Start(10)

	st := timer.Status()
	if !st.Active || st.Minutes != 10 {
		t.Fatalf("Status() = %+v, want active 10 minute session", st)
	}

	// Letting the first session's deadline pass must not complete anything.
	clock.Advance(5 * time.Minute)
	if st := timer.Status(); !st.Active {
		t.Fatal("superseded deadline completed the replacement session")
	}

	clock.Advance(5 * time.Minute)
	waitFor(t, func() bool { return !timer.Status().Active })

	var completions int
	for _, ev := range hub.all() {
		if !ev.status.Active {
			completions++
		}
	}
	if completions != 1 {
		t.Errorf("completions = %d, want exactly 1", completions)
	}
}

func TestStopOnInactiveIsSilent(t *testing.T) {
	timer, _, hub, _ := newTestTimer()

	if timer.Stop() {
		t.Error("Stop() = true with no session")
	}
	if len(hub.all()) != 0 {
		t.Errorf("inactive stop broadcast %d events", len(hub.all()))
	}
}

func TestStopUnmutesAndBroadcasts(t *testing.T) {
	timer, sink, hub, _ := newTestTimer()

	timer.Start(25)
	if !timer.Stop() {
		t.Fatal("Stop() = false on active session")
	}
	if sink.isMuted() {
		t.Error("sink still muted after stop")
	}
	events := hub.all()
	last := events[len(events)-1]
	if last.status.Active {
		t.Errorf("final status = %+v, want inactive", last.status)
	}
	if st := timer.Status(); st.Active {
		t.Errorf("Status() = %+v after stop", st)
	}
}

func TestNaturalCompletionUnmutes(t *testing.T) {
	timer, sink, hub, clock := newTestTimer()

	timer.Start(1)
	clock.Advance(time.Minute)
	waitFor(t, func() bool { return !timer.Status().Active })

	if sink.isMuted() {
		t.Error("sink still muted after completion")
	}
	events := hub.all()
	if last := events[len(events)-1]; last.status.Active {
		t.Errorf("final status = %+v, want inactive", last.status)
	}

	// A second stop after completion is a no-op.
	if timer.Stop() {
		t.Error("Stop() = true after natural completion")
	}
}

func TestStatusRemainingCountsDown(t *testing.T) {
	timer, _, _, clock := newTestTimer()

	timer.Start(10)
	clock.Advance(4 * time.Minute)
	if st := timer.Status(); st.Remaining != 6*60 {
		t.Errorf("Remaining = %d, want %d", st.Remaining, 6*60)
	}
}

func TestStatusDecomposesRemainingTime(t *testing.T) {
	timer, _, _, clock := newTestTimer()

	timer.Start(10)
	clock.Advance(90 * time.Second)

	st := timer.Status()
	if st.Remaining != 510 || st.Minutes != 8 || st.Seconds != 30 {
		t.Errorf("status = %+v, want remaining 510 = 8m30s", st)
	}
	if st.Duration != 10*60*1000 {
		t.Errorf("Duration = %d, want %d", st.Duration, 10*60*1000)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
