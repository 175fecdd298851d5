package eventsub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/followers"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	sessions []string
	err      error
	called   chan string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{called: make(chan string, 4)}
}

func (f *fakeSubscriber) CreateFollowSubscription(ctx context.Context, broadcasterID, moderatorID, sessionID string) error {
	f.mu.Lock()
	f.sessions = append(f.sessions, sessionID)
	err := f.err
	f.mu.Unlock()
	f.called <- sessionID
	return err
}

var upgrader = websocket.Upgrader{}

func welcomeFrame(sessionID string) string {
	return `{"metadata":{"message_type":"session_welcome"},"payload":{"session":{"id":"` + sessionID + `"}}}`
}

func wsAddr(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSessionWelcomeSubscribeFollow(t *testing.T) {
	ready := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if err := c.WriteMessage(websocket.TextMessage, []byte(welcomeFrame("sess-1"))); err != nil {
			t.Errorf("write welcome: %v", err)
			return
		}
		ready <- c
	}))
	defer srv.Close()

	added := make(chan followers.Entry, 1)
	registry := followers.NewRegistry(func(e followers.Entry) { added <- e })
	subs := newFakeSubscriber()
	sess := NewSession(subs, registry, wsAddr(srv), "chan-1", "mod-1", 5, clockwork.NewRealClock())

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	select {
	case id := <-subs.called:
		if id != "sess-1" {
			t.Errorf("subscribed with session %q, want sess-1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription never requested")
	}

	conn := <-ready
	notif := `{"metadata":{"message_type":"notification","subscription_type":"channel.follow"},` +
		`"payload":{"event":{"user_id":"u7","user_login":"alice","user_name":"Alice","followed_at":"2024-03-01T12:00:00Z"}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(notif)); err != nil {
		t.Fatalf("write notification: %v", err)
	}

	select {
	case e := <-added:
		if e.Login != "alice" || e.DisplayName != "Alice" || e.UserID != "u7" {
			t.Errorf("entry = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow never reconciled")
	}

	sess.Destroy()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil after Destroy", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Destroy")
	}
}

func TestSessionKeepaliveAndForeignEventsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.WriteMessage(websocket.TextMessage, []byte(welcomeFrame("sess-1")))
		c.WriteMessage(websocket.TextMessage, []byte(`{"metadata":{"message_type":"session_keepalive"},"payload":{}}`))
		c.WriteMessage(websocket.TextMessage, []byte(`{"metadata":{"message_type":"notification","subscription_type":"channel.subscribe"},"payload":{"event":{"user_login":"mallory"}}}`))
	}))
	defer srv.Close()

	registry := followers.NewRegistry(func(e followers.Entry) {
		t.Errorf("unexpected reconcile of %q", e.Login)
	})
	subs := newFakeSubscriber()
	sess := NewSession(subs, registry, wsAddr(srv), "chan-1", "mod-1", 5, clockwork.NewRealClock())

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()
	<-subs.called

	// Give the reader a beat to process the extra frames before teardown.
	time.Sleep(100 * time.Millisecond)
	sess.Destroy()
	<-done
	if registry.Count() != 0 {
		t.Errorf("Count() = %d, want 0", registry.Count())
	}
}

func TestSessionReconnectHandoff(t *testing.T) {
	subs := newFakeSubscriber()

	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.WriteMessage(websocket.TextMessage, []byte(welcomeFrame("sess-2")))
	}))
	defer second.Close()

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.WriteMessage(websocket.TextMessage, []byte(welcomeFrame("sess-1")))
		reconnect := `{"metadata":{"message_type":"session_reconnect"},"payload":{"session":{"reconnect_url":"` + wsAddr(second) + `"}}}`
		c.WriteMessage(websocket.TextMessage, []byte(reconnect))
	}))
	defer first.Close()

	registry := followers.NewRegistry(nil)
	sess := NewSession(subs, registry, wsAddr(first), "chan-1", "mod-1", 5, clockwork.NewRealClock())

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	var got []string
	for len(got) < 2 {
		select {
		case id := <-subs.called:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriptions seen = %v, want [sess-1 sess-2]", got)
		}
	}
	if got[0] != "sess-1" || got[1] != "sess-2" {
		t.Errorf("subscription order = %v, want [sess-1 sess-2]", got)
	}

	sess.Destroy()
	<-done
}

func TestSessionGivesUpAfterMaxAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := followers.NewRegistry(nil)
	// Nothing listens on this port; every dial fails fast.
	sess := NewSession(newFakeSubscriber(), registry, "ws://127.0.0.1:1/ws", "chan-1", "mod-1", 1, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	// First dial fails and schedules the single allowed retry.
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("retry timer never armed: %v", err)
	}
	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		if !errors.Is(err, ErrMaxReconnects) {
			t.Errorf("Run() = %v, want ErrMaxReconnects", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run never gave up")
	}
}
