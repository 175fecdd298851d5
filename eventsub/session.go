package eventsub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/followers"
	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
)

// subscriber is the slice of the Helix client the session needs.
type subscriber interface {
	CreateFollowSubscription(ctx context.Context, broadcasterID, moderatorID, sessionID string) error
}

// Session owns one EventSub websocket and its reconnect lifecycle. Follow
// notifications are reconciled into the registry; everything else it receives
// is lifecycle plumbing.
type Session struct {
	subs          subscriber
	registry      *followers.Registry
	url           string
	broadcasterID string
	moderatorID   string
	maxAttempts   int
	clock         clockwork.Clock
	dialer        *websocket.Dialer

	events  chan connEvent
	destroy chan struct{}
}

// connEvent tags an event with the connection generation that produced it,
// so messages from a socket we already abandoned are dropped instead of
// corrupting the lifecycle (a stale reader's close must not burn a retry).
type connEvent struct {
	gen int
	ev  Event
}

// NewSession wires a session against url for the given broadcaster. The
// moderator id is the owner of the user token; channel.follow v2 requires it
// on the subscription condition.
func NewSession(subs subscriber, registry *followers.Registry, url, broadcasterID, moderatorID string, maxAttempts int, clock clockwork.Clock) *Session {
	return &Session{
		subs:          subs,
		registry:      registry,
		url:           url,
		broadcasterID: broadcasterID,
		moderatorID:   moderatorID,
		maxAttempts:   maxAttempts,
		clock:         clock,
		dialer:        websocket.DefaultDialer,
		events:        make(chan connEvent, 16),
		destroy:       make(chan struct{}),
	}
}

// Destroy tears the session down. Safe to call at most once; Run returns nil
// shortly after.
func (s *Session) Destroy() {
	close(s.destroy)
}

// Run connects and processes the session until ctx is cancelled, Destroy is
// called, or the reconnect budget is exhausted (ErrMaxReconnects).
func (s *Session) Run(ctx context.Context) error {
	state := NewState(s.url)
	var (
		conn  *websocket.Conn
		gen   int
		timer clockwork.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if conn != nil {
			conn.Close()
		}
	}()

	pending := []Event{EvConnect{}}
	for {
		for len(pending) > 0 {
			ev := pending[0]
			pending = pending[1:]

			var fx []Effect
			state, fx = Transition(state, ev, s.maxAttempts)
			for _, f := range fx {
				switch f := f.(type) {
				case FxDial:
					c, _, err := s.dialer.DialContext(ctx, f.URL, nil)
					if err != nil {
						slog.Warn("eventsub: dial failed", slog.String("url", f.URL), slog.Any("err", err))
						pending = append(pending, EvSocketClosed{Err: err})
						continue
					}
					if conn != nil {
						conn.Close()
					}
					conn = c
					gen++
					go s.readLoop(c, gen)
				case FxScheduleRetry:
					slog.Info("eventsub: reconnecting",
						slog.Int("attempt", f.Attempt),
						slog.Duration("delay", f.Delay))
					telemetry.EventSubReconnects.Inc()
					g := gen
					timer = s.clock.AfterFunc(f.Delay, func() {
						s.events <- connEvent{gen: g, ev: EvRetryElapsed{}}
					})
				case FxSubscribe:
					go s.subscribe(ctx, gen, f.SessionID)
				case FxCloseSocket:
					if conn != nil {
						conn.Close()
						conn = nil
					}
				case FxEmitFollower:
					telemetry.EventSubNotifications.Inc()
					s.registry.Reconcile(f.Entry)
				case FxGiveUp:
					slog.Error("eventsub: giving up", slog.Any("err", f.Err))
					return f.Err
				}
			}
			if state.Phase == PhaseClosed {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.destroy:
			pending = append(pending, EvDestroy{})
		case ce := <-s.events:
			if ce.gen != gen {
				continue
			}
			pending = append(pending, ce.ev)
		}
	}
}

// subscribe creates the channel.follow subscription and reports the outcome
// back into the event loop.
func (s *Session) subscribe(ctx context.Context, gen int, sessionID string) {
	err := s.subs.CreateFollowSubscription(ctx, s.broadcasterID, s.moderatorID, sessionID)
	if err != nil {
		slog.Error("eventsub: subscription failed", slog.Any("err", err))
		s.events <- connEvent{gen: gen, ev: EvSubscribeFailed{Err: err}}
		return
	}
	slog.Info("eventsub: subscribed to channel.follow", slog.String("session_id", sessionID))
	s.events <- connEvent{gen: gen, ev: EvSubscribed{}}
}

// envelope is the EventSub websocket frame.
type envelope struct {
	Metadata struct {
		MessageType      string `json:"message_type"`
		SubscriptionType string `json:"subscription_type"`
	} `json:"metadata"`
	Payload struct {
		Session struct {
			ID           string `json:"id"`
			ReconnectURL string `json:"reconnect_url"`
		} `json:"session"`
		Event struct {
			UserID     string    `json:"user_id"`
			UserLogin  string    `json:"user_login"`
			UserName   string    `json:"user_name"`
			FollowedAt time.Time `json:"followed_at"`
		} `json:"event"`
	} `json:"payload"`
}

// readLoop reads frames from c until it fails, translating each into a
// lifecycle event. Keepalives are acknowledged by doing nothing.
func (s *Session) readLoop(c *websocket.Conn, gen int) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			s.events <- connEvent{gen: gen, ev: EvSocketClosed{Err: err}}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("eventsub: malformed frame", slog.Any("err", err))
			continue
		}
		switch env.Metadata.MessageType {
		case "session_welcome":
			s.events <- connEvent{gen: gen, ev: EvWelcome{SessionID: env.Payload.Session.ID}}
		case "session_reconnect":
			s.events <- connEvent{gen: gen, ev: EvReconnectRequested{URL: env.Payload.Session.ReconnectURL}}
		case "session_keepalive":
			// Nothing to do; the read deadline is Twitch's problem.
		case "notification":
			if env.Metadata.SubscriptionType != "channel.follow" {
				continue
			}
			s.events <- connEvent{gen: gen, ev: EvFollow{Entry: followers.Entry{
				Login:       env.Payload.Event.UserLogin,
				DisplayName: env.Payload.Event.UserName,
				FollowedAt:  env.Payload.Event.FollowedAt,
				UserID:      env.Payload.Event.UserID,
			}}}
		case "revocation":
			slog.Warn("eventsub: subscription revoked")
		}
	}
}
