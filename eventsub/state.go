// Package eventsub maintains a Twitch EventSub websocket session and turns
// channel.follow notifications into registry entries.
//
// The session lifecycle is modelled as a pure transition function over a
// small state record. The runtime in session.go feeds it events (socket
// opened, welcome received, socket closed, ...) and executes the effects it
// returns (dial, schedule a retry, create a subscription). Keeping the
// lifecycle rules out of the I/O path makes the backoff and reconnect
// behavior testable without a live socket.
package eventsub

import (
	"errors"
	"time"

	"github.com/Seigneur-Machiavel/twitch-conn/followers"
)

// ErrMaxReconnects is returned by Run when the session has exhausted its
// reconnect budget without holding a connection.
var ErrMaxReconnects = errors.New("eventsub: max reconnect attempts reached")

// Phase is the coarse lifecycle position of the session.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseWelcomed
	PhaseSubscribed
	PhaseSubscriptionFailed
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseWelcomed:
		return "welcomed"
	case PhaseSubscribed:
		return "subscribed"
	case PhaseSubscriptionFailed:
		return "subscription_failed"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// State is the full session state. Attempt counts consecutive connection
// losses and is never reset while the session runs; a fresh Session starts
// back at zero.
type State struct {
	Phase     Phase
	SessionID string
	// URL is the endpoint for the next dial. A session_reconnect message
	// overrides it once; after that socket drops we fall back to Base.
	URL  string
	Base string
	// Attempt counts socket losses. Delay before retry n is 2^n seconds.
	Attempt int
}

// NewState returns the initial state for a session against url.
func NewState(url string) State {
	return State{Phase: PhaseDisconnected, URL: url, Base: url}
}

// Event is a fact reported to the state machine by the runtime.
type Event interface{ isEvent() }

type (
	// EvConnect asks the machine to open the first connection.
	EvConnect struct{}
	// EvRetryElapsed fires when a scheduled backoff delay has passed.
	EvRetryElapsed struct{}
	// EvWelcome carries the session id from a session_welcome message.
	EvWelcome struct{ SessionID string }
	// EvSubscribed reports that the channel.follow subscription was created.
	EvSubscribed struct{}
	// EvSubscribeFailed reports that the subscription request was rejected.
	EvSubscribeFailed struct{ Err error }
	// EvReconnectRequested carries the one-time URL from session_reconnect.
	EvReconnectRequested struct{ URL string }
	// EvSocketClosed reports that the connection dropped or never opened.
	EvSocketClosed struct{ Err error }
	// EvFollow carries the payload of a channel.follow notification.
	EvFollow struct{ Entry followers.Entry }
	// EvDestroy tears the session down for good.
	EvDestroy struct{}
)

func (EvConnect) isEvent()            {}
func (EvRetryElapsed) isEvent()       {}
func (EvWelcome) isEvent()            {}
func (EvSubscribed) isEvent()         {}
func (EvSubscribeFailed) isEvent()    {}
func (EvReconnectRequested) isEvent() {}
func (EvSocketClosed) isEvent()       {}
func (EvFollow) isEvent()             {}
func (EvDestroy) isEvent()            {}

// Effect is an action the runtime must carry out after a transition.
type Effect interface{ isEffect() }

type (
	// FxDial opens a websocket connection to URL.
	FxDial struct{ URL string }
	// FxScheduleRetry arms a timer that delivers EvRetryElapsed after Delay.
	FxScheduleRetry struct {
		Delay   time.Duration
		Attempt int
	}
	// FxSubscribe creates the channel.follow subscription bound to SessionID.
	FxSubscribe struct{ SessionID string }
	// FxCloseSocket drops the current connection if one is open.
	FxCloseSocket struct{}
	// FxEmitFollower hands a follow notification to the registry.
	FxEmitFollower struct{ Entry followers.Entry }
	// FxGiveUp terminates the run loop with Err.
	FxGiveUp struct{ Err error }
)

func (FxDial) isEffect()          {}
func (FxScheduleRetry) isEffect() {}
func (FxSubscribe) isEffect()     {}
func (FxCloseSocket) isEffect()   {}
func (FxEmitFollower) isEffect()  {}
func (FxGiveUp) isEffect()        {}

// retryDelay is the backoff before reconnect attempt n: 2, 4, 8, ... seconds.
func retryDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// Transition applies ev to s and returns the next state plus the effects the
// runtime must execute, in order. It is pure: no I/O, no clocks.
//
// maxAttempts bounds reconnects; once Attempt exceeds it the session gives
// up. Attempt is deliberately not reset on a successful reconnect.
func Transition(s State, ev Event, maxAttempts int) (State, []Effect) {
	if s.Phase == PhaseClosed {
		return s, nil
	}

	switch ev := ev.(type) {
	case EvConnect, EvRetryElapsed:
		s.Phase = PhaseConnecting
		return s, []Effect{FxDial{URL: s.URL}}

	case EvWelcome:
		s.Phase = PhaseWelcomed
		s.SessionID = ev.SessionID
		return s, []Effect{FxSubscribe{SessionID: ev.SessionID}}

	case EvSubscribed:
		s.Phase = PhaseSubscribed
		return s, nil

	case EvSubscribeFailed:
		// The socket stays up; we just will not receive follow events.
		s.Phase = PhaseSubscriptionFailed
		return s, nil

	case EvReconnectRequested:
		// Twitch hands out a one-time URL carrying the live session over.
		// Reconnect immediately and without touching the attempt counter.
		s.Phase = PhaseConnecting
		s.URL = ev.URL
		return s, []Effect{FxCloseSocket{}, FxDial{URL: ev.URL}}

	case EvSocketClosed:
		s.Phase = PhaseDisconnected
		s.SessionID = ""
		s.URL = s.Base
		s.Attempt++
		if s.Attempt > maxAttempts {
			s.Phase = PhaseClosed
			return s, []Effect{FxGiveUp{Err: ErrMaxReconnects}}
		}
		return s, []Effect{FxScheduleRetry{Delay: retryDelay(s.Attempt), Attempt: s.Attempt}}

	case EvFollow:
		return s, []Effect{FxEmitFollower{Entry: ev.Entry}}

	case EvDestroy:
		s.Phase = PhaseClosed
		s.SessionID = ""
		return s, []Effect{FxCloseSocket{}}
	}
	return s, nil
}
