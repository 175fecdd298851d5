package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Ingest is the IRC side of the chat pipeline. It joins one channel, feeds
// every message to a handler, and acts as the reply sink. The sink can be
// muted; a muted Say is a silent drop (focus sessions use this).
type Ingest struct {
	client  *twitch.Client
	channel string
	muted   atomic.Bool
}

// NewIngest builds a client for channel authenticated as username. token is
// a user access token without the "oauth:" prefix.
func NewIngest(username, token, channel string) *Ingest {
	client := twitch.NewClient(username, "oauth:"+token)
	client.Join(channel)
	return &Ingest{client: client, channel: channel}
}

// OnMessage registers the handler for incoming chat lines.
func (i *Ingest) OnMessage(fn func(user, text string)) {
	i.client.OnPrivateMessage(func(m twitch.PrivateMessage) {
		fn(m.User.Name, m.Message)
	})
}

// OnConnect registers a callback fired once the IRC connection is up.
func (i *Ingest) OnConnect(fn func()) {
	i.client.OnConnect(fn)
}

// SetToken swaps the IRC token before the next (re)connect. The refresher
// calls this when the user access token rolls over.
func (i *Ingest) SetToken(token string) {
	i.client.SetIRCToken("oauth:" + token)
}

// Say sends text to the joined channel unless the sink is muted.
func (i *Ingest) Say(text string) {
	if i.muted.Load() {
		return
	}
	i.client.Say(i.channel, text)
}

// Mute silences the sink.
func (i *Ingest) Mute() { i.muted.Store(true) }

// Unmute restores the sink.
func (i *Ingest) Unmute() { i.muted.Store(false) }

// Muted reports the sink state.
func (i *Ingest) Muted() bool { return i.muted.Load() }

// Run connects and blocks until the connection ends or ctx is cancelled.
func (i *Ingest) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := i.client.Disconnect(); err != nil {
			slog.Debug("chat: disconnect", slog.Any("err", err))
		}
	}()
	slog.Info("chat: connecting to IRC", slog.String("channel", i.channel))
	err := i.client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}
