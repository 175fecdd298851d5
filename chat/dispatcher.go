package chat

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/history"
	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
)

// Sink is where command replies and rejection notices go, normally the IRC
// connection back into the channel.
type Sink interface {
	Say(text string)
}

// publisher fans an event out to the observers of a named channel.
type publisher interface {
	Publish(channel, event string, payload any)
}

// membership answers follower checks for gated commands.
type membership interface {
	IsFollower(login string) bool
	Count() int
}

// Dispatcher classifies incoming lines and routes them: plain messages to
// history plus the chat broadcast channel, commands through the registry.
type Dispatcher struct {
	sink      Sink
	hub       publisher
	store     *history.Store
	cmdStore  *history.CommandStore
	followers membership
	clock     clockwork.Clock
	startedAt time.Time
}

// NewDispatcher wires a dispatcher. startedAt anchors the !uptime reply,
// normally process start.
func NewDispatcher(sink Sink, hub publisher, store *history.Store, cmdStore *history.CommandStore, followers membership, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		sink:      sink,
		hub:       hub,
		store:     store,
		cmdStore:  cmdStore,
		followers: followers,
		clock:     clock,
		startedAt: clock.Now(),
	}
}

// chatPayload is the broadcast shape for chat and command events.
type chatPayload struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// Handle routes one chat line from user.
func (d *Dispatcher) Handle(user, text string) {
	c := Classify(text)
	switch c.Kind {
	case KindDropped:
		telemetry.ChatMessagesDropped.Inc()
		return

	case KindMessage:
		telemetry.ChatMessagesIngested.Inc()
		d.store.Append(history.Record{User: user, Text: text})
		d.hub.Publish("chat", "chat-message", chatPayload{User: user, Message: text})

	case KindCommand:
		d.dispatch(user, text, c)
	}
}

func (d *Dispatcher) dispatch(user, text string, c Classified) {
	def, ok := Commands[c.Command]
	if !ok {
		// Unknown tokens get no feedback at all.
		return
	}

	if def.FollowersOnly && !d.followers.IsFollower(user) {
		telemetry.CommandsRejected.Inc()
		d.sink.Say(fmt.Sprintf("@%s sorry, !%s is reserved for followers", user, def.Name))
		return
	}

	telemetry.CommandsDispatched.Inc()
	if def.Builtin {
		d.answer(user, def)
		return
	}

	// Externals carry the raw line; observers re-parse the argument.
	slog.Debug("chat: external command", slog.String("user", user), slog.String("command", def.Name))
	d.cmdStore.Append(def.Name, history.Record{User: user, Text: text})
	d.hub.Publish("cmd", "cmd-message", chatPayload{User: user, Message: text})
}

// answer handles builtin commands on the sink. Builtins never reach history
// or the broadcast channels.
func (d *Dispatcher) answer(user string, def Definition) {
	switch def.Name {
	case "followers":
		d.sink.Say(fmt.Sprintf("@%s current follower count: %d", user, d.followers.Count()))
	case "uptime":
		up := d.clock.Since(d.startedAt).Round(time.Minute)
		hours := int(up.Hours())
		minutes := int(up.Minutes()) % 60
		d.sink.Say(fmt.Sprintf("@%s up for %dh %dm", user, hours, minutes))
	}
}
