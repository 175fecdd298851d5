// Package hub fans events out to websocket observers grouped by named
// channel. A single goroutine owns all membership state and drains a command
// channel; per-connection writers decouple slow clients from the publisher.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// Envelope is the wire shape of every outbound observer message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type channelClients map[*websocket.Conn]*clientWriter

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type joinCmd struct {
	baseHubCmd
	channel string
	conn    *websocket.Conn
	errCh   chan error
}

type leaveCmd struct {
	baseHubCmd
	channel string
	conn    *websocket.Conn
}

type publishCmd struct {
	baseHubCmd
	channel string
	data    []byte
}

type sendCmd struct {
	baseHubCmd
	channel string
	conn    *websocket.Conn
	data    []byte
}

type countCmd struct {
	baseHubCmd
	replyCh chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub is the broadcast actor. Channels are fixed at construction; joining an
// unknown channel is an error.
type Hub struct {
	cmdCh    chan hubCmd
	clock    clockwork.Clock
	channels map[string]channelClients
	done     chan struct{}
}

// New starts a hub with the given channel names.
func New(clock clockwork.Clock, channels ...string) *Hub {
	h := &Hub{
		cmdCh:    make(chan hubCmd, 256),
		clock:    clock,
		channels: make(map[string]channelClients, len(channels)),
		done:     make(chan struct{}),
	}
	for _, name := range channels {
		h.channels[name] = make(channelClients)
	}
	go h.run()
	return h
}

// Join registers conn as an observer of channel.
func (h *Hub) Join(channel string, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	h.cmdCh <- joinCmd{channel: channel, conn: conn, errCh: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("join %s timed out after %v", channel, commandTimeout)
	}
}

// Leave removes conn from channel and stops its writer.
func (h *Hub) Leave(channel string, conn *websocket.Conn) {
	h.cmdCh <- leaveCmd{channel: channel, conn: conn}
}

// Publish sends event with payload to every current observer of channel.
// Delivery is immediate and best-effort; there is no queue for late joiners.
func (h *Hub) Publish(channel, event string, payload any) {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		slog.Error("hub: marshal failed", slog.String("event", event), slog.Any("err", err))
		return
	}
	h.cmdCh <- publishCmd{channel: channel, data: data}
}

// Send delivers event with payload to a single observer of channel, used for
// history replay toward late joiners. Unknown connections are ignored.
func (h *Hub) Send(channel string, conn *websocket.Conn, event string, payload any) {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		slog.Error("hub: marshal failed", slog.String("event", event), slog.Any("err", err))
		return
	}
	h.cmdCh <- sendCmd{channel: channel, conn: conn, data: data}
}

// Observers returns the total connected observer count across channels, or
// -1 on timeout.
func (h *Hub) Observers() int {
	replyCh := make(chan int, 1)
	h.cmdCh <- countCmd{replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case n := <-replyCh:
		return n
	case <-timer.Chan():
		slog.Warn("hub: observer count timed out")
		return -1
	}
}

// Stop disconnects all observers and shuts the actor down.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.Chan():
		slog.Warn("hub: stop timeout exceeded")
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case joinCmd:
			h.handleJoin(c)
		case leaveCmd:
			h.handleLeave(c)
		case publishCmd:
			h.handlePublish(c)
		case sendCmd:
			h.handleSend(c)
		case countCmd:
			c.replyCh <- h.observerCount()
		case stopCmd:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleJoin(c joinCmd) {
	clients, ok := h.channels[c.channel]
	if !ok {
		c.conn.Close()
		c.errCh <- fmt.Errorf("unknown channel %q", c.channel)
		return
	}
	clients[c.conn] = newClientWriter(c.conn, h.clock)
	telemetry.ObserverGauge.Set(float64(h.observerCount()))
	slog.Debug("hub: observer joined", slog.String("channel", c.channel), slog.Int("observers", len(clients)))
	c.errCh <- nil
}

func (h *Hub) handleLeave(c leaveCmd) {
	clients, ok := h.channels[c.channel]
	if !ok {
		return
	}
	cw, ok := clients[c.conn]
	if !ok {
		return
	}
	cw.stop()
	delete(clients, c.conn)
	telemetry.ObserverGauge.Set(float64(h.observerCount()))
	slog.Debug("hub: observer left", slog.String("channel", c.channel), slog.Int("observers", len(clients)))
}

func (h *Hub) handlePublish(c publishCmd) {
	clients, ok := h.channels[c.channel]
	if !ok {
		slog.Warn("hub: publish to unknown channel", slog.String("channel", c.channel))
		return
	}
	var slow []*websocket.Conn
	for conn, cw := range clients {
		select {
		case cw.sendCh <- c.data:
			telemetry.BroadcastsSent.Inc()
		default:
			slow = append(slow, conn)
		}
	}
	for _, conn := range slow {
		slog.Warn("hub: evicting slow observer", slog.String("channel", c.channel))
		h.handleLeave(leaveCmd{channel: c.channel, conn: conn})
	}
}

func (h *Hub) handleSend(c sendCmd) {
	clients, ok := h.channels[c.channel]
	if !ok {
		return
	}
	cw, ok := clients[c.conn]
	if !ok {
		return
	}
	select {
	case cw.sendCh <- c.data:
		telemetry.BroadcastsSent.Inc()
	default:
		slog.Warn("hub: evicting slow observer", slog.String("channel", c.channel))
		h.handleLeave(leaveCmd{channel: c.channel, conn: c.conn})
	}
}

func (h *Hub) observerCount() int {
	total := 0
	for _, clients := range h.channels {
		total += len(clients)
	}
	return total
}

func (h *Hub) handleStop() {
	for name, clients := range h.channels {
		for conn, cw := range clients {
			cw.stopGraceful("server shutting down")
			delete(clients, conn)
		}
		slog.Debug("hub: channel drained", slog.String("channel", name))
	}
	telemetry.ObserverGauge.Set(0)
}
