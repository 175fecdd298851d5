package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Seigneur-Machiavel/twitch-conn/history"
)

// The overlay is served cross-origin in development, so the upgrader does
// not enforce same-origin.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPayload mirrors the chat-message/cmd-message broadcast shape for replay.
type wsPayload struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// handleWS returns the upgrade handler for one broadcast channel.
func (h *handlers) handleWS(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws: upgrade failed", slog.String("channel", channel), slog.Any("err", err))
			return
		}
		if err := h.deps.Hub.Join(channel, conn); err != nil {
			slog.Warn("ws: join failed", slog.String("channel", channel), slog.Any("err", err))
			conn.Close()
			return
		}
		h.afterJoin(channel, conn)
		go h.readLoop(channel, conn)
	}
}

// afterJoin schedules the catch-up each channel owes a late joiner. Replay
// is best-effort and may interleave with live traffic.
func (h *handlers) afterJoin(channel string, conn *websocket.Conn) {
	switch channel {
	case "chat":
		h.deps.History.Replay(func(rec history.Record) {
			h.deps.Hub.Send("chat", conn, "chat-message", wsPayload{User: rec.User, Message: rec.Text})
		}, h.deps.ReplayDelay())
	case "cmd":
		h.deps.Commands.Replay(func(rec history.Record) {
			h.deps.Hub.Send("cmd", conn, "cmd-message", wsPayload{User: rec.User, Message: rec.Text})
		}, h.deps.ReplayDelay())
	case "focus":
		h.deps.Hub.Send("focus", conn, "focus-status", h.deps.Focus.Status())
	}
}

// inbound is a client request frame. Only the focus channel accepts input.
type inbound struct {
	Event string `json:"event"`
	Data  struct {
		Minutes int `json:"minutes"`
	} `json:"data"`
}

// readLoop drains the connection. It pumps control frames for every channel
// and handles focus-start/focus-stop requests on the focus channel.
func (h *handlers) readLoop(channel string, conn *websocket.Conn) {
	defer h.deps.Hub.Leave(channel, conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if channel != "focus" {
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ws: malformed focus request", slog.Any("err", err))
			continue
		}
		switch msg.Event {
		case "focus-start":
			if !h.deps.Focus.Start(msg.Data.Minutes) {
				h.deps.Hub.Send("focus", conn, "focus-status", h.deps.Focus.Status())
			}
		case "focus-stop":
			if !h.deps.Focus.Stop() {
				h.deps.Hub.Send("focus", conn, "focus-status", h.deps.Focus.Status())
			}
		}
	}
}
