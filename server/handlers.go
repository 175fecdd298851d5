package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Seigneur-Machiavel/twitch-conn/focus"
)

type handlers struct {
	deps      Deps
	startedAt time.Time
}

func newHandlers(deps Deps) *handlers {
	return &handlers{deps: deps, startedAt: deps.Clock.Now()}
}

// statusResponse is the /status payload consumed by the overlay dashboard.
type statusResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Followers     int          `json:"followers"`
	Observers     int          `json:"observers"`
	HistoryLength int          `json:"history_length"`
	PollDegraded  bool         `json:"poll_degraded"`
	Focus         focus.Status `json:"focus"`
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		UptimeSeconds: int64(h.deps.Clock.Since(h.startedAt) / time.Second),
		Followers:     h.deps.Registry.Count(),
		Observers:     h.deps.Hub.Observers(),
		HistoryLength: h.deps.History.Len(),
		Focus:         h.deps.Focus.Status(),
	}
	if h.deps.Poller != nil {
		resp.PollDegraded = h.deps.Poller.Degraded()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
