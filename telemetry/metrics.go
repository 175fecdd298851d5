// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ChatMessagesIngested prometheus.Counter
	ChatMessagesDropped  prometheus.Counter
	CommandsDispatched   prometheus.Counter
	CommandsRejected     prometheus.Counter
	FollowersAdded       prometheus.Counter
	EventSubReconnects   prometheus.Counter
	EventSubNotifications prometheus.Counter
	BroadcastsSent       prometheus.Counter
	SnapshotWrites       prometheus.Counter
	SnapshotWriteErrors  prometheus.Counter

	// Histograms (seconds)
	HelixRequestDuration prometheus.Observer

	// Gauges
	ObserverGauge      prometheus.Gauge
	FollowerCountGauge prometheus.Gauge
	FocusActiveGauge   prometheus.Gauge // 1=active,0=idle
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ChatMessagesIngested = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_ingested_total", Help: "Number of chat lines accepted into history"})
		ChatMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_dropped_total", Help: "Number of chat lines dropped (URL filter)"})
		CommandsDispatched = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_commands_dispatched_total", Help: "Number of recognized commands dispatched"})
		CommandsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_commands_rejected_total", Help: "Number of commands rejected by the followers-only gate"})
		FollowersAdded = promauto.NewCounter(prometheus.CounterOpts{Name: "followers_added_total", Help: "Number of distinct followers added to the registry"})
		EventSubReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "eventsub_reconnects_total", Help: "Number of EventSub reconnect attempts"})
		EventSubNotifications = promauto.NewCounter(prometheus.CounterOpts{Name: "eventsub_notifications_total", Help: "Number of EventSub notifications received"})
		BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "hub_broadcasts_total", Help: "Number of events fanned out to observers"})
		SnapshotWrites = promauto.NewCounter(prometheus.CounterOpts{Name: "history_snapshot_writes_total", Help: "Number of history snapshot file rewrites"})
		SnapshotWriteErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "history_snapshot_write_errors_total", Help: "Number of failed history snapshot rewrites"})
		HelixRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "helix_request_duration_seconds", Help: "Helix API request duration seconds", Buckets: prometheus.DefBuckets})
		ObserverGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "hub_observers", Help: "Current number of connected observers"})
		FollowerCountGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "follower_count", Help: "Current size of the follower registry"})
		FocusActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "focus_active", Help: "Focus session active=1 idle=0"})
	})
}

// SetFocusActive sets the focus gauge to 1 if active else 0.
func SetFocusActive(active bool) {
	if FocusActiveGauge != nil {
		if active {
			FocusActiveGauge.Set(1)
		} else {
			FocusActiveGauge.Set(0)
		}
	}
}

// SetFollowerCount records the current registry size.
func SetFollowerCount(n int) {
	if FollowerCountGauge != nil {
		FollowerCountGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
