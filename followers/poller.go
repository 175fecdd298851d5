package followers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/twitchapi"
)

// lister is the subset of the Helix client used by the poller.
type lister interface {
	ListFollowers(ctx context.Context, broadcasterID, after string, first int) ([]twitchapi.Follower, string, error)
}

// Poller feeds the registry from the paginated bulk followers endpoint.
// A permission error permanently degrades it to push-only mode: the poll
// stops, the push path keeps reconciling.
type Poller struct {
	client        lister
	registry      *Registry
	broadcasterID string
	interval      time.Duration
	clock         clockwork.Clock
	pageSize      int

	degraded atomic.Bool
}

// NewPoller creates a poller. A nil clock uses the real one.
func NewPoller(client lister, registry *Registry, broadcasterID string, interval time.Duration, clock clockwork.Clock) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		client:        client,
		registry:      registry,
		broadcasterID: broadcasterID,
		interval:      interval,
		clock:         clock,
		pageSize:      100,
	}
}

// Degraded reports whether the bulk poll has been permanently disabled.
func (p *Poller) Degraded() bool {
	return p.degraded.Load()
}

// Backfill walks every page of the followers endpoint and reconciles the
// result. On a permission error it flips to degraded mode and returns the
// error; other errors are returned for the caller to log and skip.
func (p *Poller) Backfill(ctx context.Context) error {
	cursor := ""
	for {
		page, next, err := p.client.ListFollowers(ctx, p.broadcasterID, cursor, p.pageSize)
		if err != nil {
			if twitchapi.IsPermissionDenied(err) {
				p.degraded.Store(true)
			}
			return err
		}
		batch := make([]Entry, 0, len(page))
		for _, f := range page {
			batch = append(batch, Entry{
				Login:       f.UserLogin,
				DisplayName: f.UserName,
				FollowedAt:  f.FollowedAt,
				UserID:      f.UserID,
			})
		}
		p.registry.Reconcile(batch...)
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// Run performs the startup backfill and then polls at the configured
// interval until ctx is done. It returns after a permission error (push-only
// degradation, logged once) or on context cancellation.
func (p *Poller) Run(ctx context.Context) {
	if err := p.Backfill(ctx); err != nil {
		if p.Degraded() {
			slog.Warn("followers: bulk poll denied, degrading to push-only mode", slog.Any("err", err))
			return
		}
		slog.Warn("followers: initial backfill failed", slog.Any("err", err))
	} else {
		slog.Info("followers: backfill complete", slog.Int("count", p.registry.Count()))
	}

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
		if err := p.Backfill(ctx); err != nil {
			if p.Degraded() {
				slog.Warn("followers: bulk poll denied, degrading to push-only mode", slog.Any("err", err))
				return
			}
			// Transient failure: skip this cycle.
			slog.Debug("followers: poll failed", slog.Any("err", err))
		}
	}
}
