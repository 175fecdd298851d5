// Package followers tracks the channel's follower set, reconciled from a
// paginated bulk poll and the EventSub push feed. Both writers reduce to the
// same idempotent merge, so a follower is announced exactly once no matter
// which path saw it first.
package followers

import (
	"strings"
	"sync"
	"time"

	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
)

// Entry is one follower keyed by lowercased login.
type Entry struct {
	Login       string    `json:"username"`
	DisplayName string    `json:"displayName"`
	FollowedAt  time.Time `json:"followedAt"`
	UserID      string    `json:"userId"`
}

// Registry is a deduplicated follower set.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	onAdded func(Entry)
}

// NewRegistry creates an empty registry. onAdded fires exactly once per
// distinct lowercased login; it may be nil.
func NewRegistry(onAdded func(Entry)) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		onAdded: onAdded,
	}
}

// Reconcile merges a batch of entries. New logins are added and announced;
// re-submitted logins are no-ops unless the incoming FollowedAt is newer,
// which refreshes metadata without re-announcing.
func (r *Registry) Reconcile(batch ...Entry) {
	var added []Entry
	r.mu.Lock()
	for _, e := range batch {
		key := strings.ToLower(strings.TrimSpace(e.Login))
		if key == "" {
			continue
		}
		e.Login = key
		existing, ok := r.entries[key]
		if !ok {
			r.entries[key] = e
			added = append(added, e)
			continue
		}
		if e.FollowedAt.After(existing.FollowedAt) {
			r.entries[key] = e
		}
	}
	count := len(r.entries)
	r.mu.Unlock()

	telemetry.SetFollowerCount(count)
	for _, e := range added {
		if telemetry.FollowersAdded != nil {
			telemetry.FollowersAdded.Inc()
		}
		if r.onAdded != nil {
			r.onAdded(e)
		}
	}
}

// IsFollower is a case-insensitive membership test.
func (r *Registry) IsFollower(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[strings.ToLower(strings.TrimSpace(username))]
	return ok
}

// Count returns the current number of distinct followers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns the entry for a login, if present.
func (r *Registry) Get(username string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(username))]
	return e, ok
}
