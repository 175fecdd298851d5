// Package oauth keeps the Twitch user token fresh. The pair is held in
// memory and rotated on a jittered schedule; consumers subscribe to
// rotations instead of polling.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// Store holds the current user access/refresh token pair.
type Store struct {
	mu       sync.RWMutex
	token    oauth2.Token
	onRotate []func(accessToken string, expiry time.Time)
}

// NewStore seeds a store with the tokens from configuration. expiry may be
// zero when unknown; the refresher then rotates at its first opportunity.
func NewStore(accessToken, refreshToken string, expiry time.Time) *Store {
	return &Store{token: oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       expiry,
	}}
}

// AccessToken returns the current access token.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.AccessToken
}

// Expiry returns when the current access token expires.
func (s *Store) Expiry() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token.Expiry
}

// OnRotate registers fn to run after every successful rotation. Register
// before StartRefresher; registration is not synchronized with rotation.
func (s *Store) OnRotate(fn func(accessToken string, expiry time.Time)) {
	s.onRotate = append(s.onRotate, fn)
}

func (s *Store) rotate(tok *oauth2.Token) {
	s.mu.Lock()
	if tok.RefreshToken == "" {
		tok.RefreshToken = s.token.RefreshToken
	}
	s.token = *tok
	s.mu.Unlock()
	for _, fn := range s.onRotate {
		fn(tok.AccessToken, tok.Expiry)
	}
}

// StartRefresher launches a goroutine that rotates the stored token whenever
// its remaining lifetime falls within window. interval controls how often it
// wakes up; both get sane defaults when non-positive.
func StartRefresher(ctx context.Context, store *Store, clientID, clientSecret string, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     twitch.Endpoint,
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}

			store.mu.RLock()
			refreshToken := store.token.RefreshToken
			expiry := store.token.Expiry
			store.mu.RUnlock()
			if refreshToken == "" {
				continue
			}
			if !expiry.IsZero() && time.Until(expiry) > window {
				continue
			}

			ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
			tok, err := cfg.TokenSource(ctx2, &oauth2.Token{RefreshToken: refreshToken}).Token()
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.Any("err", err))
				continue
			}
			store.rotate(tok)
			slog.Info("token refreshed", slog.Time("expiry", tok.Expiry))
		}
	}()
}
