package oauth

import (
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestStoreRotateNotifiesSubscribers(t *testing.T) {
	s := NewStore("old-access", "old-refresh", time.Now())

	var gotAccess string
	var gotExpiry time.Time
	s.OnRotate(func(access string, expiry time.Time) {
		gotAccess = access
		gotExpiry = expiry
	})

	exp := time.Now().Add(4 * time.Hour)
	s.rotate(&oauth2.Token{AccessToken: "new-access", RefreshToken: "new-refresh", Expiry: exp})

	if s.AccessToken() != "new-access" {
		t.Errorf("AccessToken() = %q, want new-access", s.AccessToken())
	}
	if gotAccess != "new-access" || !gotExpiry.Equal(exp) {
		t.Errorf("subscriber got (%q, %v)", gotAccess, gotExpiry)
	}
}

func TestStoreRotateKeepsRefreshTokenWhenOmitted(t *testing.T) {
	s := NewStore("old-access", "old-refresh", time.Time{})

	s.rotate(&oauth2.Token{AccessToken: "new-access"})

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token.RefreshToken != "old-refresh" {
		t.Errorf("RefreshToken = %q, want old-refresh retained", s.token.RefreshToken)
	}
}

func TestStoreExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	s := NewStore("a", "r", exp)
	if !s.Expiry().Equal(exp) {
		t.Errorf("Expiry() = %v, want %v", s.Expiry(), exp)
	}
}
