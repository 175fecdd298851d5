// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution, follower listing, and EventSub subscription management,
// using an app or user access token.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
)

// helixMaxRetries bounds attempts per request (initial try included).
const helixMaxRetries = 3

// APIError is a non-2xx Helix response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsPermissionDenied reports whether err is a Helix 401/403 response.
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// HelixClient provides the minimal methods needed for follower tracking and EventSub.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// do sends a request built by build, retrying on 429 and 5xx, and refreshing
// the token once on 401. The caller owns the returned body.
func (hc *HelixClient) do(ctx context.Context, build func(token string) (*http.Request, error)) (*http.Response, error) {
	refreshed := false
	var resp *http.Response
	for attempt := 1; ; attempt++ {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return nil, err
		}
		req, err := build(tok)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)

		telemetry.TimeFunc(telemetry.HelixRequestDuration, func() {
			resp, err = hc.http().Do(req)
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 400 {
			return resp, nil
		}

		body, _ := io.ReadAll(resp.Body)
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			// Stale token: force a refresh and retry once more.
			hc.AppTokenSource.Invalidate()
			refreshed = true
			continue
		case resp.StatusCode == http.StatusTooManyRequests && attempt < helixMaxRetries:
			wait := time.Second
			if s := resp.Header.Get("Retry-After"); s != "" {
				if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
					wait = time.Duration(secs) * time.Second
				}
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		case resp.StatusCode >= 500 && attempt < helixMaxRetries:
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			continue
		}
		return nil, apiErr
	}
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	resp, err := hc.do(ctx, func(string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.twitch.tv/helix/users", nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("login", login)
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// GetAuthenticatedUserID resolves the user that owns the current token.
func (hc *HelixClient) GetAuthenticatedUserID(ctx context.Context) (string, error) {
	resp, err := hc.do(ctx, func(string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, "https://api.twitch.tv/helix/users", nil)
	})
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("token owner not found")
	}
	return body.Data[0].ID, nil
}

// Follower is one entry from the channel followers endpoint.
type Follower struct {
	UserID     string    `json:"user_id"`
	UserLogin  string    `json:"user_login"`
	UserName   string    `json:"user_name"`
	FollowedAt time.Time `json:"followed_at"`
}

// ListFollowers lists followers of a broadcaster, one page per call.
// An empty returned cursor means the last page.
func (hc *HelixClient) ListFollowers(ctx context.Context, broadcasterID, after string, first int) ([]Follower, string, error) {
	if broadcasterID == "" {
		return nil, "", fmt.Errorf("broadcasterID empty")
	}
	if first <= 0 {
		first = 100
	}
	resp, err := hc.do(ctx, func(string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.twitch.tv/helix/channels/followers", nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("broadcaster_id", broadcasterID)
		q.Set("first", fmt.Sprintf("%d", first))
		if after != "" {
			q.Set("after", after)
		}
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return nil, "", err
	}
	defer closeBody(resp)
	var body struct {
		Data       []Follower `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}

// CreateFollowSubscription binds a channel.follow (v2) EventSub subscription
// to the given websocket session. A non-2xx response is returned as *APIError.
func (hc *HelixClient) CreateFollowSubscription(ctx context.Context, broadcasterID, moderatorID, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID empty")
	}
	payload := map[string]any{
		"type":    "channel.follow",
		"version": "2",
		"condition": map[string]string{
			"broadcaster_user_id": broadcasterID,
			"moderator_user_id":   moderatorID,
		},
		"transport": map[string]string{
			"method":     "websocket",
			"session_id": sessionID,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := hc.do(ctx, func(string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.twitch.tv/helix/eventsub/subscriptions", bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	closeBody(resp)
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
