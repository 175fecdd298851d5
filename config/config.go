// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (e.g., Twitch chat), use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchRefreshToken string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchScopes       string

	// EventSub push feed
	EventSubURL          string
	MaxReconnectAttempts int

	// Followers
	FollowerPollInterval time.Duration

	// History
	DataDir          string
	HistoryMaxLength int
	ReplayDelay      time.Duration
	ReplayDelayLive  time.Duration

	// HTTP
	HTTPAddr  string
	PublicDir string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() when you require chat ingestion. Missing optional variables disable
// features (e.g., follower backfill without client id/secret).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = os.Getenv("TWITCH_CHANNEL")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchRefreshToken = os.Getenv("TWITCH_REFRESH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// default scopes for chat bot + follower reads
		cfg.TwitchScopes = "chat:read chat:edit moderator:read:followers"
	}

	// EventSub
	cfg.EventSubURL = os.Getenv("EVENTSUB_URL")
	if cfg.EventSubURL == "" {
		cfg.EventSubURL = "wss://eventsub.wss.twitch.tv/ws"
	}
	cfg.MaxReconnectAttempts = 5
	if v := os.Getenv("EVENTSUB_MAX_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid EVENTSUB_MAX_RECONNECT_ATTEMPTS: %q", v)
		}
		cfg.MaxReconnectAttempts = n
	}

	// Followers
	cfg.FollowerPollInterval = 30 * time.Second
	if v := os.Getenv("FOLLOWER_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid FOLLOWER_POLL_INTERVAL: %q", v)
		}
		cfg.FollowerPollInterval = d
	}

	// History
	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.HistoryMaxLength = 100
	if v := os.Getenv("HISTORY_MAX_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid HISTORY_MAX_LENGTH: %q", v)
		}
		cfg.HistoryMaxLength = n
	}
	cfg.ReplayDelay = 2 * time.Second
	if v := os.Getenv("REPLAY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid REPLAY_DELAY: %q", v)
		}
		cfg.ReplayDelay = d
	}
	// Once chat is connected, late joiners only need a short settle window.
	cfg.ReplayDelayLive = 100 * time.Millisecond
	if v := os.Getenv("REPLAY_DELAY_LIVE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid REPLAY_DELAY_LIVE: %q", v)
		}
		cfg.ReplayDelayLive = d
	}

	// HTTP
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":14597"
	}
	cfg.PublicDir = os.Getenv("PUBLIC_DIR")
	if cfg.PublicDir == "" {
		cfg.PublicDir = "public"
	}

	return cfg, nil
}

// ValidateChatReady checks required fields when chat ingestion is enabled.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// ValidateHelixReady checks required fields for Helix API access (follower
// backfill and EventSub subscriptions).
func (c *Config) ValidateHelixReady() error {
	if c.TwitchClientID == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_OAUTH_TOKEN")
	}
	return nil
}
