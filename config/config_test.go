package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HISTORY_MAX_LENGTH", "")
	t.Setenv("REPLAY_DELAY", "")
	t.Setenv("FOLLOWER_POLL_INTERVAL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HistoryMaxLength != 100 {
		t.Errorf("HistoryMaxLength = %d, want 100", cfg.HistoryMaxLength)
	}
	if cfg.ReplayDelay != 2*time.Second {
		t.Errorf("ReplayDelay = %v, want 2s", cfg.ReplayDelay)
	}
	if cfg.ReplayDelayLive != 100*time.Millisecond {
		t.Errorf("ReplayDelayLive = %v, want 100ms", cfg.ReplayDelayLive)
	}
	if cfg.FollowerPollInterval != 30*time.Second {
		t.Errorf("FollowerPollInterval = %v, want 30s", cfg.FollowerPollInterval)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.MaxReconnectAttempts)
	}
	if cfg.EventSubURL == "" {
		t.Errorf("expected default EventSub URL, got empty")
	}
	if cfg.HTTPAddr != ":14597" {
		t.Errorf("HTTPAddr = %q, want :14597", cfg.HTTPAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HISTORY_MAX_LENGTH", "25")
	t.Setenv("REPLAY_DELAY", "500ms")
	t.Setenv("EVENTSUB_MAX_RECONNECT_ATTEMPTS", "3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HistoryMaxLength != 25 {
		t.Errorf("HistoryMaxLength = %d, want 25", cfg.HistoryMaxLength)
	}
	if cfg.ReplayDelay != 500*time.Millisecond {
		t.Errorf("ReplayDelay = %v, want 500ms", cfg.ReplayDelay)
	}
	if cfg.MaxReconnectAttempts != 3 {
		t.Errorf("MaxReconnectAttempts = %d, want 3", cfg.MaxReconnectAttempts)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"HISTORY_MAX_LENGTH", "0"},
		{"HISTORY_MAX_LENGTH", "abc"},
		{"REPLAY_DELAY", "-1s"},
		{"FOLLOWER_POLL_INTERVAL", "0s"},
		{"EVENTSUB_MAX_RECONNECT_ATTEMPTS", "-2"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() accepted %s=%q, want error", tt.key, tt.value)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CHANNEL"); err != nil {
		t.Fatalf("failed to unset TWITCH_CHANNEL: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Errorf("expected error when missing twitch envs")
	}
}

func TestValidateHelixReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "cid")
	t.Setenv("TWITCH_OAUTH_TOKEN", "tok")
	cfg, _ := Load()
	if err := cfg.ValidateHelixReady(); err != nil {
		t.Errorf("expected valid helix config, got %v", err)
	}
	if err := os.Unsetenv("TWITCH_CLIENT_ID"); err != nil {
		t.Fatalf("failed to unset TWITCH_CLIENT_ID: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateHelixReady(); err == nil {
		t.Errorf("expected error when missing client id")
	}
}
