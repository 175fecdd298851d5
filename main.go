// Command twitch-conn bridges one Twitch channel to browser overlay clients.
// It:
//   - Joins the channel's IRC chat, filters and classifies traffic, and
//     answers or forwards commands.
//   - Maintains the follower roster from a bulk Helix backfill plus an
//     EventSub channel.follow push feed.
//   - Persists chat and command history as JSON snapshots and replays them
//     to late-joining observers.
//   - Fans events out over websocket channels (chat, cmd, focus) and serves
//     the static overlay plus /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/Seigneur-Machiavel/twitch-conn/chat"
	"github.com/Seigneur-Machiavel/twitch-conn/config"
	"github.com/Seigneur-Machiavel/twitch-conn/eventsub"
	"github.com/Seigneur-Machiavel/twitch-conn/focus"
	"github.com/Seigneur-Machiavel/twitch-conn/followers"
	"github.com/Seigneur-Machiavel/twitch-conn/history"
	"github.com/Seigneur-Machiavel/twitch-conn/hub"
	"github.com/Seigneur-Machiavel/twitch-conn/oauth"
	"github.com/Seigneur-Machiavel/twitch-conn/server"
	"github.com/Seigneur-Machiavel/twitch-conn/telemetry"
	"github.com/Seigneur-Machiavel/twitch-conn/twitchapi"
)

// noopSink stands in for the chat sink when IRC is not configured.
type noopSink struct{}

func (noopSink) Mute()   {}
func (noopSink) Unmute() {}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("twitch-conn", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	// History snapshots
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", slog.String("dir", cfg.DataDir), slog.Any("err", err))
		os.Exit(1)
	}
	chatHistory := history.NewStore(filepath.Join(cfg.DataDir, "messages.json"), cfg.HistoryMaxLength, clock)
	chatHistory.Load()
	cmdHistory := history.NewCommandStore(filepath.Join(cfg.DataDir, "commands.json"), cfg.HistoryMaxLength, chat.ExternalCommands(), clock)
	cmdHistory.Load()

	// Broadcast hub and follower roster
	h := hub.New(clock, "chat", "cmd", "focus")
	registry := followers.NewRegistry(func(e followers.Entry) {
		h.Publish("chat", "new-follower", e)
	})

	// Token plumbing: the Helix client prefers the configured user token and
	// falls back to client credentials when none is set.
	tokens := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	if cfg.TwitchOAuthToken != "" {
		tokens.SetToken(cfg.TwitchOAuthToken, time.Now().Add(time.Hour))
	}
	helix := &twitchapi.HelixClient{AppTokenSource: tokens, ClientID: cfg.TwitchClientID}

	// Chat ingest and dispatch
	var sink interface {
		Mute()
		Unmute()
	} = noopSink{}
	var ingest *chat.Ingest
	replayDelay := &atomic.Int64{}
	replayDelay.Store(int64(cfg.ReplayDelay))
	if err := cfg.ValidateChatReady(); err == nil {
		ingest = chat.NewIngest(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannel)
		sink = ingest
		dispatcher := chat.NewDispatcher(ingest, h, chatHistory, cmdHistory, registry, clock)
		ingest.OnMessage(dispatcher.Handle)
		ingest.OnConnect(func() {
			replayDelay.Store(int64(cfg.ReplayDelayLive))
			h.Publish("chat", "started", nil)
			slog.Info("chat connected", slog.String("channel", cfg.TwitchChannel))
		})
		go func() {
			if err := ingest.Run(ctx); err != nil {
				slog.Error("chat ingest stopped", slog.Any("err", err))
			}
		}()
	} else {
		slog.Info("chat disabled", slog.Any("reason", err))
	}

	// User token refresher keeps Helix and IRC credentials fresh.
	if cfg.TwitchRefreshToken != "" {
		store := oauth.NewStore(cfg.TwitchOAuthToken, cfg.TwitchRefreshToken, time.Time{})
		store.OnRotate(func(access string, expiry time.Time) {
			tokens.SetToken(access, expiry)
			if ingest != nil {
				ingest.SetToken(access)
			}
		})
		oauth.StartRefresher(ctx, store, cfg.TwitchClientID, cfg.TwitchClientSecret, 5*time.Minute, 15*time.Minute)
	}

	// Follower backfill, poll, and push feed need Helix credentials and a
	// resolvable channel.
	var poller *followers.Poller
	if err := cfg.ValidateHelixReady(); err == nil {
		idCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		broadcasterID, berr := helix.GetUserID(idCtx, cfg.TwitchChannel)
		moderatorID, merr := helix.GetAuthenticatedUserID(idCtx)
		cancel()
		switch {
		case berr != nil:
			slog.Warn("broadcaster lookup failed, follower feed disabled", slog.Any("err", berr))
		case merr != nil:
			slog.Warn("moderator lookup failed, follower feed disabled", slog.Any("err", merr))
		default:
			poller = followers.NewPoller(helix, registry, broadcasterID, cfg.FollowerPollInterval, clock)
			go poller.Run(ctx)

			session := eventsub.NewSession(helix, registry, cfg.EventSubURL, broadcasterID, moderatorID, cfg.MaxReconnectAttempts, clock)
			go func() {
				if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("eventsub session ended", slog.Any("err", err))
				}
			}()
		}
	} else {
		slog.Info("follower feed disabled", slog.Any("reason", err))
	}

	timer := focus.NewTimer(clock, sink, h)

	// HTTP server (overlay, websockets, health, status, metrics)
	deps := server.Deps{
		Hub:         h,
		History:     chatHistory,
		Commands:    cmdHistory,
		Focus:       timer,
		Registry:    registry,
		Poller:      poller,
		ReplayDelay: func() time.Duration { return time.Duration(replayDelay.Load()) },
		PublicDir:   cfg.PublicDir,
		DataDir:     cfg.DataDir,
		Clock:       clock,
	}
	go func() {
		slog.Info("http server starting", slog.String("addr", cfg.HTTPAddr))
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	h.Publish("chat", "stopped", nil)
	h.Stop()
	if err := chatHistory.Sync(); err != nil {
		slog.Warn("chat history sync failed", slog.Any("err", err))
	}
	chatHistory.Close()
	if err := cmdHistory.Sync(); err != nil {
		slog.Warn("command history sync failed", slog.Any("err", err))
	}
	cmdHistory.Close()
	slog.Info("shutdown complete")
}
