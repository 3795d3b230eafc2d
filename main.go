// Command spotlink is the main entrypoint for the Spotify account-linking
// service. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the OAuth token refresher and the chat bridge.
//   - Exposes an HTTP server with /auth, /callback, /healthz, /readyz, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/soulfulhiker/spotlink/bot"
	"github.com/soulfulhiker/spotlink/chat"
	"github.com/soulfulhiker/spotlink/config"
	"github.com/soulfulhiker/spotlink/crypto"
	"github.com/soulfulhiker/spotlink/db"
	"github.com/soulfulhiker/spotlink/oauth"
	"github.com/soulfulhiker/spotlink/pending"
	"github.com/soulfulhiker/spotlink/server"
	"github.com/soulfulhiker/spotlink/spotify"
	"github.com/soulfulhiker/spotlink/telemetry"
)

func main() {
	// Load .env if present (local dev convenience only; production relies on real env)
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
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("spotlink", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations")
	if err := db.RunMigrations(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Token encryption at rest is opt-in: set ENCRYPTION_KEY to a
	// base64-encoded 32-byte key.
	var cipher *crypto.Cipher
	if k := os.Getenv("ENCRYPTION_KEY"); k != "" {
		cipher, err = crypto.New(k)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("token encryption at rest enabled")
	}

	creds := &db.CredentialStore{DB: database, Cipher: cipher}
	rooms := &db.RoomStore{DB: database}
	pend := pending.NewStore(cfg.LoginTTL)
	auth := spotify.NewAuthenticator(cfg.SpotifyClientID, cfg.SpotifyClientSecret,
		cfg.RedirectURL(), strings.Fields(cfg.SpotifyScopes))
	api := &spotify.Client{}

	if err := cfg.ValidateSpotifyReady(); err != nil {
		slog.Warn("spotify app not configured; login flow disabled", slog.Any("err", err))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Centralized token refresher keeps credentials live ahead of chat use.
	oauth.StartRefresher(ctx, creds, 5*time.Minute, 15*time.Minute,
		func(rctx context.Context, refreshToken string) (string, string, time.Time, error) {
			tok, err := auth.Refresh(rctx, refreshToken)
			if err != nil {
				return "", "", time.Time{}, err
			}
			return tok.AccessToken, tok.RefreshToken, tok.Expiry, nil
		})

	b := &bot.Bot{
		Creds:   creds,
		Rooms:   rooms,
		Pending: pend,
		Auth:    auth,
		API:     api,
		BaseURL: cfg.BaseURL,
		Prefix:  cfg.CommandPrefix,
	}

	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat bridge disabled", slog.Any("err", err))
	} else {
		go chat.Run(ctx, cfg, b)
	}

	h := server.NewHandlers(database, creds, pend, auth)
	go func() {
		if err := server.Start(ctx, h, cfg.ListenAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
