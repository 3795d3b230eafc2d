// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	HandshakesStarted    prometheus.Counter
	HandshakesCompleted  prometheus.Counter
	HandshakesFailed     prometheus.Counter
	TracksAdded          prometheus.Counter
	TracksAddFailed      prometheus.Counter
	TokenRefreshes       prometheus.Counter
	TokenRefreshesFailed prometheus.Counter
	RoomsGreeted         prometheus.Counter
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		HandshakesStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "spotlink_handshakes_started_total", Help: "Login handshakes initiated from chat"})
		HandshakesCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "spotlink_handshakes_completed_total", Help: "Login handshakes that stored a credential"})
		HandshakesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "spotlink_handshakes_failed_total", Help: "Login handshakes rejected or failed at the provider"})
		TracksAdded = promauto.NewCounter(prometheus.CounterOpts{Name: "spotlink_tracks_added_total", Help: "Tracks added to room playlists"})
		TracksAddFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "spotlink_tracks_add_failed_total", Help: "Track additions that failed at the provider"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "spotlink_token_refreshes_total", Help: "Successful credential refreshes"})
		TokenRefreshesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "spotlink_token_refreshes_failed_total", Help: "Failed credential refreshes"})
		RoomsGreeted = promauto.NewCounter(prometheus.CounterOpts{Name: "spotlink_rooms_greeted_total", Help: "Welcome messages sent after a latest room join"})
	})
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding a correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LogWith returns a logger carrying the context's correlation id, if any.
func LogWith(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
