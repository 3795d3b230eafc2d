package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/soulfulhiker/spotlink/telemetry"
)

// NewMux returns the HTTP handler with all routes. The handshake endpoints
// are rate limited per IP; every request gets a correlation ID and, when
// tracing is enabled, a span.
func NewMux(h *Handlers) http.Handler {
	telemetry.Init()
	limiter := newIPRateLimiter(loadRateLimiterConfig())

	mux := http.NewServeMux()

	// Handshake endpoints
	mux.HandleFunc("/auth", h.HandleAuth)
	mux.HandleFunc("/callback", h.HandleCallback)

	// Health and metrics
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	// Rate limiting applies to the handshake surface only.
	limited := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" || r.URL.Path == "/callback" {
			rateLimitMiddleware(mux, limiter).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Correlation ID injection + optional tracing span.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		if telemetry.IsTracingEnabled() {
			spanName := "http " + strings.TrimPrefix(r.URL.Path, "/")
			tctx, span := telemetry.StartSpan(ctx, "server", spanName,
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			)
			defer span.End()
			ctx = tctx
		}

		limited.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start runs the HTTP server on addr and shuts it down gracefully when ctx
// is cancelled.
func Start(ctx context.Context, h *Handlers, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values while letting shutdown finish.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
