// Package oauth provides background refresh scheduling for the per-user
// Spotify credentials persisted in the credentials table. It performs
// jittered checks and refreshes credentials whose expiry falls within a
// configured window, so most chat-triggered API calls find a live token.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/soulfulhiker/spotlink/db"
	"github.com/soulfulhiker/spotlink/telemetry"
)

// RefreshFunc performs the provider-specific refresh grant and returns
// (access, refresh, expiry). An empty returned refresh token means the
// provider did not reissue one and the stored token is carried forward.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, error)

// StartRefresher launches a goroutine that periodically scans for credentials
// expiring within the window and refreshes them. Failures are logged and the
// affected user simply falls back to the on-demand refresh path.
func StartRefresher(ctx context.Context, creds *db.CredentialStore, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across restarts.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
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
			refreshDue(ctx, creds, window, fn)
		}
	}()
}

func refreshDue(ctx context.Context, creds *db.CredentialStore, window time.Duration, fn RefreshFunc) {
	users, err := creds.ExpiringWithin(ctx, window)
	if err != nil {
		slog.Warn("expiring credential scan failed", slog.Any("err", err))
		return
	}
	for _, userID := range users {
		cred, err := creds.Get(ctx, userID)
		if err != nil || cred == nil || cred.RefreshToken == "" {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		access, refresh, expiry, err := fn(rctx, cred.RefreshToken)
		cancel()
		if err != nil {
			telemetry.TokenRefreshesFailed.Inc()
			slog.Warn("token refresh failed", slog.String("user", userID), slog.Any("err", err))
			continue
		}
		cred.AccessToken = access
		if refresh != "" {
			cred.RefreshToken = refresh
		}
		cred.ExpiresAt = expiry
		if err := creds.Upsert(ctx, *cred); err != nil {
			slog.Warn("token persist failed", slog.String("user", userID), slog.Any("err", err))
			continue
		}
		telemetry.TokenRefreshes.Inc()
		slog.Info("token refreshed", slog.String("user", userID))
	}
}
