package server

import (
	"fmt"
	"html"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	dbpkg "github.com/soulfulhiker/spotlink/db"
	"github.com/soulfulhiker/spotlink/telemetry"
)

// unauthorizedText is deliberately uniform: a never-issued key, an expired
// key, and a consumed key all read the same, so probing the endpoint reveals
// nothing about handshake state.
const unauthorizedText = "Unauthorized. Try again"

// HandleAuth is the landing page of a one-time login link. It binds the
// correlation key from the query string into the caller's browser session and
// renders a link to the provider authorize URL. Revisiting with the same
// valid key simply re-binds and re-renders.
func (h *Handlers) HandleAuth(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("s")
	if _, ok := h.pending.Get(key); !ok {
		telemetry.HandshakesFailed.Inc()
		http.Error(w, unauthorizedText, http.StatusForbidden)
		return
	}
	if err := h.sessions.bind(w, r, key); err != nil {
		slog.Error("session bind failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// The correlation key doubles as the OAuth state parameter, tying the
	// provider redirect back to this handshake.
	authorizeURL := h.auth.AuthCodeURL(key)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<a href="%s">Link your Spotify account</a>`, html.EscapeString(authorizeURL))
}

// HandleCallback finishes the handshake: the provider redirected the browser
// here with an authorization code, and the session must still carry the key
// bound at /auth. Fails closed on any mismatch; provider exchange errors are
// surfaced as text and end the attempt (the user re-initiates from chat).
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	userkey, ok := h.sessions.key(r)
	if !ok {
		telemetry.HandshakesFailed.Inc()
		http.Error(w, "Empty userkey", http.StatusForbidden)
		return
	}
	login, ok := h.pending.Get(userkey)
	if !ok {
		telemetry.HandshakesFailed.Inc()
		http.Error(w, unauthorizedText, http.StatusForbidden)
		return
	}

	ctx := r.Context()
	code := r.URL.Query().Get("code")
	ctx, span := telemetry.StartSpan(ctx, "server", "oauth code exchange",
		attribute.String("chat.user", login.UserID))
	tok, err := h.auth.Exchange(ctx, code)
	telemetry.RecordError(span, err)
	span.End()
	if err != nil {
		telemetry.HandshakesFailed.Inc()
		telemetry.LogWith(ctx).Warn("code exchange failed", slog.String("user", login.UserID), slog.Any("err", err))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, err.Error())
		return
	}

	cred := dbpkg.Credential{
		UserID:       login.UserID,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
		RefreshToken: tok.RefreshToken,
		Scopes:       h.auth.ScopesFromToken(tok),
	}
	if err := h.creds.Upsert(ctx, cred); err != nil {
		telemetry.HandshakesFailed.Inc()
		telemetry.LogWith(ctx).Error("credential persist failed", slog.String("user", login.UserID), slog.Any("err", err))
		http.Error(w, "could not store credential", http.StatusInternalServerError)
		return
	}

	// Invalidate the one-time link and the session binding: a replayed
	// /auth or /callback now fails closed.
	h.pending.Consume(userkey)
	h.sessions.drop(r)

	telemetry.HandshakesCompleted.Inc()
	telemetry.LogWith(ctx).Info("spotify account linked", slog.String("user", login.UserID))
	fmt.Fprint(w, "Success")
}
