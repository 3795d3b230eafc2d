// Package server exposes the HTTP surface of the login handshake: the /auth
// endpoint a one-time link points at, the /callback endpoint the provider
// redirects to, and health/metrics endpoints. It injects correlation IDs into
// request contexts for consistent logging.
package server

import (
	"database/sql"

	dbpkg "github.com/soulfulhiker/spotlink/db"
	"github.com/soulfulhiker/spotlink/pending"
	"github.com/soulfulhiker/spotlink/spotify"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db       *sql.DB
	creds    *dbpkg.CredentialStore
	pending  *pending.Store
	auth     *spotify.Authenticator
	sessions *sessionStore
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, creds *dbpkg.CredentialStore, pend *pending.Store, auth *spotify.Authenticator) *Handlers {
	return &Handlers{
		db:       db,
		creds:    creds,
		pending:  pend,
		auth:     auth,
		sessions: newSessionStore(),
	}
}
