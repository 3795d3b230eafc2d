// Package db provides the Postgres connection, schema migrations, and the
// durable stores: per-user Spotify credentials, per-room playlist bindings,
// and per-room join activity.
package db

import (
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection for dsn. The default DSN lives in the
// config package so there is a single source for it.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty database DSN")
	}
	return sql.Open("pgx", dsn)
}
