package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soulfulhiker/spotlink/crypto"
)

// Credential is the stored Spotify token material for one chat user.
// At most one live credential exists per user; the handshake and the
// refresher both overwrite in place.
type Credential struct {
	UserID       string
	AccessToken  string
	TokenType    string
	ExpiresAt    time.Time
	RefreshToken string
	Scopes       []string
}

// Expired reports whether the access token is past (or within leeway of) its expiry.
func (c *Credential) Expired(leeway time.Duration) bool {
	return time.Until(c.ExpiresAt) <= leeway
}

// CredentialStore persists credentials keyed by chat user id. When Cipher is
// non-nil, access and refresh tokens are encrypted at rest
// (encryption_version=1); rows written before encryption was enabled
// (version=0) are still read back as plaintext.
type CredentialStore struct {
	DB     *sql.DB
	Cipher *crypto.Cipher
}

// Upsert stores or overwrites the credential for cred.UserID.
func (s *CredentialStore) Upsert(ctx context.Context, cred Credential) error {
	if cred.UserID == "" {
		return errors.New("credential missing user id")
	}
	access, refresh := cred.AccessToken, cred.RefreshToken
	encVersion := 0
	if s.Cipher != nil {
		encVersion = 1
		var err error
		if access, err = s.Cipher.EncryptString(access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = s.Cipher.EncryptString(refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO credentials (chat_user_id, access_token, token_type, expires_at, refresh_token, scopes, encryption_version, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		 ON CONFLICT (chat_user_id) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   token_type=EXCLUDED.token_type,
		   expires_at=EXCLUDED.expires_at,
		   refresh_token=EXCLUDED.refresh_token,
		   scopes=EXCLUDED.scopes,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		cred.UserID, access, cred.TokenType, cred.ExpiresAt, refresh, strings.Join(cred.Scopes, " "), encVersion)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// Get returns the stored credential for userID, or nil when the user has
// never completed a login.
func (s *CredentialStore) Get(ctx context.Context, userID string) (*Credential, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT access_token, token_type, expires_at, refresh_token, scopes, COALESCE(encryption_version, 0)
		 FROM credentials WHERE chat_user_id = $1`, userID)

	var cred Credential
	var scopes string
	var encVersion int
	err := row.Scan(&cred.AccessToken, &cred.TokenType, &cred.ExpiresAt, &cred.RefreshToken, &scopes, &encVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if encVersion == 1 {
		if s.Cipher == nil {
			return nil, fmt.Errorf("credential for %s is encrypted but ENCRYPTION_KEY not configured", userID)
		}
		if cred.AccessToken, err = s.Cipher.DecryptString(cred.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if cred.RefreshToken, err = s.Cipher.DecryptString(cred.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	cred.UserID = userID
	cred.Scopes = strings.Fields(scopes)
	return &cred, nil
}

// ExpiringWithin lists user ids whose credentials expire inside the window and
// have a refresh token to renew with. Used by the background refresher.
func (s *CredentialStore) ExpiringWithin(ctx context.Context, window time.Duration) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT chat_user_id FROM credentials
		 WHERE refresh_token <> '' AND expires_at <= NOW() + $1::interval`,
		fmt.Sprintf("%d seconds", int(window.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("list expiring credentials: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
