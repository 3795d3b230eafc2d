package spotify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	spotifyauth "golang.org/x/oauth2/spotify"
)

// Authenticator wraps the OAuth2 authorization-code flow against the Spotify
// accounts service. One instance serves all chat users; per-user state lives
// in the correlation key passed through as the OAuth state parameter.
type Authenticator struct {
	Config *oauth2.Config
}

// NewAuthenticator builds an Authenticator for the registered application.
func NewAuthenticator(clientID, clientSecret, redirectURL string, scopes []string) *Authenticator {
	return &Authenticator{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     spotifyauth.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
		},
	}
}

// AuthCodeURL returns the provider authorize URL the browser is sent to.
// state carries the correlation key back through the provider redirect.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token. Provider errors are
// returned as-is; the caller decides how to surface them.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("empty authorization code")
	}
	tok, err := a.Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("spotify code exchange failed: %w", err)
	}
	return tok, nil
}

// Refresh exchanges a refresh token for a fresh access token. Spotify does not
// reissue a refresh token on refresh, so the input token is carried forward
// whenever the response omits one.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("no refresh token stored")
	}
	src := a.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("spotify token refresh failed: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// ScopesFromToken extracts the granted scopes Spotify reports alongside the
// token response (a space-separated string in the `scope` field). Falls back
// to the requested scopes when the provider omits it.
func (a *Authenticator) ScopesFromToken(tok *oauth2.Token) []string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return strings.Fields(s)
	}
	return a.Config.Scopes
}
