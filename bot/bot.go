// Package bot implements the chat-facing behavior: the login subcommand that
// mints one-time links, the playlist subcommand that binds a playlist to a
// room, the passive listener that adds shared tracks and albums to the room playlist,
// and the room-join greeter. The chat transport delivers events here and
// relays the returned reply strings; the bot itself never talks IRC.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/soulfulhiker/spotlink/db"
	"github.com/soulfulhiker/spotlink/pending"
	"github.com/soulfulhiker/spotlink/spotify"
	"github.com/soulfulhiker/spotlink/telemetry"
)

// refreshLeeway is how close to expiry a token is refreshed before use.
const refreshLeeway = 2 * time.Minute

// Credentials is the slice of the credential store the bot needs.
type Credentials interface {
	Get(ctx context.Context, userID string) (*db.Credential, error)
	Upsert(ctx context.Context, cred db.Credential) error
}

// Rooms is the slice of the room store the bot needs.
type Rooms interface {
	SetPlaylist(ctx context.Context, roomID, playlistID string) error
	Playlist(ctx context.Context, roomID string) (string, error)
	RecordJoin(ctx context.Context, roomID string, ts time.Time) (bool, error)
}

// PlaylistAPI is the slice of the Spotify Web API the bot needs.
type PlaylistAPI interface {
	AddTracks(ctx context.Context, accessToken string, playlist spotify.PlaylistID, tracks []spotify.TrackID) error
	AlbumTracks(ctx context.Context, accessToken string, album spotify.AlbumID) ([]spotify.TrackID, error)
	Playlist(ctx context.Context, accessToken string, playlist spotify.PlaylistID) (*spotify.PlaylistMeta, error)
}

// Bot wires the stores, the pending-handshake map, and the Spotify clients
// into chat-visible behavior. All fields are required.
type Bot struct {
	Creds   Credentials
	Rooms   Rooms
	Pending *pending.Store
	Auth    *spotify.Authenticator
	API     PlaylistAPI

	// BaseURL is the externally reachable base of the HTTP handshake surface.
	BaseURL string
	// Prefix is the chat command prefix, used in guidance messages.
	Prefix string
}

// Login starts a handshake for a chat user: mints a correlation key, records
// the pending login, and returns the one-time link the user must open.
func (b *Bot) Login(userID string) (string, error) {
	key, err := pending.NewKey()
	if err != nil {
		return "", err
	}
	ok := b.Pending.Put(key, pending.Login{
		UserID:      userID,
		ClientID:    b.Auth.Config.ClientID,
		RedirectURL: b.Auth.Config.RedirectURL,
		Scopes:      b.Auth.Config.Scopes,
	})
	if !ok {
		return "", fmt.Errorf("could not register login for %s", userID)
	}
	telemetry.HandshakesStarted.Inc()
	return b.BaseURL + "/auth?s=" + key, nil
}

// loginPrompt is the guidance sent when a user needs (or needs to redo) a login.
func (b *Bot) loginPrompt(userID, lead string) string {
	link, err := b.Login(userID)
	if err != nil {
		return lead + " I couldn't create a login link right now, try again in a moment."
	}
	return lead + " Connect your Spotify account here: " + link
}

// SetRoomPlaylist handles the playlist subcommand. The argument must be an
// open.spotify.com playlist share link; anything else is rejected without
// touching storage. When the setter is logged in, the confirmation names the
// playlist; the lookup is best effort and never blocks the binding.
func (b *Bot) SetRoomPlaylist(ctx context.Context, roomID, userID, link string) (string, error) {
	playlistID, err := spotify.ParsePlaylistLink(link)
	if err != nil {
		return "That's not a valid playlist link. Share one like https://open.spotify.com/playlist/<id>", nil
	}
	if err := b.Rooms.SetPlaylist(ctx, roomID, string(playlistID)); err != nil {
		return "", fmt.Errorf("store room playlist: %w", err)
	}
	if cred, err := b.Creds.Get(ctx, userID); err == nil && cred != nil {
		if cred, err = b.ensureFresh(ctx, cred); err == nil {
			if meta, err := b.API.Playlist(ctx, cred.AccessToken, playlistID); err == nil && meta.Name != "" {
				return fmt.Sprintf("Got it, this room now collects tracks into %q.", meta.Name), nil
			}
		}
	}
	return "Got it, this room now collects tracks into that playlist.", nil
}

// HandleShare is the passive listener. When message embeds a track or album
// share link it checks the sharer's credential and the room's playlist
// binding, then adds the track (or every track of the album). Each missing
// precondition yields its own guidance reply; handled is false when the
// message carries no share link at all. A message with both kinds of link is
// treated as a track share.
func (b *Bot) HandleShare(ctx context.Context, roomID, userID, message string) (reply string, handled bool, err error) {
	track, trackOK := spotify.FindTrackLink(message)
	album, albumOK := spotify.FindAlbumLink(message)
	if !trackOK && !albumOK {
		return "", false, nil
	}

	cred, err := b.Creds.Get(ctx, userID)
	if err != nil {
		return "", true, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return b.loginPrompt(userID, "You're not logged in to Spotify yet."), true, nil
	}

	playlistID, err := b.Rooms.Playlist(ctx, roomID)
	if err != nil {
		return "", true, fmt.Errorf("load room playlist: %w", err)
	}
	if playlistID == "" {
		return fmt.Sprintf("No playlist is set for this room yet. Use `%s playlist <link>` to pick one.", b.Prefix), true, nil
	}

	cred, err = b.ensureFresh(ctx, cred)
	if err != nil {
		telemetry.HandshakesFailed.Inc()
		return b.loginPrompt(userID, "Your Spotify login expired."), true, nil
	}

	if trackOK {
		if err := b.API.AddTracks(ctx, cred.AccessToken, spotify.PlaylistID(playlistID), []spotify.TrackID{track}); err != nil {
			telemetry.TracksAddFailed.Inc()
			return fmt.Sprintf("Spotify rejected that track: %v", err), true, nil
		}
		telemetry.TracksAdded.Inc()
		return "Added to the room playlist.", true, nil
	}

	tracks, err := b.API.AlbumTracks(ctx, cred.AccessToken, album)
	if err != nil {
		telemetry.TracksAddFailed.Inc()
		return fmt.Sprintf("Spotify rejected that album: %v", err), true, nil
	}
	if len(tracks) == 0 {
		return "That album has no tracks I can add.", true, nil
	}
	if err := b.API.AddTracks(ctx, cred.AccessToken, spotify.PlaylistID(playlistID), tracks); err != nil {
		telemetry.TracksAddFailed.Inc()
		return fmt.Sprintf("Spotify rejected that album: %v", err), true, nil
	}
	telemetry.TracksAdded.Add(float64(len(tracks)))
	return fmt.Sprintf("Added %d tracks from that album to the room playlist.", len(tracks)), true, nil
}

// ensureFresh refreshes the credential when it is expired or about to be,
// persisting the result. The refresh token is carried forward by the
// authenticator since Spotify does not reissue one.
func (b *Bot) ensureFresh(ctx context.Context, cred *db.Credential) (*db.Credential, error) {
	if !cred.Expired(refreshLeeway) {
		return cred, nil
	}
	tok, err := b.Auth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		return nil, err
	}
	updated := *cred
	updated.AccessToken = tok.AccessToken
	updated.RefreshToken = tok.RefreshToken
	updated.ExpiresAt = tok.Expiry
	if tok.TokenType != "" {
		updated.TokenType = tok.TokenType
	}
	if err := b.Creds.Upsert(ctx, updated); err != nil {
		return nil, err
	}
	telemetry.TokenRefreshes.Inc()
	return &updated, nil
}

// HandleJoin processes a room-joined notification. Only the newest join per
// room produces a greeting; replays and out-of-order joins return an empty
// reply so a rejoining bot doesn't spam the room.
func (b *Bot) HandleJoin(ctx context.Context, roomID string, ts time.Time) (string, error) {
	latest, err := b.Rooms.RecordJoin(ctx, roomID, ts)
	if err != nil {
		return "", fmt.Errorf("record join: %w", err)
	}
	if !latest {
		return "", nil
	}
	telemetry.RoomsGreeted.Inc()
	return fmt.Sprintf("Hi! Share Spotify track links and I'll add them to this room's playlist. Start with `%s login`.", b.Prefix), nil
}

// Help returns the chat usage text.
func (b *Bot) Help() string {
	return fmt.Sprintf("Commands: `%[1]s login` links your Spotify account, `%[1]s playlist <link>` sets this room's playlist. Shared track and album links get added automatically.", b.Prefix)
}
