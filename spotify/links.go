// Package spotify contains minimal helpers to talk to the Spotify accounts
// service (OAuth authorization-code flow) and Web API (playlist modification),
// plus parsing of open.spotify.com share links found in chat messages.
package spotify

import (
	"fmt"
	"regexp"
)

// Distinct id types per resource kind. A share link carries an opaque base62
// identifier; nothing else about the resource is known until the API is asked.
type (
	TrackID    string
	AlbumID    string
	PlaylistID string
)

// URI returns the spotify: URI form used by the playlist-add endpoint.
func (id TrackID) URI() string { return "spotify:track:" + string(id) }

var (
	playlistLinkRe = regexp.MustCompile(`^https://open\.spotify\.com/playlist/([a-zA-Z0-9]+)`)
	trackLinkRe    = regexp.MustCompile(`https://open\.spotify\.com/track/([a-zA-Z0-9]+)`)
	albumLinkRe    = regexp.MustCompile(`https://open\.spotify\.com/album/([a-zA-Z0-9]+)`)
)

// ParsePlaylistLink extracts the playlist id from a share link such as
// https://open.spotify.com/playlist/abc123 or the same with ?si=... appended.
func ParsePlaylistLink(link string) (PlaylistID, error) {
	m := playlistLinkRe.FindStringSubmatch(link)
	if m == nil || m[1] == "" {
		return "", fmt.Errorf("not a spotify playlist link: %q", link)
	}
	return PlaylistID(m[1]), nil
}

// FindTrackLink extracts the first track id embedded in a chat message,
// reporting false when the message carries none.
func FindTrackLink(message string) (TrackID, bool) {
	m := trackLinkRe.FindStringSubmatch(message)
	if m == nil || m[1] == "" {
		return "", false
	}
	return TrackID(m[1]), true
}

// FindAlbumLink extracts the first album id embedded in a chat message.
func FindAlbumLink(message string) (AlbumID, bool) {
	m := albumLinkRe.FindStringSubmatch(message)
	if m == nil || m[1] == "" {
		return "", false
	}
	return AlbumID(m[1]), true
}
