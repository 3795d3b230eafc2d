package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const defaultAPIBase = "https://api.spotify.com/v1"

// Client provides the two Web API calls the bot needs: adding a track to a
// playlist and fetching playlist metadata. The caller supplies a valid access
// token per request; token storage and refresh live elsewhere.
type Client struct {
	HTTPClient *http.Client
	// BaseURL overrides the API root, for tests.
	BaseURL string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultAPIBase
}

// AddTracks appends tracks to a playlist on behalf of the token's owner.
func (c *Client) AddTracks(ctx context.Context, accessToken string, playlist PlaylistID, tracks []TrackID) error {
	if accessToken == "" {
		return fmt.Errorf("access token empty")
	}
	if playlist == "" || len(tracks) == 0 {
		return fmt.Errorf("playlist id empty or no tracks")
	}
	uris := make([]string, len(tracks))
	for i, tr := range tracks {
		if tr == "" {
			return fmt.Errorf("track id empty")
		}
		uris[i] = tr.URI()
	}
	payload, err := json.Marshal(map[string]any{"uris": uris})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/playlists/%s/tracks", c.base(), playlist)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("spotify add tracks failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// AlbumTracks lists the track ids of an album. The playlist-add endpoint only
// accepts track URIs, so a shared album is added track by track.
func (c *Client) AlbumTracks(ctx context.Context, accessToken string, album AlbumID) ([]TrackID, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token empty")
	}
	if album == "" {
		return nil, fmt.Errorf("album id empty")
	}
	u := fmt.Sprintf("%s/albums/%s/tracks?limit=50", c.base(), album)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("spotify album tracks fetch failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	tracks := make([]TrackID, 0, len(body.Items))
	for _, it := range body.Items {
		if it.ID != "" {
			tracks = append(tracks, TrackID(it.ID))
		}
	}
	return tracks, nil
}

// PlaylistMeta is the subset of playlist metadata the bot surfaces in chat.
type PlaylistMeta struct {
	Name   string
	Tracks int
}

// Playlist fetches name and track count for a playlist.
func (c *Client) Playlist(ctx context.Context, accessToken string, playlist PlaylistID) (*PlaylistMeta, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token empty")
	}
	if playlist == "" {
		return nil, fmt.Errorf("playlist id empty")
	}
	u := fmt.Sprintf("%s/playlists/%s?fields=name,tracks.total", c.base(), playlist)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("spotify playlist fetch failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Name   string `json:"name"`
		Tracks struct {
			Total int `json:"total"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return &PlaylistMeta{Name: body.Name, Tracks: body.Tracks.Total}, nil
}
