package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/soulfulhiker/spotlink/db"
	"github.com/soulfulhiker/spotlink/pending"
	"github.com/soulfulhiker/spotlink/spotify"
	"github.com/soulfulhiker/spotlink/telemetry"
)

type fakeCreds struct {
	creds map[string]db.Credential
}

func (f *fakeCreds) Get(_ context.Context, userID string) (*db.Credential, error) {
	if c, ok := f.creds[userID]; ok {
		cp := c
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCreds) Upsert(_ context.Context, cred db.Credential) error {
	if f.creds == nil {
		f.creds = map[string]db.Credential{}
	}
	f.creds[cred.UserID] = cred
	return nil
}

type fakeRooms struct {
	playlists map[string]string
	lastSeen  map[string]time.Time
}

func (f *fakeRooms) SetPlaylist(_ context.Context, roomID, playlistID string) error {
	if f.playlists == nil {
		f.playlists = map[string]string{}
	}
	f.playlists[roomID] = playlistID
	return nil
}

func (f *fakeRooms) Playlist(_ context.Context, roomID string) (string, error) {
	return f.playlists[roomID], nil
}

func (f *fakeRooms) RecordJoin(_ context.Context, roomID string, ts time.Time) (bool, error) {
	if f.lastSeen == nil {
		f.lastSeen = map[string]time.Time{}
	}
	if last, ok := f.lastSeen[roomID]; ok && !ts.After(last) {
		return false, nil
	}
	f.lastSeen[roomID] = ts
	return true, nil
}

type fakeAPI struct {
	added       []string
	addErr      error
	albumErr    error
	albumTracks []spotify.TrackID
	meta        *spotify.PlaylistMeta
	gotTok      string
}

func (f *fakeAPI) AddTracks(_ context.Context, accessToken string, playlist spotify.PlaylistID, tracks []spotify.TrackID) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.gotTok = accessToken
	for _, tr := range tracks {
		f.added = append(f.added, string(playlist)+"/"+string(tr))
	}
	return nil
}

func (f *fakeAPI) AlbumTracks(_ context.Context, accessToken string, album spotify.AlbumID) ([]spotify.TrackID, error) {
	if f.albumErr != nil {
		return nil, f.albumErr
	}
	f.gotTok = accessToken
	return f.albumTracks, nil
}

func (f *fakeAPI) Playlist(_ context.Context, _ string, playlist spotify.PlaylistID) (*spotify.PlaylistMeta, error) {
	if f.meta != nil {
		return f.meta, nil
	}
	return nil, errors.New("playlist lookup not stubbed")
}

func newTestBot(t *testing.T) (*Bot, *fakeCreds, *fakeRooms, *fakeAPI) {
	t.Helper()
	telemetry.Init()
	creds := &fakeCreds{}
	rooms := &fakeRooms{}
	api := &fakeAPI{}
	b := &Bot{
		Creds:   creds,
		Rooms:   rooms,
		Pending: pending.NewStore(0),
		Auth:    spotify.NewAuthenticator("cid", "cs", "http://localhost:8080/callback", []string{"playlist-modify-private"}),
		API:     api,
		BaseURL: "http://localhost:8080",
		Prefix:  "!spotify",
	}
	return b, creds, rooms, api
}

func TestLoginMintsOneTimeLink(t *testing.T) {
	b, _, _, _ := newTestBot(t)
	link, err := b.Login("alice")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !strings.HasPrefix(link, "http://localhost:8080/auth?s=") {
		t.Fatalf("link = %q", link)
	}
	key := strings.TrimPrefix(link, "http://localhost:8080/auth?s=")
	entry, ok := b.Pending.Get(key)
	if !ok {
		t.Fatal("pending entry not stored")
	}
	if entry.UserID != "alice" {
		t.Errorf("entry user = %q", entry.UserID)
	}
	if entry.ClientID != "cid" || entry.RedirectURL != "http://localhost:8080/callback" {
		t.Errorf("entry handshake params = %+v", entry)
	}

	// a second login mints a different key
	link2, err := b.Login("alice")
	if err != nil {
		t.Fatalf("Login #2: %v", err)
	}
	if link2 == link {
		t.Error("two logins reused the same correlation key")
	}
}

func TestSetRoomPlaylist(t *testing.T) {
	b, _, rooms, _ := newTestBot(t)
	ctx := context.Background()

	reply, err := b.SetRoomPlaylist(ctx, "room1", "u1", "https://open.spotify.com/playlist/abc123?si=xyz")
	if err != nil {
		t.Fatalf("SetRoomPlaylist: %v", err)
	}
	if !strings.Contains(reply, "collects tracks") {
		t.Errorf("reply = %q", reply)
	}
	if rooms.playlists["room1"] != "abc123" {
		t.Errorf("stored playlist = %q, want abc123", rooms.playlists["room1"])
	}
}

func TestSetRoomPlaylistRejectsMalformed(t *testing.T) {
	b, _, rooms, _ := newTestBot(t)
	reply, err := b.SetRoomPlaylist(context.Background(), "room1", "u1", "https://example.com/not-spotify")
	if err != nil {
		t.Fatalf("SetRoomPlaylist: %v", err)
	}
	if !strings.Contains(reply, "not a valid playlist link") {
		t.Errorf("reply = %q", reply)
	}
	if len(rooms.playlists) != 0 {
		t.Error("malformed link must not write state")
	}
}

func TestTrackShareIgnoresPlainMessages(t *testing.T) {
	b, _, _, _ := newTestBot(t)
	reply, handled, err := b.HandleShare(context.Background(), "room1", "u1", "just chatting")
	if err != nil || handled || reply != "" {
		t.Errorf("plain message: (%q, %v, %v)", reply, handled, err)
	}
}

func TestTrackShareNotLoggedIn(t *testing.T) {
	b, _, _, api := newTestBot(t)
	reply, handled, err := b.HandleShare(context.Background(), "room1", "u1",
		"https://open.spotify.com/track/abc123")
	if err != nil {
		t.Fatalf("HandleShare: %v", err)
	}
	if !handled {
		t.Fatal("track link should be handled")
	}
	if !strings.Contains(reply, "not logged in") || !strings.Contains(reply, "/auth?s=") {
		t.Errorf("reply should guide to login with a fresh link: %q", reply)
	}
	if len(api.added) != 0 {
		t.Error("no API call may happen without a credential")
	}
}

func TestTrackShareNoRoomPlaylist(t *testing.T) {
	b, creds, _, api := newTestBot(t)
	_ = creds.Upsert(context.Background(), db.Credential{
		UserID: "u1", AccessToken: "at", TokenType: "Bearer",
		ExpiresAt: time.Now().Add(time.Hour), RefreshToken: "rt",
	})
	reply, handled, err := b.HandleShare(context.Background(), "room1", "u1",
		"https://open.spotify.com/track/abc123")
	if err != nil || !handled {
		t.Fatalf("HandleShare: (%v, %v)", handled, err)
	}
	if !strings.Contains(reply, "No playlist is set") {
		t.Errorf("reply = %q", reply)
	}
	if len(api.added) != 0 {
		t.Error("no API call may happen without a room playlist")
	}
}

func TestTrackShareAddsTrack(t *testing.T) {
	b, creds, rooms, api := newTestBot(t)
	ctx := context.Background()
	_ = creds.Upsert(ctx, db.Credential{
		UserID: "u1", AccessToken: "at-live", TokenType: "Bearer",
		ExpiresAt: time.Now().Add(time.Hour), RefreshToken: "rt",
	})
	_ = rooms.SetPlaylist(ctx, "room1", "pl1")

	reply, handled, err := b.HandleShare(ctx, "room1", "u1",
		"listen to this https://open.spotify.com/track/trk9 great song")
	if err != nil || !handled {
		t.Fatalf("HandleShare: (%v, %v)", handled, err)
	}
	if !strings.Contains(reply, "Added") {
		t.Errorf("reply = %q", reply)
	}
	if len(api.added) != 1 || api.added[0] != "pl1/trk9" {
		t.Errorf("api.added = %v", api.added)
	}
	if api.gotTok != "at-live" {
		t.Errorf("API called with token %q", api.gotTok)
	}
}

func TestTrackShareRefreshesExpiredCredential(t *testing.T) {
	b, creds, rooms, api := newTestBot(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-refreshed","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()
	b.Auth.Config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/api/token"}

	_ = creds.Upsert(ctx, db.Credential{
		UserID: "u1", AccessToken: "at-stale", TokenType: "Bearer",
		ExpiresAt: time.Now().Add(-time.Minute), RefreshToken: "rt-keep",
	})
	_ = rooms.SetPlaylist(ctx, "room1", "pl1")

	reply, handled, err := b.HandleShare(ctx, "room1", "u1",
		"https://open.spotify.com/track/trk1")
	if err != nil || !handled {
		t.Fatalf("HandleShare: (%v, %v)", handled, err)
	}
	if !strings.Contains(reply, "Added") {
		t.Errorf("reply = %q", reply)
	}
	if api.gotTok != "at-refreshed" {
		t.Errorf("API called with token %q, want refreshed one", api.gotTok)
	}
	stored, _ := creds.Get(ctx, "u1")
	if stored.AccessToken != "at-refreshed" {
		t.Errorf("stored access token = %q", stored.AccessToken)
	}
	if stored.RefreshToken != "rt-keep" {
		t.Errorf("refresh token = %q, must be carried forward", stored.RefreshToken)
	}
}

func TestTrackShareSurfacesProviderError(t *testing.T) {
	b, creds, rooms, api := newTestBot(t)
	ctx := context.Background()
	_ = creds.Upsert(ctx, db.Credential{
		UserID: "u1", AccessToken: "at", TokenType: "Bearer",
		ExpiresAt: time.Now().Add(time.Hour), RefreshToken: "rt",
	})
	_ = rooms.SetPlaylist(ctx, "room1", "pl1")
	api.addErr = errors.New("spotify add track failed: 403 Forbidden: Insufficient client scope")

	reply, handled, err := b.HandleShare(ctx, "room1", "u1",
		"https://open.spotify.com/track/trk1")
	if err != nil || !handled {
		t.Fatalf("HandleShare: (%v, %v)", handled, err)
	}
	if !strings.Contains(reply, "rejected") || !strings.Contains(reply, "Insufficient client scope") {
		t.Errorf("provider error not surfaced: %q", reply)
	}
}

func TestHandleJoinGreetsOnlyLatest(t *testing.T) {
	b, _, _, _ := newTestBot(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	msg, err := b.HandleJoin(ctx, "room1", base.Add(100*time.Second))
	if err != nil {
		t.Fatalf("HandleJoin: %v", err)
	}
	if msg == "" {
		t.Error("first join should greet")
	}

	msg, err = b.HandleJoin(ctx, "room1", base.Add(100*time.Second))
	if err != nil || msg != "" {
		t.Errorf("replayed join greeted: (%q, %v)", msg, err)
	}

	msg, err = b.HandleJoin(ctx, "room1", base.Add(50*time.Second))
	if err != nil || msg != "" {
		t.Errorf("out-of-order join greeted: (%q, %v)", msg, err)
	}
}

func TestAlbumShareAddsAllTracks(t *testing.T) {
	b, creds, rooms, api := newTestBot(t)
	ctx := context.Background()
	_ = creds.Upsert(ctx, db.Credential{
		UserID: "u1", AccessToken: "at", TokenType: "Bearer",
		ExpiresAt: time.Now().Add(time.Hour), RefreshToken: "rt",
	})
	_ = rooms.SetPlaylist(ctx, "room1", "pl1")
	api.albumTracks = []spotify.TrackID{"t1", "t2", "t3"}

	reply, handled, err := b.HandleShare(ctx, "room1", "u1",
		"new record! https://open.spotify.com/album/4LH4d3cOWNNsVw41Gqt2kv?si=q")
	if err != nil || !handled {
		t.Fatalf("HandleShare: (%v, %v)", handled, err)
	}
	if !strings.Contains(reply, "3 tracks") {
		t.Errorf("reply = %q", reply)
	}
	want := []string{"pl1/t1", "pl1/t2", "pl1/t3"}
	if len(api.added) != len(want) {
		t.Fatalf("api.added = %v", api.added)
	}
	for i := range want {
		if api.added[i] != want[i] {
			t.Errorf("api.added[%d] = %q, want %q", i, api.added[i], want[i])
		}
	}
}

func TestAlbumShareNotLoggedIn(t *testing.T) {
	b, _, _, api := newTestBot(t)
	reply, handled, err := b.HandleShare(context.Background(), "room1", "u1",
		"https://open.spotify.com/album/alb1")
	if err != nil || !handled {
		t.Fatalf("HandleShare: (%v, %v)", handled, err)
	}
	if !strings.Contains(reply, "not logged in") {
		t.Errorf("reply = %q", reply)
	}
	if len(api.added) != 0 {
		t.Error("no API call may happen without a credential")
	}
}

func TestAlbumShareSurfacesProviderError(t *testing.T) {
	b, creds, rooms, api := newTestBot(t)
	ctx := context.Background()
	_ = creds.Upsert(ctx, db.Credential{
		UserID: "u1", AccessToken: "at", TokenType: "Bearer",
		ExpiresAt: time.Now().Add(time.Hour), RefreshToken: "rt",
	})
	_ = rooms.SetPlaylist(ctx, "room1", "pl1")
	api.albumErr = errors.New("spotify album tracks fetch failed: 404 Not Found")

	reply, handled, err := b.HandleShare(ctx, "room1", "u1",
		"https://open.spotify.com/album/missing")
	if err != nil || !handled {
		t.Fatalf("HandleShare: (%v, %v)", handled, err)
	}
	if !strings.Contains(reply, "rejected that album") {
		t.Errorf("reply = %q", reply)
	}
	if len(api.added) != 0 {
		t.Error("nothing may be added when the album lookup fails")
	}
}

func TestSetRoomPlaylistNamesPlaylist(t *testing.T) {
	b, creds, rooms, api := newTestBot(t)
	ctx := context.Background()
	_ = creds.Upsert(ctx, db.Credential{
		UserID: "u1", AccessToken: "at", TokenType: "Bearer",
		ExpiresAt: time.Now().Add(time.Hour), RefreshToken: "rt",
	})
	api.meta = &spotify.PlaylistMeta{Name: "Road Trip", Tracks: 42}

	reply, err := b.SetRoomPlaylist(ctx, "room1", "u1", "https://open.spotify.com/playlist/pl9")
	if err != nil {
		t.Fatalf("SetRoomPlaylist: %v", err)
	}
	if !strings.Contains(reply, `"Road Trip"`) {
		t.Errorf("reply = %q, want the playlist name", reply)
	}
	if rooms.playlists["room1"] != "pl9" {
		t.Errorf("stored playlist = %q", rooms.playlists["room1"])
	}
}
