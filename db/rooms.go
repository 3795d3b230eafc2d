package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RoomStore persists the per-room playlist binding and the join-activity
// record used to deduplicate rejoin notifications.
type RoomStore struct {
	DB *sql.DB
}

// SetPlaylist binds a playlist to a room, overwriting any previous binding.
// One playlist per room; callers validate the playlist id before storing.
func (s *RoomStore) SetPlaylist(ctx context.Context, roomID, playlistID string) error {
	if roomID == "" || playlistID == "" {
		return errors.New("room id or playlist id empty")
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO room_playlists (room_id, playlist_id, updated_at) VALUES ($1,$2,NOW())
		 ON CONFLICT (room_id) DO UPDATE SET playlist_id=EXCLUDED.playlist_id, updated_at=NOW()`,
		roomID, playlistID)
	if err != nil {
		return fmt.Errorf("set room playlist: %w", err)
	}
	return nil
}

// Playlist returns the playlist bound to roomID, or "" when none is set.
func (s *RoomStore) Playlist(ctx context.Context, roomID string) (string, error) {
	var playlistID string
	err := s.DB.QueryRowContext(ctx,
		`SELECT playlist_id FROM room_playlists WHERE room_id = $1`, roomID).Scan(&playlistID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get room playlist: %w", err)
	}
	return playlistID, nil
}

// RecordJoin registers a room-join notification and reports whether it is the
// newest one seen for the room. The first join for a room establishes
// first_seen = last_seen = ts; later joins only advance last_seen when ts is
// strictly newer. Out-of-order and replayed notifications resolve to
// latest=false with no mutation. A single conditional upsert keeps the check
// atomic under concurrent joins without any cross-row locking.
func (s *RoomStore) RecordJoin(ctx context.Context, roomID string, ts time.Time) (latest bool, err error) {
	if roomID == "" {
		return false, errors.New("room id empty")
	}
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO room_activity (room_id, first_seen, last_seen) VALUES ($1,$2,$2)
		 ON CONFLICT (room_id) DO UPDATE SET last_seen=EXCLUDED.last_seen
		 WHERE room_activity.last_seen < EXCLUDED.last_seen`,
		roomID, ts)
	if err != nil {
		return false, fmt.Errorf("record join: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Activity returns the first/last-seen timestamps for a room, or nil when the
// room has never been joined.
type RoomActivity struct {
	RoomID    string
	FirstSeen time.Time
	LastSeen  time.Time
}

func (s *RoomStore) Activity(ctx context.Context, roomID string) (*RoomActivity, error) {
	a := RoomActivity{RoomID: roomID}
	err := s.DB.QueryRowContext(ctx,
		`SELECT first_seen, last_seen FROM room_activity WHERE room_id = $1`, roomID).
		Scan(&a.FirstSeen, &a.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room activity: %w", err)
	}
	return &a, nil
}
