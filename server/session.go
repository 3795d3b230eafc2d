package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "spotlink_session"

	// sessionTTL bounds how long a browser session stays bound to a
	// correlation key. Slightly longer than the handshake TTL so the pending
	// entry, not the session, decides when a handshake dies.
	sessionTTL = 30 * time.Minute

	maxSessions = 10000
)

type sessionEntry struct {
	userkey string
	created time.Time
}

// sessionStore maps opaque session cookie values to the correlation key bound
// at /auth. Only the random session id ever reaches the client; the key stays
// server-side.
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]sessionEntry)}
}

// bind associates the caller's browser session with userkey, creating the
// session (and cookie) if the request carries none. Rebinding an existing
// session is allowed: revisiting /auth with a fresh link supersedes the old one.
func (s *sessionStore) bind(w http.ResponseWriter, r *http.Request, userkey string) error {
	var sid string
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		sid = c.Value
	} else {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return err
		}
		sid = hex.EncodeToString(b)
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    sid,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions)%100 == 0 {
		s.evictExpired()
	}
	if _, exists := s.sessions[sid]; !exists && len(s.sessions) >= maxSessions {
		return nil // drop silently; the callback will fail closed
	}
	s.sessions[sid] = sessionEntry{userkey: userkey, created: time.Now()}
	return nil
}

// key resolves the correlation key bound to the request's session, if any.
func (s *sessionStore) key(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	s.mu.RLock()
	e, ok := s.sessions[c.Value]
	s.mu.RUnlock()
	if !ok || time.Since(e.created) > sessionTTL {
		return "", false
	}
	return e.userkey, true
}

// drop removes the session binding, e.g. after a completed handshake.
func (s *sessionStore) drop(r *http.Request) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return
	}
	s.mu.Lock()
	delete(s.sessions, c.Value)
	s.mu.Unlock()
}

// evictExpired removes timed-out sessions. Caller must hold mu.
func (s *sessionStore) evictExpired() {
	now := time.Now()
	for sid, e := range s.sessions {
		if now.Sub(e.created) > sessionTTL {
			delete(s.sessions, sid)
		}
	}
}
