// Package pending holds in-flight login handshakes: single-use correlation
// keys minted when a chat user asks to link their Spotify account, bound to
// the user identity and the OAuth parameters needed to finish the exchange.
// Entries live in process memory only; a restart abandons any open handshake.
package pending

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultTTL bounds how long an initiated-but-unfinished handshake stays valid.
	DefaultTTL = 10 * time.Minute

	// maxEntries caps the store so a flood of login commands cannot exhaust memory.
	maxEntries = 10000
)

// Login is the pending-handshake context bound to a correlation key.
type Login struct {
	UserID      string
	ClientID    string
	RedirectURL string
	Scopes      []string
}

type entry struct {
	login   Login
	created time.Time
}

// Store is a concurrency-safe map of correlation key to pending login.
// Writes are insert-only: the first Put for a key wins and later Puts for the
// same key are silently dropped, so a key can never be rebound to a different
// chat user once issued.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a Store with the given entry TTL (DefaultTTL when <= 0).
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewKey mints a fresh correlation key: 128 bits from crypto/rand, hex encoded.
func NewKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("mint correlation key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Put binds a login to key if the key is absent. A duplicate key is a no-op.
// Returns false when the entry was not stored (duplicate key or full store).
func (s *Store) Put(key string, login Login) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Amortized cleanup keeps the map bounded without a reaper goroutine.
	if len(s.entries)%100 == 0 {
		s.evictExpired()
	}
	if _, exists := s.entries[key]; exists {
		return false
	}
	if len(s.entries) >= maxEntries {
		// Refusing the handshake beats unbounded growth; the user just retries.
		return false
	}
	s.entries[key] = entry{login: login, created: s.now()}
	return true
}

// Get returns the login bound to key. Reads are non-destructive; the same key
// resolves until it expires or is consumed.
func (s *Store) Get(key string) (Login, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.expired(e) {
		return Login{}, false
	}
	return e.login, true
}

// Consume invalidates key after a successful credential exchange so a stale
// /auth link cannot be replayed. Consuming an unknown key is a no-op.
func (s *Store) Consume(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len reports the number of live (possibly expired, not yet evicted) entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) expired(e entry) bool {
	return s.now().Sub(e.created) > s.ttl
}

// evictExpired removes timed-out entries. Caller must hold mu.
func (s *Store) evictExpired() {
	for k, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, k)
		}
	}
}
