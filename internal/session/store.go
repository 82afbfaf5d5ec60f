// Package session holds the process-wide mapping from opaque session tokens
// to delegated storage credentials.
package session

import (
	"sync"
	"time"

	"github.com/couchcryptid/streams-data-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Store is an in-memory, TTL-bounded session store. Expired entries are
// purged lazily on every Get. A token that has been evicted or destroyed is
// never valid again.
type Store struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	ttl      time.Duration
	clock    clockwork.Clock
	newToken func() string
}

// NewStore creates a store whose sessions live for ttl. Pass nil to use the
// real clock.
func NewStore(ttl time.Duration, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		sessions: make(map[string]domain.Session),
		ttl:      ttl,
		clock:    clock,
		newToken: uuid.NewString,
	}
}

// TTL returns the lifetime given to new sessions.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create issues a fresh token for the credentials.
func (s *Store) Create(username string, creds domain.StorageCredentials) domain.Session {
	now := s.clock.Now().UTC()
	sess := domain.Session{
		Token:       s.newToken(),
		Username:    username,
		Credentials: creds,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
	return sess
}

// Get returns the live session for token.
func (s *Store) Get(token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, domain.ErrMissingToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()
	sess, ok := s.sessions[token]
	if !ok {
		return domain.Session{}, domain.ErrInvalidOrExpiredToken
	}
	return sess, nil
}

// Destroy removes token. Unknown tokens are ignored.
func (s *Store) Destroy(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Len returns the number of stored sessions, including expired ones that have
// not been purged yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) evictExpiredLocked() {
	now := s.clock.Now()
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
		}
	}
}
