package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultSessionTTL is how long an admin session stays valid after login.
	DefaultSessionTTL = time.Hour
	// DefaultMaxSessions bounds the number of live admin sessions.
	DefaultMaxSessions = 1024

	sessionTokenBytes = 32
)

// ErrSessionNotFound is returned when revoking an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// RegistryConfig holds configuration for the session registry.
type RegistryConfig struct {
	TTL         time.Duration
	MaxSessions int
	Now         func() time.Time
}

// DefaultRegistryConfig returns a RegistryConfig with the standard one hour TTL.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		TTL:         DefaultSessionTTL,
		MaxSessions: DefaultMaxSessions,
		Now:         time.Now,
	}
}

// SessionRegistry is the process-local registry of admin sessions. A session
// is valid iff it is registered and no older than the TTL. Expired sessions
// are evicted when they are looked up.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	ttl      time.Duration
	max      int
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(cfg RegistryConfig, logger zerolog.Logger) *SessionRegistry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionRegistry{
		sessions: make(map[string]time.Time),
		ttl:      cfg.TTL,
		max:      cfg.MaxSessions,
		now:      cfg.Now,
		logger:   logger.With().Str("component", "session_registry").Logger(),
	}
}

// TTL returns the session lifetime.
func (r *SessionRegistry) TTL() time.Duration {
	return r.ttl
}

// Create registers a new session and returns its token.
func (r *SessionRegistry) Create() (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.sessions) >= r.max {
		r.sweepLocked(now)
	}
	if len(r.sessions) >= r.max {
		r.evictOldestLocked()
	}
	r.sessions[token] = now
	return token, nil
}

// IsValid reports whether token names a live session. An expired session is
// removed as a side effect.
func (r *SessionRegistry) IsValid(token string) bool {
	_, ok := r.Lookup(token)
	return ok
}

// Lookup returns the expiry time of a live session.
func (r *SessionRegistry) Lookup(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	issuedAt, ok := r.sessions[token]
	if !ok {
		return time.Time{}, false
	}
	if r.now().Sub(issuedAt) > r.ttl {
		delete(r.sessions, token)
		r.logger.Debug().Msg("expired admin session evicted on lookup")
		return time.Time{}, false
	}
	return issuedAt.Add(r.ttl), true
}

// Revoke removes a session.
func (r *SessionRegistry) Revoke(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[token]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, token)
	return nil
}

// Sweep removes every expired session and returns how many were removed.
func (r *SessionRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

// Len returns the number of registered sessions, including expired ones not
// yet evicted.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *SessionRegistry) sweepLocked(now time.Time) int {
	removed := 0
	for token, issuedAt := range r.sessions {
		if now.Sub(issuedAt) > r.ttl {
			delete(r.sessions, token)
			removed++
		}
	}
	return removed
}

func (r *SessionRegistry) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for token, issuedAt := range r.sessions {
		if oldest == "" || issuedAt.Before(oldestAt) {
			oldest, oldestAt = token, issuedAt
		}
	}
	if oldest != "" {
		delete(r.sessions, oldest)
		r.logger.Warn().Int("max_sessions", r.max).Msg("session registry full, evicted oldest session")
	}
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
