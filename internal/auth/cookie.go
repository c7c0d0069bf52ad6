package auth

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

const (
	// SessionName is the name of the admin session cookie.
	SessionName = "keygate_admin"
	// tokenValueKey is the cookie session key holding the registry token.
	tokenValueKey = "token"

	minCookieSecret = 32
)

// CookieConfig holds admin cookie configuration.
type CookieConfig struct {
	Secret   []byte
	Secure   bool
	SameSite http.SameSite
	Path     string
}

// DefaultCookieConfig returns a CookieConfig with secure defaults. An empty
// secret is replaced with random bytes, which is sufficient because sessions
// never outlive the process.
func DefaultCookieConfig(secret []byte, secure bool) (CookieConfig, error) {
	if len(secret) == 0 {
		secret = make([]byte, 64)
		if _, err := rand.Read(secret); err != nil {
			return CookieConfig{}, fmt.Errorf("generate cookie secret: %w", err)
		}
	}
	return CookieConfig{
		Secret:   secret,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/admin",
	}, nil
}

// AdminSessions authenticates admins and carries their session tokens either
// in a signed cookie or as a bearer token.
type AdminSessions struct {
	registry *SessionRegistry
	checker  *CredentialChecker
	cookies  *sessions.CookieStore
	logger   zerolog.Logger
}

// NewAdminSessions creates the admin session layer.
func NewAdminSessions(registry *SessionRegistry, checker *CredentialChecker, cfg CookieConfig, logger zerolog.Logger) (*AdminSessions, error) {
	if len(cfg.Secret) < minCookieSecret {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minCookieSecret)
	}

	store := sessions.NewCookieStore(cfg.Secret)
	store.Options = &sessions.Options{
		Path:     cfg.Path,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
	// Bounds both the cookie and the signed timestamp inside it.
	store.MaxAge(int(registry.TTL() / time.Second))

	a := &AdminSessions{
		registry: registry,
		checker:  checker,
		cookies:  store,
		logger:   logger.With().Str("component", "admin_sessions").Logger(),
	}

	a.logger.Info().
		Bool("secure", cfg.Secure).
		Dur("ttl", registry.TTL()).
		Msg("admin session layer initialized")

	return a, nil
}

// Registry returns the underlying session registry.
func (a *AdminSessions) Registry() *SessionRegistry {
	return a.registry
}

// Login checks the password, registers a session, and writes the session
// cookie. The token is also returned for bearer use.
func (a *AdminSessions) Login(w http.ResponseWriter, r *http.Request, password string) (string, time.Time, error) {
	if !a.checker.Check(password) {
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, err := a.registry.Create()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt, _ := a.registry.Lookup(token)

	// A stale or forged cookie fails to decode; a fresh session is returned anyway.
	session, _ := a.cookies.Get(r, SessionName)
	session.Values[tokenValueKey] = token
	if err := session.Save(r, w); err != nil {
		_ = a.registry.Revoke(token)
		return "", time.Time{}, fmt.Errorf("save session: %w", err)
	}

	return token, expiresAt, nil
}

// Authenticate returns the caller's session token if it names a live
// session. A bearer token takes precedence over the cookie.
func (a *AdminSessions) Authenticate(r *http.Request) (string, bool) {
	token := ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = a.cookieToken(r)
	}
	if token == "" {
		return "", false
	}
	return token, a.registry.IsValid(token)
}

// Logout revokes the session and expires the cookie.
func (a *AdminSessions) Logout(w http.ResponseWriter, r *http.Request, token string) error {
	if err := a.registry.Revoke(token); err != nil && err != ErrSessionNotFound {
		return err
	}

	session, _ := a.cookies.Get(r, SessionName)
	delete(session.Values, tokenValueKey)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (a *AdminSessions) cookieToken(r *http.Request) string {
	session, err := a.cookies.Get(r, SessionName)
	if err != nil {
		a.logger.Debug().Err(err).Msg("unreadable admin session cookie")
		return ""
	}
	token, _ := session.Values[tokenValueKey].(string)
	return token
}

// ExtractBearerToken extracts the token from an Authorization header value.
// Returns empty string if the header is not a valid Bearer token.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
