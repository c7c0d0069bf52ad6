package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

// SessionTokenContextKey is the context key for the admin session token.
const SessionTokenContextKey ContextKey = "admin_session"

// Authenticator resolves the admin session carried by a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, bool)
}

// AdminAuth returns a Gin middleware that requires a live admin session.
func AdminAuth(sessions Authenticator, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		token, ok := sessions.Authenticate(c.Request)
		if !ok {
			log.Debug().Str("path", c.Request.URL.Path).Msg("unauthenticated admin request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		c.Set(string(SessionTokenContextKey), token)
		c.Next()
	}
}

// GetSessionToken returns the admin session token set by AdminAuth.
func GetSessionToken(c *gin.Context) string {
	token, _ := c.Get(string(SessionTokenContextKey))
	s, _ := token.(string)
	return s
}
