// Package adminapi implements the gateway's read-only operator HTTP
// surface: population, queue depth, patch bucket summaries, and ban-list
// status. It carries no mutation endpoints — this component owns no
// persistent game state for an operator to change through it.
package adminapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware verifies a static bearer token against the configured
// admin token. The teacher authenticates its REST API against Discord
// OAuth2; this surface is operator-only and has no end-user identities to
// federate against, so a single shared token takes that role instead.
type AuthMiddleware struct {
	token string
}

// NewAuthMiddleware builds an AuthMiddleware. An empty token disables auth
// entirely (matching the teacher's auth_disabled escape hatch for local/dev
// use) and should only be set that way deliberately.
func NewAuthMiddleware(token string) *AuthMiddleware {
	return &AuthMiddleware{token: token}
}

// RequireToken returns a Gin middleware enforcing the bearer token.
func (am *AuthMiddleware) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.token == "" {
			c.Next()
			return
		}

		got := extractBearerToken(c.GetHeader("Authorization"))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(am.token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// SecurityHeaders adds the same baseline hardening headers the teacher's
// REST layer sets.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Server", "loginway-gateway")
		c.Next()
	}
}

// RequestLogger logs every request at debug level, grounded on the
// teacher's RequestLogger.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin api request")
	}
}
