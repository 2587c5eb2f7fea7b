package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/techcorp/docbroker/internal/apperr"
)

const ctxSession = "docbroker_session"

// SessionToken reads the session token from X-Session-Token, falling back to
// X-Session-ID.
func SessionToken(c *gin.Context) string {
	if token := c.GetHeader("X-Session-Token"); token != "" {
		return token
	}
	return c.GetHeader("X-Session-ID")
}

// RequireSession returns a Gin middleware that enforces a live session.
//
// On success it injects the *Session into the context under the
// "docbroker_session" key.
func RequireSession(sessions *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   apperr.Unauthorized.Code(),
				"message": "session token required (X-Session-Token)",
			})
			return
		}

		sess, err := sessions.Get(token)
		if err != nil {
			kind := apperr.KindOf(err)
			c.AbortWithStatusJSON(kind.HTTPStatus(), gin.H{
				"success": false,
				"error":   kind.Code(),
				"message": apperr.MessageOf(err),
			})
			return
		}

		c.Set(ctxSession, sess)
		c.Next()
	}
}

// SessionFromCtx retrieves the session injected by RequireSession.
func SessionFromCtx(c *gin.Context) *Session {
	v, _ := c.Get(ctxSession)
	sess, _ := v.(*Session)
	return sess
}

// RequireAdminKey returns a Gin middleware that guards administrative routes
// with the configured admin API key, read from X-Admin-Api-Key. An empty
// configured key disables the admin surface entirely.
func RequireAdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   apperr.Forbidden.Code(),
				"message": "the admin API is not enabled",
			})
			return
		}
		got := c.GetHeader("X-Admin-Api-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   apperr.Unauthorized.Code(),
				"message": "a valid admin API key is required (X-Admin-Api-Key)",
			})
			return
		}
		c.Next()
	}
}
