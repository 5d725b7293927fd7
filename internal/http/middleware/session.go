package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/session"
)

const sessionUserKey = "sessionUserID"

// SessionAuth validates the end-user session token on platform-facing routes.
type SessionAuth struct {
	Sessions *session.Generator
}

// ValidateSession ensures the request carries a valid platform session.
func (m *SessionAuth) ValidateSession(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   domain.CodeUnauthorized,
			"message": "Authorization header required.",
		})
		return
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   domain.CodeUnauthorized,
			"message": "Bearer token required.",
		})
		return
	}

	std, _, err := m.Sessions.Validate(c.Request.Context(), strings.TrimSpace(token))
	if err != nil || std.Subject == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   domain.CodeUnauthorized,
			"message": "Invalid session token.",
		})
		return
	}

	c.Set(sessionUserKey, std.Subject)
	c.Next()
}

// GetSessionUserID returns the authenticated end user's ID.
func GetSessionUserID(c *gin.Context) (string, bool) {
	value, ok := c.Get(sessionUserKey)
	if !ok {
		return "", false
	}
	userID, ok := value.(string)
	return userID, ok && userID != ""
}
