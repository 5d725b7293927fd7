package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/onesub/vendor-gateway/internal/domain"
)

// InternalSecretHeader authenticates platform-internal callers (billing and
// admin flows) hitting the revocation endpoints.
const InternalSecretHeader = "X-Internal-Secret"

// InternalAuth guards routes reserved for platform collaborators.
func InternalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(InternalSecretHeader)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   domain.CodeUnauthorized,
				"message": "Invalid internal credential.",
			})
			return
		}
		c.Next()
	}
}
