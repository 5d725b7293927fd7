package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/repository"
)

const credentialKey = "vendorCredential"

// APIKeyPrefix is the expected prefix of vendor API keys.
const APIKeyPrefix = "sk-tool-"

// APIKeyAuth validates the vendor bearer credential before any business
// logic runs.
type APIKeyAuth struct {
	Keys   repository.APIKeyRepository
	Logger *zap.Logger
}

// Authenticate resolves the presented key to its credential by SHA-256
// fingerprint and attaches it to the request.
func (m *APIKeyAuth) Authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		abortUnauthorized(c, "Authorization header required.")
		return
	}
	scheme, key, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		abortUnauthorized(c, "Bearer credential required.")
		return
	}
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, APIKeyPrefix) {
		abortUnauthorized(c, "Invalid API key format.")
		return
	}

	cred, err := m.Keys.GetByHash(c.Request.Context(), HashAPIKey(key))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && m.Logger != nil {
			m.Logger.Error("api key lookup failed", zap.Error(err))
		}
		abortUnauthorized(c, "Invalid API key.")
		return
	}
	if !cred.IsActive {
		abortUnauthorized(c, "API key is disabled.")
		return
	}

	c.Set(credentialKey, cred)
	c.Next()
}

// GetCredential exposes the authenticated vendor credential to handlers.
func GetCredential(c *gin.Context) (domain.APIKeyCredential, bool) {
	value, ok := c.Get(credentialKey)
	if !ok {
		return domain.APIKeyCredential{}, false
	}
	cred, ok := value.(domain.APIKeyCredential)
	return cred, ok
}

// HashAPIKey returns the SHA-256 hex fingerprint stored for a raw key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"valid":   false,
		"error":   domain.CodeUnauthorized,
		"message": message,
	})
}
