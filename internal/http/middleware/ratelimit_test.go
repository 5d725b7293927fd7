package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/http/middleware"
)

type staticKeyRepo struct {
	creds map[string]domain.APIKeyCredential
}

func (r *staticKeyRepo) GetByHash(ctx context.Context, keyHash string) (domain.APIKeyCredential, error) {
	cred, ok := r.creds[keyHash]
	if !ok {
		return domain.APIKeyCredential{}, domain.ErrNotFound
	}
	return cred, nil
}

func (r *staticKeyRepo) GetWebhookTarget(ctx context.Context, toolID string) (domain.WebhookTarget, error) {
	return domain.WebhookTarget{}, domain.ErrNotFound
}

// The limiter runs after API key auth on vendor routes, so throttling keys
// on the tool: exhausting one tool's bucket must not affect another tool
// calling from the same client IP.
func TestRateLimiterKeysAuthenticatedCallersByTool(t *testing.T) {
	gin.SetMode(gin.TestMode)

	keyA := "sk-tool-aaaaaaaaaaaaaaaaaaaa"
	keyB := "sk-tool-bbbbbbbbbbbbbbbbbbbb"
	repo := &staticKeyRepo{creds: map[string]domain.APIKeyCredential{
		middleware.HashAPIKey(keyA): {ID: 1, ToolID: "tool_a", IsActive: true},
		middleware.HashAPIKey(keyB): {ID: 2, ToolID: "tool_b", IsActive: true},
	}}
	auth := &middleware.APIKeyAuth{Keys: repo}

	// One-request burst so the second request in a window is rejected.
	limiter := middleware.NewRateLimiter(6)

	r := gin.New()
	r.POST("/verify", auth.Authenticate, limiter.Handler(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, do(keyA))
	require.Equal(t, http.StatusTooManyRequests, do(keyA))

	// Same client IP, different tool: its own budget is untouched.
	require.Equal(t, http.StatusOK, do(keyB))
}

func TestRateLimiterFallsBackToClientIPWithoutCredential(t *testing.T) {
	gin.SetMode(gin.TestMode)

	limiter := middleware.NewRateLimiter(6)

	r := gin.New()
	r.POST("/initiate", limiter.Handler(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/initiate", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, do("10.0.0.1:1234"))
	require.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1234"))
	require.Equal(t, http.StatusOK, do("10.0.0.2:1234"))
}
