package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/http/middleware"
	"github.com/onesub/vendor-gateway/internal/service"
)

// VerifyHandler exposes the ongoing verification endpoints vendors poll.
type VerifyHandler struct {
	Verify        *service.VerifyService
	Subscriptions *service.SubscriptionService
	Logger        *zap.Logger
}

// VerifyToken re-checks a verification token against live entitlement state.
func (h *VerifyHandler) VerifyToken(c *gin.Context) {
	cred, ok := middleware.GetCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.CodeUnauthorized, "message": "API key required."})
		return
	}

	var req struct {
		VerificationToken string `json:"verificationToken"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "Invalid payload."})
		return
	}

	resp, err := h.Verify.Verify(c.Request.Context(), cred, req.VerificationToken)
	if err != nil {
		respondAPIError(c, h.Logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// VerifySubscription answers a read-only lookup keyed by user ID or email
// hash. Useful for pre-launch checks; it never mints a token.
func (h *VerifyHandler) VerifySubscription(c *gin.Context) {
	cred, ok := middleware.GetCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.CodeUnauthorized, "message": "API key required."})
		return
	}

	var req struct {
		OneSubUserID string `json:"oneSubUserId"`
		EmailSHA256  string `json:"emailSha256"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.OneSubUserID) == "" && strings.TrimSpace(req.EmailSHA256) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "oneSubUserId or emailSha256 is required."})
		return
	}

	resp, err := h.Subscriptions.VerifySubscription(c.Request.Context(), cred, req.OneSubUserID, req.EmailSHA256)
	if err != nil {
		respondAPIError(c, h.Logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
