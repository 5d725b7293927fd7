package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/service"
)

// InternalHandler exposes the platform-internal revocation entrypoints.
type InternalHandler struct {
	Revocations *service.RevocationService
	Logger      *zap.Logger
}

// BillingEvent ingests a billing status transition and revokes access when the
// new status no longer grants it.
func (h *InternalHandler) BillingEvent(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
		ToolID string `json:"toolId"`
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ToolID) == "" || strings.TrimSpace(req.Status) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "userId, toolId and status are required."})
		return
	}

	status := domain.SubscriptionStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err := h.Revocations.HandleBillingEvent(c.Request.Context(), req.UserID, req.ToolID, status); err != nil {
		respondAPIError(c, h.Logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// Revoke records a manual revocation for a user/tool pair.
func (h *InternalHandler) Revoke(c *gin.Context) {
	var req struct {
		UserID string `json:"userId"`
		ToolID string `json:"toolId"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "Invalid payload."})
		return
	}

	reason := domain.RevocationReason(strings.TrimSpace(req.Reason))
	if reason == "" {
		reason = domain.ReasonManual
	}

	if err := h.Revocations.Revoke(c.Request.Context(), strings.TrimSpace(req.UserID), strings.TrimSpace(req.ToolID), reason); err != nil {
		respondAPIError(c, h.Logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
