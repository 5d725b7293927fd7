package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
	"github.com/onesub/vendor-gateway/internal/http/middleware"
	"github.com/onesub/vendor-gateway/internal/service"
)

// CreditsHandler exposes metered credit consumption to vendors.
type CreditsHandler struct {
	Credits *service.CreditService
	Logger  *zap.Logger
}

// Consume debits credits from a user's balance on behalf of the calling
// tool. Request and response fields are snake_case to match the vendor SDK.
func (h *CreditsHandler) Consume(c *gin.Context) {
	cred, ok := middleware.GetCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.CodeUnauthorized, "message": "API key required."})
		return
	}

	var req struct {
		UserID         string `json:"user_id"`
		Amount         int64  `json:"amount"`
		Reason         string `json:"reason"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "Invalid payload."})
		return
	}

	resp, err := h.Credits.Consume(c.Request.Context(), cred, req.UserID, req.Amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		respondAPIError(c, h.Logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
