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

// AuthorizeHandler exposes the code-issuance and code-exchange endpoints.
type AuthorizeHandler struct {
	Authorize *service.AuthorizeService
	Logger    *zap.Logger
}

// Initiate mints an authorization code for the signed-in platform user.
func (h *AuthorizeHandler) Initiate(c *gin.Context) {
	userID, ok := middleware.GetSessionUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.CodeUnauthorized, "message": "Session required."})
		return
	}

	var req struct {
		ToolID      string `json:"toolId"`
		RedirectURI string `json:"redirectUri"`
		State       string `json:"state"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.ToolID) == "" || strings.TrimSpace(req.RedirectURI) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "toolId and redirectUri are required."})
		return
	}

	resp, err := h.Authorize.Initiate(c.Request.Context(), userID, strings.TrimSpace(req.ToolID), req.RedirectURI, req.State)
	if err != nil {
		respondAPIError(c, h.Logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Exchange redeems an authorization code for the calling vendor.
func (h *AuthorizeHandler) Exchange(c *gin.Context) {
	cred, ok := middleware.GetCredential(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": domain.CodeUnauthorized, "message": "API key required."})
		return
	}

	var req struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirectUri"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "message": "Invalid payload."})
		return
	}

	resp, err := h.Authorize.Exchange(c.Request.Context(), cred, req.Code, req.RedirectURI)
	if err != nil {
		respondAPIError(c, h.Logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
