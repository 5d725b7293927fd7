package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/onesub/vendor-gateway/internal/domain"
)

// respondAPIError writes the wire shape for a failed operation. Entitlement
// denials ride on a 200 because the request itself was well-formed; the vendor
// reads valid:false and the action field, not the HTTP status.
func respondAPIError(c *gin.Context, logger *zap.Logger, err error) {
	if apiErr, ok := domain.AsAPIError(err); ok {
		body := gin.H{"error": apiErr.Code}
		if apiErr.Status == http.StatusOK {
			body["valid"] = false
		}
		if apiErr.Action != "" {
			// Entitlement-state denials explain themselves via reason and
			// instruct the vendor what to do next.
			body["reason"] = apiErr.Message
			body["action"] = apiErr.Action
		} else {
			body["message"] = apiErr.Message
		}
		if len(apiErr.Details) > 0 {
			body["details"] = apiErr.Details
		}
		c.JSON(apiErr.Status, body)
		return
	}

	if logger == nil {
		logger = zap.L()
	}
	logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "SERVER_ERROR",
		"message": "Internal server error.",
	})
}
