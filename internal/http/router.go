package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/onesub/vendor-gateway/internal/config"
	"github.com/onesub/vendor-gateway/internal/http/handler"
	"github.com/onesub/vendor-gateway/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	authorizeHandler *handler.AuthorizeHandler,
	verifyHandler *handler.VerifyHandler,
	creditsHandler *handler.CreditsHandler,
	internalHandler *handler.InternalHandler,
	healthHandler *handler.HealthHandler,
	apiKeyAuth *middleware.APIKeyAuth,
	sessionAuth *middleware.SessionAuth,
	rateLimiter *middleware.RateLimiter,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	// Vendor routes throttle after authentication so the limiter keys on the
	// tool, not the shared egress IP. The initiate route has no vendor
	// credential and throttles by client IP.
	limit := rateLimiter.Handler()

	r.GET("/healthz", healthHandler.Healthz)

	authorize := r.Group("/authorize")
	{
		authorize.POST("/initiate", limit, sessionAuth.ValidateSession, authorizeHandler.Initiate)
		authorize.POST("/exchange", apiKeyAuth.Authenticate, limit, authorizeHandler.Exchange)
	}

	r.POST("/verify", apiKeyAuth.Authenticate, limit, verifyHandler.VerifyToken)

	tools := r.Group("/tools", apiKeyAuth.Authenticate, limit)
	{
		tools.POST("/subscriptions/verify", verifyHandler.VerifySubscription)
	}

	credits := r.Group("/credits", apiKeyAuth.Authenticate, limit)
	{
		credits.POST("/consume", creditsHandler.Consume)
	}

	internal := r.Group("/internal", middleware.InternalAuth(cfg.InternalAPISecret))
	{
		internal.POST("/billing/events", internalHandler.BillingEvent)
		internal.POST("/revocations", internalHandler.Revoke)
	}

	return r
}
