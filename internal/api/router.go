package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"legaldemo/internal/config"
	"legaldemo/internal/logger"
)

// NewRouter builds the gin engine with the shared middleware stack.
func NewRouter(cfg *config.Config, h *Handler, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.Tracing.ServiceName),
		RequestLogger(log.With("component", "http")),
		SecurityHeaders(),
	)
	if len(cfg.BasicConfig.CORSOrigins) > 0 {
		router.Use(CORS(cfg.BasicConfig.CORSOrigins))
	}
	h.RegisterRoutes(router, RateLimit(cfg.Demo.RateLimitPerMinute))
	return router
}
