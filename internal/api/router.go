package api

import (
	"github.com/gin-gonic/gin"

	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/httpapi"
	"github.com/xpadev-net/youtube-lifecycle-notifier/internal/log"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// APIKey protects /api/v1. The admin API is not mounted when empty.
	APIKey string
	// Limiter rate limits /api/v1 when set.
	Limiter *httpapi.RateLimiter
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger())

	// WebSub callback, called by the hub
	router.GET("/youtube_callback", h.VerifyIntent)
	router.POST("/youtube_callback", h.ReceiveFeed)

	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)
	router.GET("/help/youtube", h.Help)
	if h.metrics != nil {
		router.GET("/metrics", h.Metrics())
	}

	if cfg.APIKey == "" {
		log.Warn("API_KEY is not set, admin API disabled")
		return router
	}

	v1 := router.Group("/api/v1")
	v1.Use(httpapi.APIKeyAuth(cfg.APIKey))
	if cfg.Limiter != nil {
		v1.Use(cfg.Limiter.Middleware())
	}
	{
		v1.GET("/channels", h.ListChannels)
		v1.PUT("/channels/:subject", h.SetChannel)
		v1.DELETE("/channels/:subject", h.DeleteChannel)
		v1.GET("/broadcasts", h.ListBroadcasts)
		v1.POST("/reconcile", h.Reconcile)
	}
	return router
}
