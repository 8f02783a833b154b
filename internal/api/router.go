package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"faculty-status-backend/config"
	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/mw"
)

// NewRouter wires the handlers to their routes.
func NewRouter(h *Handler, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	responses := mw.NewResponseCache(cfg.CacheTTL)
	h.purge = responses.Purge
	h.cache.OnChange(func(facultycache.View) { responses.Purge() })
	caching := responses.Middleware()

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/vtop-login", h.VTOPLogin)

		api.GET("/faculty", caching, h.GetFaculty)
		api.GET("/faculty/:cabin_id", caching, h.GetFacultyCard)

		api.POST("/sessions", h.CreateSession)
		api.DELETE("/sessions/:session_id", h.DeleteSession)
		api.GET("/sessions/:session_id/subscriptions", h.GetSubscriptions)
		api.POST("/sessions/:session_id/subscriptions", h.PostSubscription)
		api.PUT("/sessions/:session_id/faculty", h.PutFaculty)
		api.PUT("/sessions/:session_id/push", h.PutPushSubscription)
		api.DELETE("/sessions/:session_id/push", h.DeletePushSubscription)

		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	r.GET("/ws/sessions/:session_id", h.StreamSession)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "loading": h.cache.Loading()})
	})

	return r
}
