package admin_api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loyalty-reconciliation/internal/admin_api/handler"
	"github.com/loyalty-reconciliation/internal/admin_api/middleware"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
)

// setupRouter configures API routes and middleware for the admin API
func setupRouter(
	logger *slog.Logger,
	m *metrics.Metrics,
	r *gin.Engine,
	matchHandler *handler.MatchHandler,
	configHandler *handler.ConfigHandler,
	metricsHandler http.Handler,
) {
	r.Use(middleware.Recovery(logger, m))
	r.Use(middleware.Logger(logger, m))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Redress operations on matched transactions
		matches := v1.Group("/matches")
		{
			matches.POST("/force", matchHandler.ForceMatch)
			matches.GET("/:id", matchHandler.GetByID)
		}

		// Runtime provider configuration
		cfg := v1.Group("/config")
		{
			cfg.GET("/:key", configHandler.Get)
			cfg.PUT("/:key", configHandler.Set)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	r.GET("/metrics", gin.WrapH(metricsHandler))
}
