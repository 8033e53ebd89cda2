package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
)

// Logger middleware logs each admin request and records its latency. Client errors
// log at WARN and server errors at ERROR so failed redress attempts stand out.
func Logger(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		statusCode := c.Writer.Status()
		m.Observe(metrics.ProcessAdminAPI, c.Request.Method, "", start)
		m.Inc(metrics.ProcessAdminAPI, c.Request.Method, "", "status_"+strconv.Itoa(statusCode))

		if raw != "" {
			path = path + "?" + raw
		}

		level := slog.LevelInfo
		switch {
		case statusCode >= http.StatusInternalServerError:
			level = slog.LevelError
		case statusCode >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		logger.Log(c.Request.Context(), level, "HTTP request",
			"correlation_id", GetCorrelationID(c),
			"method", c.Request.Method,
			"path", path,
			"route", route,
			"status", statusCode,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)
	}
}
