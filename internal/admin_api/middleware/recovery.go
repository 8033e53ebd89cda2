package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
)

// Recovery turns a panicking admin handler into a 500 in the handler error envelope.
// It sits outside Logger, so panics are logged here with alert=true and counted as
// the admin_api "panic" event.
func Recovery(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}

			// The client went away mid-response; nothing to alert on or write back.
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				logger.Warn("Admin request aborted",
					"route", route,
					"method", c.Request.Method,
					"correlation_id", GetCorrelationID(c),
				)
				m.Inc(metrics.ProcessAdminAPI, c.Request.Method, "", "aborted")
				c.Abort()
				return
			}

			m.Inc(metrics.ProcessAdminAPI, c.Request.Method, "", "panic")
			logger.Error("Admin handler panicked",
				"error", r,
				"route", route,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"correlation_id", GetCorrelationID(c),
				"stack", string(debug.Stack()),
				"alert", true,
			)

			body := gin.H{
				"error": gin.H{
					"code":    "INTERNAL_SERVER_ERROR",
					"message": "An internal server error occurred",
				},
			}
			if id := GetCorrelationID(c); id != "" {
				body["correlation_id"] = id
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()

		c.Next()
	}
}
