package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("LogsRequestDetails", func(t *testing.T) {
		var logBuffer bytes.Buffer
		testLogger := slog.New(slog.NewJSONHandler(&logBuffer, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		m := metrics.New("test", prometheus.NewRegistry())

		router := gin.New()
		router.Use(CorrelationID())
		router.Use(Logger(testLogger, m))

		router.GET("/config/:key", func(c *gin.Context) {
			c.String(http.StatusOK, "OK")
		})

		req, _ := http.NewRequest(http.MethodGet, "/config/bonus-card.base_url?verbose=1", nil)
		req.Header.Set("User-Agent", "test-agent")
		testCorrelationID := uuid.New().String()
		req.Header.Set(CorrelationIDHeader, testCorrelationID)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		logOutput := logBuffer.String()
		assert.Contains(t, logOutput, `"level":"INFO"`)
		assert.Contains(t, logOutput, `"msg":"HTTP request"`)
		assert.Contains(t, logOutput, `"method":"GET"`)
		assert.Contains(t, logOutput, `"path":"/config/bonus-card.base_url?verbose=1"`)
		assert.Contains(t, logOutput, `"route":"/config/:key"`)
		assert.Contains(t, logOutput, `"status":200`)
		assert.Contains(t, logOutput, `"latency":`)
		assert.Contains(t, logOutput, `"user_agent":"test-agent"`)
		assert.Contains(t, logOutput, `"correlation_id":"`+testCorrelationID+`"`)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues(metrics.ProcessAdminAPI, "GET", "", "status_200")))
	})

	t.Run("LevelFollowsStatus", func(t *testing.T) {
		var logBuffer bytes.Buffer
		testLogger := slog.New(slog.NewJSONHandler(&logBuffer, nil))

		router := gin.New()
		router.Use(Logger(testLogger, nil))
		router.POST("/matches/force", func(c *gin.Context) {
			c.String(http.StatusConflict, "already matched")
		})
		router.GET("/boom", func(c *gin.Context) {
			c.String(http.StatusInternalServerError, "boom")
		})

		req, _ := http.NewRequest(http.MethodPost, "/matches/force", strings.NewReader("{}"))
		router.ServeHTTP(httptest.NewRecorder(), req)
		assert.Contains(t, logBuffer.String(), `"level":"WARN"`)

		logBuffer.Reset()
		req, _ = http.NewRequest(http.MethodGet, "/boom", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
		assert.Contains(t, logBuffer.String(), `"level":"ERROR"`)
	})

	t.Run("UnmatchedRoute", func(t *testing.T) {
		var logBuffer bytes.Buffer
		testLogger := slog.New(slog.NewJSONHandler(&logBuffer, nil))

		router := gin.New()
		router.Use(Logger(testLogger, nil))

		req, _ := http.NewRequest(http.MethodGet, "/nope", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, logBuffer.String(), `"route":"unmatched"`)
	})
}
