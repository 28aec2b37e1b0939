package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"coderev/internal/logging"
	"coderev/internal/observability"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware reuses an incoming request ID or assigns a new one and
// stores it on the request context.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// AccessLogMiddleware logs each request and records it in metrics.
func AccessLogMiddleware(logger logging.Logger, metrics *observability.MetricsCollector) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)
		requestID := observability.RequestIDFromContext(c.Request.Context())

		metrics.RecordHTTPRequest(c.Request.Context(), c.Request.Method, route, status, duration)
		if status >= 500 {
			logger.Warn("[req:%s] %s %s -> %d (%v)", requestID, c.Request.Method, c.Request.URL.Path, status, duration)
			return
		}
		logger.Info("[req:%s] %s %s -> %d (%v)", requestID, c.Request.Method, c.Request.URL.Path, status, duration)
	}
}
