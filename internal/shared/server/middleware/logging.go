package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"resume-tailor/internal/shared/telemetry"
)

// quietRoutes are polled by probes and scrapers; only their failures are logged.
var quietRoutes = map[string]bool{
	"/metrics":       true,
	"/api/v1/health": true,
}

// Logging writes one request.complete line per request, tagged with the
// caller and project.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		route := c.FullPath()
		if quietRoutes[route] && status < http.StatusInternalServerError {
			return
		}

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        route,
			"status":      status,
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes_out":   c.Writer.Size(),
			"user_id":     UserIDFromContext(c),
			"project_id":  stringFromContext(c, projectIDKey),
			"client_ip":   c.ClientIP(),
		}
		if c.GetHeader("Idempotency-Key") != "" {
			fields["idempotent"] = true
		}
		if status >= http.StatusInternalServerError {
			telemetry.Warn("request.complete", fields)
			return
		}
		telemetry.Info("request.complete", fields)
	}
}
