package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware logs every HTTP request once it has been served.
func GinMiddleware(log *slog.Logger) gin.HandlerFunc {
	log = log.With("component", "http")

	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(startTime),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		if status >= http.StatusInternalServerError {
			log.ErrorContext(c.Request.Context(), "Request failed", attrs...)
			return
		}
		log.InfoContext(c.Request.Context(), "Request served", attrs...)
	}
}
