package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/titlesync/backend/internal/logger"
)

// CustomLoggerMiddleware logs one line per HTTP request through the
// application logger.
func CustomLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		}
		if userID, ok := c.Get("user_id"); ok {
			fields["user"] = userID
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("[API]", fields)
		case status >= 400:
			logger.Warn("[API]", fields)
		default:
			logger.Info("[API]", fields)
		}
	}
}
