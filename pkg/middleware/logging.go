package middleware

import (
	"time"

	"activations-controlplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger writes one line per request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("caller", Caller(c)),
		}
		zapLog := logger.WithTrace(c.Request.Context(), fields...)
		if c.Writer.Status() >= 500 {
			zapLog.Warn("request served")
			return
		}
		zapLog.Info("request served")
	}
}
