package middleware

import (
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error a handler attached with c.Error as the
// {"error", "code"} body.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		v := errutil.FromError(last.Err)
		status := v.Code.HTTPStatus()
		if status >= 500 {
			logger.WithTrace(c.Request.Context(),
				zap.String("path", c.FullPath()),
				zap.String("code", string(v.Code)),
			).Error("request failed", zap.Error(last.Err))
		}
		c.AbortWithStatusJSON(status, v.JSON())
	}
}
