package middleware

import (
	"reviewhub/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error as the JSON error body,
// unless the handler already wrote a response.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		be := errutil.From(last.Err)
		status := be.Code.HTTPStatus()
		if status >= 500 {
			zap.L().Error("request failed",
				zap.String("path", c.FullPath()),
				zap.String("code", string(be.Code)),
				zap.Error(last.Err),
			)
		}

		c.JSON(status, be.JSON())
	}
}
