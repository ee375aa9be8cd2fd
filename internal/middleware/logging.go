package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"llm-amnesia-go/pkg/log"
)

// RequestLogger 是一个 Gin 中间件，记录每个请求的状态码、耗时与调用方。
// 请求与响应体中包含对话内容，不写入日志。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.FullPath(),
		}
		if claims, ok := ClaimsFrom(c); ok {
			fields = append(fields, "userId", claims.UserID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		log.Infow("HTTP Request Log", fields...)
	}
}
