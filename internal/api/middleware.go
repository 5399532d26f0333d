// internal/api/middleware.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Corphon/StorySproutMCP/internal/utils"
)

// RequestIDMiddleware 为每个请求分配唯一ID，透传到响应头与日志
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestLogMiddleware 结构化记录每个请求并采集延迟指标
func RequestLogMiddleware() gin.HandlerFunc {
	metrics := utils.NewAPIMetrics()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		metrics.RecordAPIRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), elapsed)

		utils.GetLogger().Info("http request", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   elapsed.String(),
			"request_id": c.GetString("request_id"),
		})
	}
}
