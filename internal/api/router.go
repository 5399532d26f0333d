// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Corphon/StorySproutMCP/internal/config"
	"github.com/Corphon/StorySproutMCP/internal/di"
	"github.com/Corphon/StorySproutMCP/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	pipelineService, ok := container.Get("pipeline").(*services.PipelineService)
	if !ok {
		return nil, fmt.Errorf("管线服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("配置服务未正确初始化")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	handler := NewHandler(
		pipelineService,
		progressService,
		configService,
		statsService,
		llmService,
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	// 启用CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-Request-ID")
	r.Use(cors.New(corsConfig))

	r.Use(RequestIDMiddleware())
	r.Use(RequestLogMiddleware())

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") != "https" && c.Request.Header.Get("X-Forwarded-Proto") != "" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// 健康检查
	r.GET("/health", handler.Health)

	// WebSocket 进度推送
	r.GET("/ws/progress/:id", handler.ProgressWebSocket)

	// ===============================
	// API路由
	// ===============================
	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/stories/generate", handler.GenerateStory)
		apiGroup.GET("/stories/:id", handler.GetStory)
		apiGroup.GET("/progress/:id", handler.GetProgress)

		apiGroup.GET("/settings", handler.GetSettings)
		apiGroup.PUT("/settings", handler.UpdateSettings)

		apiGroup.GET("/stats", handler.GetStats)
	}

	return r, nil
}
