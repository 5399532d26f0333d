// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/StorySproutMCP/internal/config"
	"github.com/Corphon/StorySproutMCP/internal/di"
	"github.com/Corphon/StorySproutMCP/internal/services"
	"github.com/Corphon/StorySproutMCP/internal/storage"
	"github.com/Corphon/StorySproutMCP/internal/utils"

	// 注册LLM提供者
	_ "github.com/Corphon/StorySproutMCP/internal/llm/providers/google"
	_ "github.com/Corphon/StorySproutMCP/internal/llm/providers/openrouter"
)

// Server 抽象HTTP服务器，测试中可替换
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   Server
	stopChan chan os.Signal
}

// 全局应用单例
var instance *App

// GetApp 获取应用实例
func GetApp() *App {
	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 初始化应用：配置 → 日志 → 服务
func (a *App) Initialize(dataDir string) error {
	if err := config.InitConfig(dataDir); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	cfg := config.GetCurrentConfig()
	a.config = cfg

	if err := initLogger(cfg.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	return nil
}

// SetRouter 设置HTTP路由
func (a *App) SetRouter(router http.Handler) {
	a.router = router
}

// Run 启动HTTP服务并阻塞到收到退出信号
func (a *App) Run() error {
	if a.config == nil || a.router == nil {
		return fmt.Errorf("应用未完成初始化")
	}

	if a.server == nil {
		a.server = &http.Server{
			Addr:    ":" + a.config.Port,
			Handler: a.router,
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-a.stopChan:
	}

	utils.GetLogger().Info("正在关闭服务器", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 落盘挂起的遥测数据
	if stats, ok := di.GetContainer().Get("stats").(*services.StatsService); ok {
		stats.Flush()
	}

	return a.server.Shutdown(ctx)
}

// initLogger 初始化结构化日志，文件名带当天日期
func initLogger(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}
	logFile := filepath.Join(logDir, fmt.Sprintf("storysprout_%s.log", time.Now().Format("2006-01-02")))
	return utils.InitLogger(logFile)
}

// InitServices 按依赖顺序初始化所有服务并注册到容器。
// 依赖顺序：cache → llm → culture/story/beats → stats → pipeline。
func InitServices() error {
	container := di.GetContainer()
	cfg := config.GetCurrentConfig()

	// 1. 缓存（所有LLM调用组件的共享依赖）
	cacheRoot := cfg.CacheDir
	if cacheRoot == "" {
		cacheRoot = filepath.Join(cfg.DataDir, "cache")
	}
	cache, err := storage.NewPipelineCache(cacheRoot)
	if err != nil {
		return fmt.Errorf("初始化缓存失败: %w", err)
	}
	container.Register("cache", cache)

	// 2. 生成后端适配器。初始化失败降级为待机服务而不是中止，
	// API密钥可稍后通过设置接口补齐
	llmService, err := services.NewLLMService()
	if err != nil || llmService == nil {
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)

	// 3. 领域服务
	cultureService := services.NewCultureService(llmService, cache)
	container.Register("culture", cultureService)

	storyService := services.NewStoryService(llmService, cultureService)
	container.Register("story", storyService)

	beatService := services.NewBeatService(llmService, cache)
	container.Register("beats", beatService)

	// 4. 支撑服务
	container.Register("progress", services.NewProgressService())
	container.Register("config", services.NewConfigService())

	statsService := services.NewStatsService(cfg.DataDir)
	container.Register("stats", statsService)

	// 5. 管线编排器（依赖全部领域服务）
	pipelineService := services.NewPipelineService(cultureService, storyService, beatService, statsService)
	container.Register("pipeline", pipelineService)

	return nil
}
