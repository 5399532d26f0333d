// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Corphon/StorySproutMCP/internal/api"
	"github.com/Corphon/StorySproutMCP/internal/app"
	"github.com/Corphon/StorySproutMCP/internal/config"
	"github.com/Corphon/StorySproutMCP/internal/di"
)

func main() {
	log.Println("🚀 启动 StorySproutMCP 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("✅ 目录结构创建完成")

	// 3. 初始化应用（配置系统 → 日志 → 服务）
	application := app.GetApp()
	if err := application.Initialize(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	log.Println("✅ 所有服务初始化完成")

	// 4. 服务健康检查
	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 5. 设置路由（只获取服务，不创建）
	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("❌ 设置路由失败: %v", err)
	}
	application.SetRouter(router)
	log.Println("✅ 路由设置完成")

	// 6. 启动服务器
	log.Printf("🌐 服务器启动在端口 %s", baseConfig.Port)
	log.Printf("🔗 健康检查: http://localhost:%s/health", baseConfig.Port)

	if err := application.Run(); err != nil {
		log.Fatalf("❌ 服务器异常退出: %v", err)
	}
	log.Println("✅ 服务器优雅关闭完成")
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	// 检查关键服务是否已注册
	criticalServices := []string{"llm", "pipeline", "cache", "config"}

	for _, serviceName := range criticalServices {
		if !container.Has(serviceName) {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		cfg.CacheDir,
		filepath.Join(cfg.DataDir, "stats"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
