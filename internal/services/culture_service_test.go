// internal/services/culture_service_test.go
package services

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/Corphon/StorySproutMCP/internal/storage"
)

func setupTestCache(t *testing.T) *storage.PipelineCache {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "culture_test_*")
	if err != nil {
		t.Fatalf("创建临时目录失败: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	cache, err := storage.NewPipelineCache(tempDir)
	if err != nil {
		t.Fatalf("创建缓存失败: %v", err)
	}
	return cache
}

const cultureJSON = `{
  "boy_names": ["Arun", "Karthik"],
  "girl_names": ["Priya", "Meena"],
  "values": ["sharing food"],
  "visual_motifs": ["kolam patterns"],
  "sensory_detail": ["jasmine fragrance"],
  "negatives": ["no western suburbs"]
}`

// TestResolveGenerated 生成成功时合并静态表并写入缓存
func TestResolveGenerated(t *testing.T) {
	cache := setupTestCache(t)
	llmService, _, _ := newScriptedService(scriptedStep{text: cultureJSON})
	service := NewCultureService(llmService, cache)

	result := service.Resolve(context.Background(), "ta", "festival", 3)

	if result.Source != CultureSourceGenerated {
		t.Fatalf("来源 = %q, 期望 generated", result.Source)
	}
	if result.Context.Language != "ta" {
		t.Fatalf("语言 = %q, 期望 ta", result.Context.Language)
	}
	if len(result.Context.BoyNames) != 2 || result.Context.BoyNames[0] != "Arun" {
		t.Fatalf("生成字段未生效: %v", result.Context.BoyNames)
	}
}

// TestResolveCacheHit 第二次调用命中缓存，不再触达后端
func TestResolveCacheHit(t *testing.T) {
	cache := setupTestCache(t)
	llmService, provider, _ := newScriptedService(scriptedStep{text: cultureJSON})
	service := NewCultureService(llmService, cache)

	first := service.Resolve(context.Background(), "ta", "festival", 3)
	if first.Source != CultureSourceGenerated {
		t.Fatalf("首次来源 = %q, 期望 generated", first.Source)
	}

	second := service.Resolve(context.Background(), "ta", "festival", 3)
	if second.Source != CultureSourceCache {
		t.Fatalf("二次来源 = %q, 期望 cache", second.Source)
	}
	if len(provider.calls) != 1 {
		t.Fatalf("缓存命中后不应再调用后端, 实际调用 %d 次", len(provider.calls))
	}
	if second.Context.BoyNames[0] != first.Context.BoyNames[0] {
		t.Fatal("缓存内容与首次结果不一致")
	}
}

// TestResolveCacheKeyScope 缓存键由语言+主题+级别共同决定
func TestResolveCacheKeyScope(t *testing.T) {
	cache := setupTestCache(t)
	llmService, provider, _ := newScriptedService(
		scriptedStep{text: cultureJSON},
		scriptedStep{text: cultureJSON},
	)
	service := NewCultureService(llmService, cache)

	service.Resolve(context.Background(), "ta", "festival", 3)
	service.Resolve(context.Background(), "ta", "market day", 3)

	if len(provider.calls) != 2 {
		t.Fatalf("不同主题不应共享缓存条目, 实际调用 %d 次", len(provider.calls))
	}
}

// TestResolveStaticFallback 生成失败降级到静态表，永不失败
func TestResolveStaticFallback(t *testing.T) {
	cache := setupTestCache(t)
	llmService, _, _ := newScriptedService(
		scriptedStep{err: errors.New("API错误(401): invalid api key")},
	)
	service := NewCultureService(llmService, cache)

	result := service.Resolve(context.Background(), "ja", "school day", 2)

	if result.Source != CultureSourceStatic {
		t.Fatalf("来源 = %q, 期望 static", result.Source)
	}
	if len(result.Context.BoyNames) == 0 || len(result.Context.Values) == 0 {
		t.Fatal("静态表的必需字段不应为空")
	}
	if result.Context.Language != "ja" {
		t.Fatalf("静态表语言 = %q, 期望 ja", result.Context.Language)
	}
}

// TestResolveNotReadyFallsBack LLM未就绪时同样降级到静态表
func TestResolveNotReadyFallsBack(t *testing.T) {
	service := NewCultureService(NewEmptyLLMService(), setupTestCache(t))

	result := service.Resolve(context.Background(), "en", "anything", 1)
	if result.Source != CultureSourceStatic {
		t.Fatalf("来源 = %q, 期望 static", result.Source)
	}
}

// TestResolveUnknownLanguage 未知语言代码回退默认区域但保留语言标记
func TestResolveUnknownLanguage(t *testing.T) {
	service := NewCultureService(nil, setupTestCache(t))

	result := service.Resolve(context.Background(), "xx", "topic", 1)
	if result.Source != CultureSourceStatic {
		t.Fatalf("来源 = %q, 期望 static", result.Source)
	}
	if result.Context.Language != "xx" {
		t.Fatalf("语言 = %q, 期望保留 xx", result.Context.Language)
	}
	if len(result.Context.BoyNames) == 0 {
		t.Fatal("回退区域的名字列表不应为空")
	}
}

// TestResolveBadJSONFallsBack 响应不是JSON时降级到静态表
func TestResolveBadJSONFallsBack(t *testing.T) {
	cache := setupTestCache(t)
	llmService, _, _ := newScriptedService(scriptedStep{text: "not json at all"})
	service := NewCultureService(llmService, cache)

	result := service.Resolve(context.Background(), "es", "fiesta", 4)
	if result.Source != CultureSourceStatic {
		t.Fatalf("来源 = %q, 期望 static", result.Source)
	}
}
