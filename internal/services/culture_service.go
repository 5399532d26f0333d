// internal/services/culture_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/StorySproutMCP/internal/errors"
	"github.com/Corphon/StorySproutMCP/internal/models"
	"github.com/Corphon/StorySproutMCP/internal/storage"
	"github.com/Corphon/StorySproutMCP/internal/utils"
)

// 文化上下文的缓存命名空间
const cultureCacheNamespace = "culture"

// CultureSource 标记文化上下文的来源
type CultureSource string

const (
	CultureSourceCache     CultureSource = "cache"
	CultureSourceGenerated CultureSource = "generated"
	CultureSourceStatic    CultureSource = "static"
)

// CultureResult 解析结果及来源标记
type CultureResult struct {
	Context models.CulturalContext `json:"context"`
	Source  CultureSource          `json:"source"`
}

// CultureService 文化上下文解析器。
// Resolve 永不失败：缓存 → 生成 → 静态表，逐级降级。
type CultureService struct {
	llmService *LLMService
	cache      *storage.PipelineCache
}

// NewCultureService 创建文化上下文服务
func NewCultureService(llmService *LLMService, cache *storage.PipelineCache) *CultureService {
	return &CultureService{
		llmService: llmService,
		cache:      cache,
	}
}

// Resolve 解析指定语言/主题/级别的文化上下文。
// 返回值永远可用：任何失败路径都降级到编译期静态表。
func (s *CultureService) Resolve(ctx context.Context, language, topic string, level int) *CultureResult {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = models.DefaultCultureLanguage
	}

	cacheKey := fmt.Sprintf("%s %s %d", lang, topic, level)

	// 1. 缓存命中
	if s.cache != nil {
		var cached models.CulturalContext
		if ok := s.cache.GetJSON(cultureCacheNamespace, cacheKey, &cached); ok && cached.Language != "" {
			return &CultureResult{Context: cached, Source: CultureSourceCache}
		}
	}

	static := models.StaticCultureFor(lang)

	// 2. 生成增强：失败不阻塞，静态表兜底
	generated, err := s.generateContext(ctx, lang, topic, level)
	if err != nil {
		utils.GetLogger().Warn("文化上下文生成失败，使用静态表", map[string]interface{}{
			"language": lang,
			"error":    err.Error(),
		})
		return &CultureResult{Context: static, Source: CultureSourceStatic}
	}

	merged := models.MergeCulturalContext(static, generated)
	if s.cache != nil {
		s.cache.Put(cultureCacheNamespace, cacheKey, merged)
	}

	return &CultureResult{Context: merged, Source: CultureSourceGenerated}
}

// generateContext 调用生成后端补充文化细节
func (s *CultureService) generateContext(ctx context.Context, language, topic string, level int) (models.CulturalContext, error) {
	var empty models.CulturalContext

	if s.llmService == nil || !s.llmService.IsReady() {
		return empty, ErrLLMNotReady
	}

	prompt := buildCulturePrompt(language, topic, level)
	result, err := s.llmService.Invoke(ctx, s.llmService.DefaultModel(), prompt, InvokeOptions{
		SystemPrompt: "You are a cultural consultant for children's picture books. Respond with JSON only.",
		Temperature:  0.4,
		ForceJSON:    true,
	})
	if err != nil {
		return empty, err
	}

	cleaned := SanitizeLLMJSONResponse(result.Text)
	var generated models.CulturalContext
	if err := json.Unmarshal([]byte(cleaned), &generated); err != nil {
		return empty, apperrors.NewInvalidGenerationError("文化上下文响应不是有效JSON", result.Text, err)
	}

	generated.Language = language
	return generated, nil
}

func buildCulturePrompt(language, topic string, level int) string {
	return fmt.Sprintf(`为语言代码 "%s" 对应的文化圈生成儿童绘本创作上下文。
故事主题: %s；阅读级别: %d（1-8）。命名、价值观与感官元素应贴合该主题与年龄段。

请按以下JSON格式返回（保持字段名不变，内容使用英文描述）：
{
  "language": "%s",
  "boy_names": ["5个该文化常见的男孩名"],
  "girl_names": ["5个该文化常见的女孩名"],
  "values": ["3-5个该文化重视的儿童教育价值观"],
  "visual_motifs": ["3-5个该文化的标志性视觉元素"],
  "sensory_detail": ["3个该文化典型生活场景的感官细节"],
  "negatives": ["2-3个应避免的文化刻板印象"]
}`, language, topic, level, language)
}
