// internal/services/beat_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Corphon/StorySproutMCP/internal/models"
	"github.com/Corphon/StorySproutMCP/internal/storage"
	"github.com/Corphon/StorySproutMCP/internal/utils"
)

// 节拍表缓存命名空间
const beatsCacheNamespace = "beats"

// DefaultBeatAttempts 生成+校验循环的默认尝试次数
const DefaultBeatAttempts = 2

// BeatOptions 节拍生成选项
type BeatOptions struct {
	Pages int `json:"pages"`
	// MaxAttempts 解析/校验失败时的重试上限，0使用默认值
	MaxAttempts int `json:"max_attempts,omitempty"`
	// SkipCache 跳过缓存读取（写入仍然执行）
	SkipCache bool `json:"skip_cache,omitempty"`
}

// BeatResult 生成结果：节拍表 + 是否兜底 + 实际尝试次数
type BeatResult struct {
	Sheet    *models.BeatSheet `json:"sheet"`
	Fallback bool              `json:"fallback"`
	Attempts int               `json:"attempts"`
}

// BeatService 节拍生成器与调和器。
// Generate 穷尽重试后降级到确定性兜底节拍表，永不失败；
// Refine 失败时原样返回草稿，同样永不失败。
type BeatService struct {
	llmService *LLMService
	cache      *storage.PipelineCache
}

// NewBeatService 创建节拍服务
func NewBeatService(llmService *LLMService, cache *storage.PipelineCache) *BeatService {
	return &BeatService{
		llmService: llmService,
		cache:      cache,
	}
}

// GenerateBeats 生成结构化节拍表。
// 每次尝试后立即校验；全部尝试失败时构建固定姿势循环的兜底表。
// 任何出口路径的节拍表都已通过校验与规范化。
func (s *BeatService) GenerateBeats(ctx context.Context, premise string, castLock models.CastLock, opts BeatOptions) *BeatResult {
	pages := opts.Pages
	if pages < 1 {
		pages = 1
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultBeatAttempts
	}

	cacheKey := beatCacheKey(premise, pages, castLock)
	if s.cache != nil && !opts.SkipCache {
		var cached models.BeatSheet
		if ok := s.cache.GetJSON(beatsCacheNamespace, cacheKey, &cached); ok {
			migrated := models.MigrateLegacyBeatSheet(&cached)
			if err := models.ValidateBeatSheet(migrated, pages); err == nil {
				return &BeatResult{Sheet: migrated, Fallback: false, Attempts: 0}
			}
			// 缓存内容已不满足校验，作废后继续生成
			s.cache.Invalidate(beatsCacheNamespace, cacheKey)
		}
	}

	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		sheet, err := s.generateOnce(ctx, premise, castLock, pages)
		if err != nil {
			utils.GetLogger().Warn("节拍生成尝试失败", map[string]interface{}{
				"attempt": attempt,
				"pages":   pages,
				"error":   err.Error(),
			})
			continue
		}

		models.NormalizeBeatSheet(sheet)
		if err := models.ValidateBeatSheet(sheet, pages); err != nil {
			utils.GetLogger().Warn("节拍表校验失败", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			continue
		}

		if s.cache != nil {
			s.cache.Put(beatsCacheNamespace, cacheKey, sheet)
		}
		return &BeatResult{Sheet: sheet, Fallback: false, Attempts: attempts}
	}

	// 兜底：固定姿势循环 + 线性移动，保证管线总有一份节拍表
	fallback := models.BuildFallbackBeatSheet(premise, pages, castLock)
	utils.GetLogger().Warn("节拍生成降级到兜底表", map[string]interface{}{
		"pages":    pages,
		"attempts": attempts,
	})
	return &BeatResult{Sheet: fallback, Fallback: true, Attempts: attempts}
}

// generateOnce 单次生成+解析
func (s *BeatService) generateOnce(ctx context.Context, premise string, castLock models.CastLock, pages int) (*models.BeatSheet, error) {
	if s.llmService == nil || !s.llmService.IsReady() {
		return nil, ErrLLMNotReady
	}

	prompt := buildBeatPrompt(premise, castLock, pages)
	result, err := s.llmService.Invoke(ctx, s.llmService.DefaultModel(), prompt, InvokeOptions{
		SystemPrompt: beatSystemPrompt,
		Temperature:  0.6,
		ForceJSON:    true,
	})
	if err != nil {
		return nil, err
	}

	cleaned := SanitizeLLMJSONResponse(result.Text)
	var sheet models.BeatSheet
	if err := json.Unmarshal([]byte(cleaned), &sheet); err != nil {
		return nil, fmt.Errorf("节拍表响应不是有效JSON: %w", err)
	}

	if sheet.Version == "" {
		sheet.Version = models.BeatSheetVersionCurrent
	}
	sheet.Premise = premise
	sheet.CastLock = castLock

	return models.MigrateLegacyBeatSheet(&sheet), nil
}

// RefineBeats 调和阶段：把叙事文本与节拍草稿并排交给后端，
// 只重写不一致的字段并补充 interaction / micro_expression。
// 任何失败（调用、解析、beats缺失、校验）都原样返回草稿。
func (s *BeatService) RefineBeats(ctx context.Context, script *models.Script, draft *models.BeatSheet, premise string) *models.BeatSheet {
	if draft == nil {
		return nil
	}
	if s.llmService == nil || !s.llmService.IsReady() || script == nil {
		return draft
	}

	prompt := buildRefinePrompt(script, draft, premise)
	result, err := s.llmService.Invoke(ctx, s.llmService.DefaultModel(), prompt, InvokeOptions{
		SystemPrompt: beatSystemPrompt,
		Temperature:  0.4,
		ForceJSON:    true,
	})
	if err != nil {
		utils.GetLogger().Warn("节拍调和调用失败，保留草稿", map[string]interface{}{
			"error": err.Error(),
		})
		return draft
	}

	cleaned := SanitizeLLMJSONResponse(result.Text)
	var refined models.BeatSheet
	if err := json.Unmarshal([]byte(cleaned), &refined); err != nil {
		utils.GetLogger().Warn("节拍调和响应不是有效JSON，保留草稿", map[string]interface{}{
			"error": err.Error(),
		})
		return draft
	}
	if len(refined.Beats) == 0 {
		return draft
	}

	refined.Version = draft.Version
	refined.Premise = draft.Premise
	refined.CastLock = draft.CastLock

	models.NormalizeBeatSheet(&refined)
	if err := models.ValidateBeatSheet(&refined, len(draft.Beats)); err != nil {
		utils.GetLogger().Warn("调和后节拍表校验失败，保留草稿", map[string]interface{}{
			"error": err.Error(),
		})
		return draft
	}

	return &refined
}

// beatCacheKey 缓存键必须覆盖全部生成输入：相同前提与页数
// 在不同阵容锁下仍是不同的节拍表
func beatCacheKey(premise string, pages int, castLock models.CastLock) string {
	return fmt.Sprintf("%s %d %s", premise, pages, castLock.Fingerprint())
}

const beatSystemPrompt = `You are a storyboard director for children's picture books. ` +
	`You plan page-by-page blocking with strict spatial discipline. ` +
	`You always respond with a single JSON object and nothing else.`

// buildBeatPrompt 构造节拍生成提示词：区位词汇 + 景深词汇 + 聚光灯规则
func buildBeatPrompt(premise string, castLock models.CastLock, pages int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `Plan a %d-page storyboard beat sheet.

Premise: %s

Spatial zone vocabulary (left to right across the frame):
- zone_a: left third
- zone_b: center-left
- zone_c: center-right
- zone_d: right third

Depth vocabulary:
- foreground: sharp focus
- midground: standard focus
- background: blurred

Spotlight rule: at most 2 actors may occupy foreground/midground at once.
A 3rd actor must be pushed to background (scale below 0.5) or omitted.
`, pages, premise)

	if castLock.MaxHumans > 0 {
		fmt.Fprintf(&sb, "\nCast lock: exactly %d humans only.", castLock.MaxHumans)
	}
	if len(castLock.AllowedRoles) > 0 {
		fmt.Fprintf(&sb, " Allowed roles: %s.", strings.Join(castLock.AllowedRoles, ", "))
	}
	if !castLock.AllowCrowds {
		sb.WriteString(" No background crowds or extra bystanders.")
	}
	if !castLock.AllowAnimals {
		sb.WriteString(" No animals unless the premise names one.")
	}

	fmt.Fprintf(&sb, `

Return ONE JSON object:
{
  "version": "%s",
  "beats": [
    {
      "page": 1,
      "action": "what happens on this page",
      "zone": "zone_a|zone_b|zone_c|zone_d",
      "layout": [
        {"actor_id": "...", "pose_id": "pose_...", "x": 0-100, "y": 0-100, "scale": 0.25-1.0, "flip": false}
      ],
      "depth": {"focus": "...", "midground": "...", "background": "..."},
      "constraints": ["at most 3 short composition constraints"]
    }
  ]
}

Hard rules:
- beats MUST contain exactly %d entries, page numbered 1 through %d in order.
- x/y are percentages of frame width/height, 0-100.
- Vary zones across pages to create visual movement.
`, models.BeatSheetVersionCurrent, pages, pages)

	return sb.String()
}

// buildRefinePrompt 构造调和提示词：剧本与草稿并排对照
func buildRefinePrompt(script *models.Script, draft *models.BeatSheet, premise string) string {
	scriptJSON, _ := json.MarshalIndent(script, "", "  ")
	draftJSON, _ := json.MarshalIndent(draft, "", "  ")

	return fmt.Sprintf(`Reconcile this storyboard beat sheet against the narrative script.

Premise: %s

Narrative script:
%s

Draft beat sheet:
%s

Tasks:
1. Detect mismatches between narrative and beats (e.g. the text says "crossing
   the road" but the beat shows a static sidewalk pose) and rewrite ONLY the
   inconsistent fields. Keep everything consistent unchanged.
2. Add an "interaction" field to each beat: the physical contact point and
   tension between actors (or actor and prop) on that page.
3. Add a "micro_expression" field to each beat: a specific, non-generic facial
   or body cue (no plain "happy"/"sad").

Return the COMPLETE corrected beat sheet as ONE JSON object in the same shape
as the draft, same page count, same page numbering.`, premise, scriptJSON, draftJSON)
}
