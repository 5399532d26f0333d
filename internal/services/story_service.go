// internal/services/story_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/StorySproutMCP/internal/config"
	apperrors "github.com/Corphon/StorySproutMCP/internal/errors"
	"github.com/Corphon/StorySproutMCP/internal/models"
	"github.com/Corphon/StorySproutMCP/internal/utils"
)

// StoryRequest "Director+Author"单次联合调用的输入
type StoryRequest struct {
	Topic   string `json:"topic"`
	Premise string `json:"premise"`
	Level   int    `json:"level"`
	// Language ISO风格语言代码，决定双语文本的母语侧
	Language string `json:"language"`
	// GenderHint "boy"/"girl"/"child"，空串等同于"child"
	GenderHint string `json:"gender_hint,omitempty"`
	// VocabularyConstraints 软性词汇约束：自然融入，无法融入时跳过
	VocabularyConstraints []string `json:"vocabulary_constraints,omitempty"`
}

// StoryService 故事写作器：一次编排调用同时产出剧本、
// 视觉定义、分镜蓝图与词汇表
type StoryService struct {
	llmService     *LLMService
	cultureService *CultureService

	// fallbackModel 非空时覆盖全局配置的后备模型
	fallbackModel string
}

// SetFallbackModel 覆盖全局配置的后备模型
func (s *StoryService) SetFallbackModel(model string) {
	s.fallbackModel = model
}

func (s *StoryService) resolveFallbackModel() string {
	if s.fallbackModel != "" {
		return s.fallbackModel
	}
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg.FallbackModel
	}
	return ""
}

// NewStoryService 创建故事写作服务
func NewStoryService(llmService *LLMService, cultureService *CultureService) *StoryService {
	return &StoryService{
		llmService:     llmService,
		cultureService: cultureService,
	}
}

// CreateStoryUniverse 执行一次"导演+作者"联合生成。
// 解析失败或缺失结构必需字段时抛出 invalid_generation 错误并附带
// 原始输出 —— 叙事内容没有安全的静态兜底。
func (s *StoryService) CreateStoryUniverse(ctx context.Context, req StoryRequest, culture models.CulturalContext) (*models.UnifiedStory, error) {
	if s.llmService == nil || !s.llmService.IsReady() {
		return nil, ErrLLMNotReady
	}
	if strings.TrimSpace(req.Topic) == "" {
		return nil, apperrors.NewValidationError("故事主题不能为空", nil)
	}

	levelConfig := models.LevelConfigFor(req.Level)
	prompt := buildStoryPrompt(req, levelConfig, culture)

	result, err := s.llmService.Invoke(ctx, s.llmService.DefaultModel(), prompt, InvokeOptions{
		SystemPrompt:  storySystemPrompt,
		FallbackModel: s.resolveFallbackModel(),
		Temperature:   0.8,
		ForceJSON:     true,
	})
	if err != nil {
		return nil, err
	}

	story, err := parseStoryResponse(result.Text)
	if err != nil {
		return nil, err
	}

	// 元数据由写作器一次性设置，此后不再变更
	story.ID = uuid.New().String()
	story.Meta.Topic = req.Topic
	story.Meta.Language = req.Language
	story.Meta.Level = levelConfig.Level
	story.Meta.CreatedAt = time.Now()
	story.Meta.ModelUsed = result.ModelUsed
	story.Meta.UsedFallbackModel = result.IsFallback
	if story.Meta.Title == "" {
		story.Meta.Title = req.Topic
	}

	utils.GetLogger().Info("故事宇宙生成完成", map[string]interface{}{
		"story_id":  story.ID,
		"title":     story.Meta.Title,
		"sentences": len(story.Script.Sentences),
		"model":     result.ModelUsed,
		"fallback":  result.IsFallback,
	})

	return story, nil
}

// parseStoryResponse 解析并水合生成响应。
// script 与 visual_definition 是结构必需项；其余顶层字段缺失时
// 填充空默认值而不是报错。
func parseStoryResponse(raw string) (*models.UnifiedStory, error) {
	cleaned := SanitizeLLMJSONResponse(raw)

	var story models.UnifiedStory
	if err := json.Unmarshal([]byte(cleaned), &story); err != nil {
		return nil, apperrors.NewInvalidGenerationError("故事响应不是有效JSON", raw, err)
	}

	if len(story.Script.Sentences) == 0 {
		return nil, apperrors.NewInvalidGenerationError("故事响应缺少script内容", raw, nil)
	}
	if len(story.VisualDef.Actors) == 0 {
		return nil, apperrors.NewInvalidGenerationError("故事响应缺少visual_definition内容", raw, nil)
	}

	// 水合可选字段
	if story.Blueprint.Sequence == nil {
		story.Blueprint.Sequence = []models.PageShot{}
	}
	if story.Vocabulary == nil {
		story.Vocabulary = []models.VocabularyItem{}
	}
	if story.VisualDef.Props == nil {
		story.VisualDef.Props = map[string]models.PropDef{}
	}

	return &story, nil
}

const storySystemPrompt = `You are two experts in one: a picture-book ART DIRECTOR who designs ` +
	`visual continuity (character DNA, props, environment) and a bilingual children's AUTHOR ` +
	`who writes leveled prose. You always respond with a single JSON object and nothing else.`

// buildStoryPrompt 构造"导演+作者"联合提示词
func buildStoryPrompt(req StoryRequest, level models.LevelConfig, culture models.CulturalContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `Create a complete children's story universe.

Topic: %s
`, req.Topic)
	if strings.TrimSpace(req.Premise) != "" {
		fmt.Fprintf(&sb, "Premise: %s\n", req.Premise)
	}
	fmt.Fprintf(&sb, `Native language code: %s (text_native in this language, text_english always in English)
Reading level: %d of 8
Exactly %d pages, one sentence per page. Each English sentence %d-%d words.
Grammar focus: %s. Vocabulary tier: %s.
`, req.Language, level.Level, level.SentenceCount,
		level.WordCountRange[0], level.WordCountRange[1],
		level.GrammarFocus, level.VocabularyTier)

	writeProtagonistContract(&sb, req.GenderHint, culture)
	writeCultureContract(&sb, culture)

	if len(req.VocabularyConstraints) > 0 {
		fmt.Fprintf(&sb, `
Soft vocabulary goals (advisory): try to naturally incorporate these words: %s.
Skip any word that would break the story's flow. Do not force them.
`, strings.Join(req.VocabularyConstraints, ", "))
	}

	fmt.Fprintf(&sb, `
Return ONE JSON object with this exact shape:
{
  "meta": {"title": "story title"},
  "visual_definition": {
    "style_engine": "one-sentence rendering style anchor",
    "actors": {
      "actor_id": {
        "name": "character name",
        "role": "protagonist|support|animal",
        "physical": "immutable physical DNA: age, build, hair, face",
        "clothing": "immutable outfit description",
        "palette": "2-3 signature colors"
      }
    },
    "props": {"prop_id": {"name": "...", "appearance": "immutable prop DNA"}},
    "environment": "immutable setting DNA: place, time of day, weather, mood"
  },
  "saga_blueprint": {
    "sequence": [
      {
        "page_index": 0,
        "action": "what physically happens on this page",
        "blocking": {"actor_id": "where this actor is and what they do"},
        "zoning": "zone_a|zone_b|zone_c|zone_d",
        "depth": {"focus": "what is sharp", "midground": "...", "background": "..."}
      }
    ]
  },
  "script": {
    "sentences": [
      {"page_index": 0, "text_native": "...", "text_english": "...", "grammar_focus": "%s"}
    ]
  },
  "vocabulary": [
    {"native": "word in native language", "meaning": "English meaning", "type": "noun|verb|adjective"}
  ]
}

Hard rules:
- script.sentences MUST contain exactly %d entries, page_index 0 through %d contiguous.
- If the native language is English, text_native equals text_english.
- saga_blueprint.sequence MUST contain exactly %d entries matching the pages.
- Every actor_id used in blocking MUST exist in visual_definition.actors.
- visual_definition strings are IMMUTABLE DNA: never contradict them between pages.
`, level.GrammarFocus, level.SentenceCount, level.SentenceCount-1, level.SentenceCount)

	return sb.String()
}

func writeProtagonistContract(sb *strings.Builder, genderHint string, culture models.CulturalContext) {
	switch strings.ToLower(strings.TrimSpace(genderHint)) {
	case "boy":
		fmt.Fprintf(sb, "Protagonist: a boy. Pick his name from: %s.\n",
			strings.Join(culture.BoyNames, ", "))
	case "girl":
		fmt.Fprintf(sb, "Protagonist: a girl. Pick her name from: %s.\n",
			strings.Join(culture.GirlNames, ", "))
	default:
		fmt.Fprintf(sb, "Protagonist: a child; infer gender from the topic, then pick a fitting name from: %s / %s.\n",
			strings.Join(culture.BoyNames, ", "), strings.Join(culture.GirlNames, ", "))
	}
}

func writeCultureContract(sb *strings.Builder, culture models.CulturalContext) {
	fmt.Fprintf(sb, `Cultural anchors (language %s):
- Values to reflect: %s
- Visual motifs to weave in: %s
- Sensory details: %s
- Avoid: %s
`, culture.Language,
		strings.Join(culture.Values, ", "),
		strings.Join(culture.VisualMotifs, ", "),
		strings.Join(culture.SensoryDetail, ", "),
		strings.Join(culture.Negatives, ", "))
}
