// internal/models/story.go
package models

import (
	"time"
)

// UnifiedStory 是生成管线的最终产物：
// 叙事文本 + 视觉连续性设定 + 分页镜头计划 + 词汇表
type UnifiedStory struct {
	ID         string           `json:"id"`
	Meta       StoryMeta        `json:"meta"`
	Script     Script           `json:"script"`
	VisualDef  VisualDefinition `json:"visual_definition"`
	Blueprint  SagaBlueprint    `json:"saga_blueprint"`
	Vocabulary []VocabularyItem `json:"vocabulary"`

	// Assets 由图像/音频子系统在生成后填充（本核心不写入）
	Assets map[int]PageAssets `json:"assets,omitempty"`
}

// StoryMeta 故事元数据，由 Story Writer 设置一次，此后不可变
type StoryMeta struct {
	Title     string    `json:"title"`
	Language  string    `json:"language"`
	Level     int       `json:"level"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`

	// 生成遥测：实际使用的模型，以及是否由回退模型产出
	ModelUsed         string `json:"model_used,omitempty"`
	UsedFallbackModel bool   `json:"used_fallback_model,omitempty"`
}

// Script 分页双语文本
type Script struct {
	Sentences []Sentence `json:"sentences"`
}

// Sentence 单页句子，PageIndex 从0开始、连续且唯一
type Sentence struct {
	PageIndex    int    `json:"page_index"`
	TextNative   string `json:"text_native"`
	TextEnglish  string `json:"text_english"`
	GrammarFocus string `json:"grammar_focus,omitempty"`
}

// VisualDefinition 视觉定义：风格锁 + 角色DNA + 道具 + 环境
// DNA字段一经设定即为后续所有页面的唯一事实来源
type VisualDefinition struct {
	StyleEngine string              `json:"style_engine"`
	Actors      map[string]ActorDNA `json:"actors"`
	Props       map[string]PropDef  `json:"props"`
	Environment string              `json:"environment"`
}

// ActorDNA 单个角色在整个故事期间锁定的外观描述
type ActorDNA struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Physical string `json:"physical"`
	Clothing string `json:"clothing"`
	Palette  string `json:"palette,omitempty"`
}

// PropDef 道具定义
type PropDef struct {
	Name       string `json:"name"`
	Appearance string `json:"appearance"`
}

// SagaBlueprint 分页镜头计划，Sequence 每页一项
type SagaBlueprint struct {
	Sequence []PageShot `json:"sequence"`
}

// PageShot 单页镜头描述
type PageShot struct {
	PageIndex       int               `json:"page_index"`
	Action          string            `json:"action"`
	Blocking        map[string]string `json:"blocking"`
	Zoning          string            `json:"zoning"`
	Depth           DepthPlan         `json:"depth"`
	Interaction     string            `json:"interaction,omitempty"`
	MicroExpression string            `json:"micro_expression,omitempty"`
	Dynamics        string            `json:"dynamics,omitempty"`

	// Directive 由指令编译器填充，交给下游图像后端的最终文本
	Directive string `json:"directive,omitempty"`
}

// DepthPlan 三层景深计划
type DepthPlan struct {
	Focus      string `json:"focus"`
	Midground  string `json:"midground"`
	Background string `json:"background"`
}

// VocabularyItem 词汇条目
type VocabularyItem struct {
	Native  string `json:"native"`
	Meaning string `json:"meaning"`
	Type    string `json:"type,omitempty"`
}

// PageAssets 单页渲染产物路径
type PageAssets struct {
	ImagePath string `json:"image_path,omitempty"`
	AudioPath string `json:"audio_path,omitempty"`
}

// PageIndexSet 返回脚本中出现的页索引集合
func (s *Script) PageIndexSet() map[int]bool {
	set := make(map[int]bool, len(s.Sentences))
	for _, sentence := range s.Sentences {
		set[sentence.PageIndex] = true
	}
	return set
}

// PageIndexSet 返回镜头计划中出现的页索引集合
func (b *SagaBlueprint) PageIndexSet() map[int]bool {
	set := make(map[int]bool, len(b.Sequence))
	for _, shot := range b.Sequence {
		set[shot.PageIndex] = true
	}
	return set
}

// ReferencedActorIDs 返回镜头计划中所有被引用的角色ID
func (b *SagaBlueprint) ReferencedActorIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, shot := range b.Sequence {
		for actorID := range shot.Blocking {
			if !seen[actorID] {
				seen[actorID] = true
				ids = append(ids, actorID)
			}
		}
	}
	return ids
}
