// internal/services/story_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/Corphon/StorySproutMCP/internal/errors"
	"github.com/Corphon/StorySproutMCP/internal/models"
)

func setupStoryService(steps ...scriptedStep) *StoryService {
	llmService, _, _ := newScriptedService(steps...)
	return NewStoryService(llmService, nil)
}

// TestCreateStoryUniverse 成功路径：元数据注入与可选字段水合
func TestCreateStoryUniverse(t *testing.T) {
	service := setupStoryService(scriptedStep{text: testStoryResponse()})

	story, err := service.CreateStoryUniverse(context.Background(), StoryRequest{
		Topic: "The Lost Puppy", Level: 3, Language: "en",
	}, models.StaticCultureFor("en"))
	if err != nil {
		t.Fatalf("生成失败: %v", err)
	}

	if story.ID == "" {
		t.Fatal("故事ID应被设置")
	}
	if story.Meta.Topic != "The Lost Puppy" || story.Meta.Level != 3 || story.Meta.Language != "en" {
		t.Fatalf("元数据不符: %+v", story.Meta)
	}
	if story.Meta.CreatedAt.IsZero() {
		t.Fatal("创建时间应被设置")
	}
	if story.Vocabulary == nil || story.VisualDef.Props == nil {
		t.Fatal("可选字段应水合为空集合而不是nil")
	}
}

// TestCreateStoryUniverseFallbackTelemetry 后备模型产出时元数据记录遥测
func TestCreateStoryUniverseFallbackTelemetry(t *testing.T) {
	llmService, _, _ := newScriptedService(
		scriptedStep{err: errors.New("model is overloaded")},
		scriptedStep{text: testStoryResponse()},
	)
	service := NewStoryService(llmService, nil)
	service.SetFallbackModel("backup-model")

	story, err := service.CreateStoryUniverse(context.Background(), StoryRequest{
		Topic: "The Lost Puppy", Level: 3, Language: "en",
	}, models.StaticCultureFor("en"))
	if err != nil {
		t.Fatalf("后备模型成功不应返回错误: %v", err)
	}

	if !story.Meta.UsedFallbackModel || story.Meta.ModelUsed != "backup-model" {
		t.Fatalf("元数据应记录后备模型: %+v", story.Meta)
	}
}

// TestCreateStoryUniverseEmptyTopic 空主题是校验错误，不触达后端
func TestCreateStoryUniverseEmptyTopic(t *testing.T) {
	llmService, provider, _ := newScriptedService()
	service := NewStoryService(llmService, nil)

	_, err := service.CreateStoryUniverse(context.Background(), StoryRequest{
		Topic: "   ", Level: 2, Language: "en",
	}, models.StaticCultureFor("en"))

	if !apperrors.IsValidationError(err) {
		t.Fatalf("空主题应返回校验错误: %v", err)
	}
	if len(provider.calls) != 0 {
		t.Fatal("校验失败不应触达后端")
	}
}

// TestCreateStoryUniverseBadJSON 解析失败携带原始输出，无兜底
func TestCreateStoryUniverseBadJSON(t *testing.T) {
	rawOutput := "Sorry, I can't write that story today."
	service := setupStoryService(scriptedStep{text: rawOutput})

	_, err := service.CreateStoryUniverse(context.Background(), StoryRequest{
		Topic: "anything", Level: 1, Language: "en",
	}, models.StaticCultureFor("en"))

	if !apperrors.IsInvalidGenerationError(err) {
		t.Fatalf("错误类型不符: %v", err)
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.RawOutput != rawOutput {
		t.Fatal("invalid_generation 错误应携带原始模型输出")
	}
}

// TestCreateStoryUniverseMissingStructure script或actors缺失都是硬错误
func TestCreateStoryUniverseMissingStructure(t *testing.T) {
	cases := []struct {
		name string
		resp string
	}{
		{"缺少script", `{"visual_definition": {"actors": {"a": {"name": "A"}}}, "script": {"sentences": []}}`},
		{"缺少actors", `{"visual_definition": {"actors": {}}, "script": {"sentences": [{"page_index": 0, "text_english": "Hi."}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := setupStoryService(scriptedStep{text: tc.resp})
			_, err := service.CreateStoryUniverse(context.Background(), StoryRequest{
				Topic: "anything", Level: 1, Language: "en",
			}, models.StaticCultureFor("en"))
			if !apperrors.IsInvalidGenerationError(err) {
				t.Fatalf("结构缺失应返回 invalid_generation: %v", err)
			}
		})
	}
}

// TestCreateStoryUniverseNotReady 未就绪直接拒绝
func TestCreateStoryUniverseNotReady(t *testing.T) {
	service := NewStoryService(NewEmptyLLMService(), nil)

	_, err := service.CreateStoryUniverse(context.Background(), StoryRequest{
		Topic: "x", Level: 1, Language: "en",
	}, models.StaticCultureFor("en"))
	if !errors.Is(err, ErrLLMNotReady) {
		t.Fatalf("未就绪应返回 ErrLLMNotReady: %v", err)
	}
}

// TestStoryPromptContract 提示词携带级别、文化与主角约定
func TestStoryPromptContract(t *testing.T) {
	culture := models.StaticCultureFor("en")
	level := models.LevelConfigFor(3)

	prompt := buildStoryPrompt(StoryRequest{
		Topic:      "The Lost Puppy",
		Level:      3,
		Language:   "en",
		GenderHint: "boy",
	}, level, culture)

	required := []string{
		"Exactly 6 pages",
		"page_index 0 through 5 contiguous",
		"Protagonist: a boy",
		culture.BoyNames[0],
		"past tense, and/but connectors",
		"IMMUTABLE DNA",
	}
	for _, fragment := range required {
		if !strings.Contains(prompt, fragment) {
			t.Errorf("提示词缺少 %q", fragment)
		}
	}
	if strings.Contains(prompt, "Protagonist: a girl") {
		t.Error("boy提示下不应出现girl约定")
	}

	girlPrompt := buildStoryPrompt(StoryRequest{
		Topic: "x", Level: 3, Language: "en", GenderHint: "girl",
	}, level, culture)
	if !strings.Contains(girlPrompt, culture.GirlNames[0]) {
		t.Error("girl提示应携带女孩名列表")
	}
}

// TestStoryPromptVocabularyAdvisory 词汇约束是软性建议
func TestStoryPromptVocabularyAdvisory(t *testing.T) {
	prompt := buildStoryPrompt(StoryRequest{
		Topic: "x", Level: 2, Language: "en",
		VocabularyConstraints: []string{"puddle", "umbrella"},
	}, models.LevelConfigFor(2), models.StaticCultureFor("en"))

	if !strings.Contains(prompt, "puddle, umbrella") {
		t.Fatal("提示词应列出软性词汇目标")
	}
	if !strings.Contains(prompt, "Do not force them") {
		t.Fatal("词汇目标应标注为建议性")
	}
}
