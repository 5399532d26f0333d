// internal/services/pipeline_service_test.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Corphon/StorySproutMCP/internal/llm"
	"github.com/Corphon/StorySproutMCP/internal/models"
)

// routedProvider 按提示词内容分发到不同的固定响应，
// 模拟一次完整管线所需的全部后端角色
type routedProvider struct {
	storyCalls   int
	beatCalls    int
	refineCalls  int
	cultureCalls int

	// storyOverloads 故事角色前N次调用返回可重试过载错误
	storyOverloads int
}

func (p *routedProvider) Initialize(config map[string]string) error { return nil }
func (p *routedProvider) GetName() string                           { return "routed" }
func (p *routedProvider) GetSupportedModels() []string              { return nil }

func (p *routedProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var text string
	switch {
	case strings.Contains(req.Prompt, "Reconcile"):
		p.refineCalls++
		// 调和失败路径：非节拍表响应，管线应保留草稿
		text = `{"note": "nothing to fix"}`
	case strings.Contains(req.Prompt, "storyboard beat sheet"):
		p.beatCalls++
		text = testBeatsResponse(6)
	case strings.Contains(req.Prompt, "story universe"):
		p.storyCalls++
		if p.storyOverloads > 0 {
			p.storyOverloads--
			return nil, errors.New("model is overloaded")
		}
		text = testStoryResponse()
	default:
		p.cultureCalls++
		text = cultureJSON
	}
	return &llm.CompletionResponse{Text: text, ModelName: req.Model}, nil
}

func testBeatsResponse(pages int) string {
	sheet := map[string]interface{}{
		"version": models.BeatSheetVersionCurrent,
		"beats":   make([]map[string]interface{}, pages),
	}
	beats := sheet["beats"].([]map[string]interface{})
	for i := 0; i < pages; i++ {
		beats[i] = map[string]interface{}{
			"page":   i + 1,
			"action": fmt.Sprintf("beat action %d", i+1),
			"zone":   models.Zones[i%len(models.Zones)],
			"layout": []map[string]interface{}{
				{"actor_id": "ethan", "pose_id": "pose_walk", "x": 15 + 14*i, "y": 60, "scale": 1.0},
			},
			"depth": map[string]string{
				"focus": "ethan", "midground": "street", "background": "houses",
			},
		}
	}
	data, _ := json.Marshal(sheet)
	return string(data)
}

func testStoryResponse() string {
	story := map[string]interface{}{
		"meta": map[string]string{"title": "The Lost Puppy"},
		"visual_definition": map[string]interface{}{
			"style_engine": "soft watercolor",
			"actors": map[string]interface{}{
				"ethan": map[string]string{
					"name": "Ethan", "role": "protagonist",
					"physical": "7-year-old boy", "clothing": "yellow raincoat",
				},
				"puppy": map[string]string{
					"name": "Biscuit", "role": "animal",
					"physical": "small golden puppy", "clothing": "blue collar",
				},
			},
			"props": map[string]interface{}{
				"leash": map[string]string{"name": "leash", "appearance": "braided leather"},
			},
			"environment": "rainy suburban street",
		},
		"saga_blueprint": map[string]interface{}{"sequence": testSequence(6)},
		"script":         map[string]interface{}{"sentences": testSentences(6)},
		"vocabulary": []map[string]string{
			{"native": "puppy", "meaning": "puppy", "type": "noun"},
		},
	}
	data, _ := json.Marshal(story)
	return string(data)
}

func testSequence(pages int) []map[string]interface{} {
	seq := make([]map[string]interface{}, pages)
	for i := 0; i < pages; i++ {
		seq[i] = map[string]interface{}{
			"page_index": i,
			"action":     fmt.Sprintf("shot action %d", i),
			"blocking":   map[string]string{"ethan": "center frame"},
			"zoning":     models.Zones[i%len(models.Zones)],
		}
	}
	return seq
}

func testSentences(pages int) []map[string]interface{} {
	sentences := make([]map[string]interface{}, pages)
	for i := 0; i < pages; i++ {
		sentences[i] = map[string]interface{}{
			"page_index":   i,
			"text_native":  fmt.Sprintf("Sentence %d.", i),
			"text_english": fmt.Sprintf("Sentence %d.", i),
		}
	}
	return sentences
}

func setupPipeline(t *testing.T) (*PipelineService, *routedProvider) {
	t.Helper()

	cache := setupTestCache(t)
	provider := &routedProvider{}
	llmService := NewLLMServiceWithProvider(provider, "routed")

	cultureService := NewCultureService(llmService, cache)
	storyService := NewStoryService(llmService, cultureService)
	beatService := NewBeatService(llmService, cache)

	return NewPipelineService(cultureService, storyService, beatService, nil), provider
}

// TestPipelineRun 完整运行：6页剧本、页集合对齐、每页指令非空
func TestPipelineRun(t *testing.T) {
	pipeline, provider := setupPipeline(t)

	result, err := pipeline.Run(context.Background(), StoryRequest{
		Topic:      "The Lost Puppy",
		Premise:    "A boy finds a lost puppy and helps it find its home.",
		Level:      3,
		Language:   "en",
		GenderHint: "boy",
	}, nil)
	if err != nil {
		t.Fatalf("管线运行失败: %v", err)
	}

	story := result.Story
	if len(story.Script.Sentences) != 6 {
		t.Fatalf("级别3应产出6页, 实际 %d", len(story.Script.Sentences))
	}
	if story.ID == "" || story.Meta.Title != "The Lost Puppy" {
		t.Fatalf("元数据不完整: %+v", story.Meta)
	}

	// 页集合交叉校验：剧本与镜头计划完全一致
	scriptPages := story.Script.PageIndexSet()
	blueprintPages := story.Blueprint.PageIndexSet()
	if len(scriptPages) != len(blueprintPages) {
		t.Fatalf("页集合大小不一致: script=%d blueprint=%d", len(scriptPages), len(blueprintPages))
	}
	for page := range scriptPages {
		if !blueprintPages[page] {
			t.Fatalf("镜头计划缺少第 %d 页", page)
		}
	}

	// 指令编译：每页自足指令非空且携带风格锚
	for _, shot := range story.Blueprint.Sequence {
		if shot.Directive == "" {
			t.Fatalf("第 %d 页指令为空", shot.PageIndex)
		}
		if !strings.Contains(shot.Directive, "STYLE: soft watercolor") {
			t.Fatalf("第 %d 页指令缺少风格锚", shot.PageIndex)
		}
	}

	// 角色引用完整性
	for _, actorID := range story.Blueprint.ReferencedActorIDs() {
		if _, ok := story.VisualDef.Actors[actorID]; !ok {
			t.Fatalf("镜头计划引用了未定义的角色 %q", actorID)
		}
	}

	// 每个后端角色恰好被调用一次（调和失败不重试）
	if provider.cultureCalls != 1 || provider.storyCalls != 1 ||
		provider.beatCalls != 1 || provider.refineCalls != 1 {
		t.Fatalf("后端调用分布异常: %+v", provider)
	}

	if result.Beats == nil || len(result.Beats.Beats) != 6 {
		t.Fatal("结果应携带6页节拍表")
	}
	if result.BeatsFallback {
		t.Fatal("合法节拍响应不应标记为兜底")
	}
	if result.CultureSource != CultureSourceGenerated {
		t.Fatalf("文化来源 = %q, 期望 generated", result.CultureSource)
	}
}

// TestPipelineBeatsMergedIntoBlueprint 节拍字段覆盖到镜头计划
func TestPipelineBeatsMergedIntoBlueprint(t *testing.T) {
	pipeline, _ := setupPipeline(t)

	result, err := pipeline.Run(context.Background(), StoryRequest{
		Topic: "The Lost Puppy", Level: 3, Language: "en",
	}, nil)
	if err != nil {
		t.Fatalf("管线运行失败: %v", err)
	}

	for _, shot := range result.Story.Blueprint.Sequence {
		if shot.Zoning == "" {
			t.Fatalf("第 %d 页缺少区位", shot.PageIndex)
		}
		if shot.Depth.Focus == "" {
			t.Fatalf("第 %d 页缺少景深计划", shot.PageIndex)
		}
	}
}

// TestPipelineProgressPhases 进度事件按类型化阶段顺序推进到完成
func TestPipelineProgressPhases(t *testing.T) {
	pipeline, _ := setupPipeline(t)
	progressService := NewProgressService()
	tracker := progressService.CreateTracker("task-1")
	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	_, err := pipeline.Run(context.Background(), StoryRequest{
		Topic: "The Lost Puppy", Level: 3, Language: "en",
	}, tracker)
	if err != nil {
		t.Fatalf("管线运行失败: %v", err)
	}

	if tracker.Status != "completed" {
		t.Fatalf("追踪器状态 = %q, 期望 completed", tracker.Status)
	}
	if tracker.Progress != 100 {
		t.Fatalf("追踪器进度 = %d, 期望 100", tracker.Progress)
	}

	var seen []PipelinePhase
	for done := false; !done; {
		select {
		case update := <-updates:
			if update.Phase != "" && (len(seen) == 0 || seen[len(seen)-1] != update.Phase) {
				seen = append(seen, update.Phase)
			}
		default:
			done = true
		}
	}

	want := []PipelinePhase{
		PhaseCulture, PhaseStory, PhaseBeats,
		PhaseReconcile, PhaseDirectives, PhaseAssemble,
	}
	if len(seen) != len(want) {
		t.Fatalf("阶段序列 = %v, 期望 %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("第 %d 个阶段 = %q, 期望 %q", i+1, seen[i], want[i])
		}
	}
}

// TestPipelineFallbackModelTelemetry 故事阶段由后备模型产出时，
// 结果与运行统计都记录后备模型
func TestPipelineFallbackModelTelemetry(t *testing.T) {
	cache := setupTestCache(t)
	provider := &routedProvider{storyOverloads: 1}
	llmService := NewLLMServiceWithProvider(provider, "routed")

	cultureService := NewCultureService(llmService, cache)
	storyService := NewStoryService(llmService, cultureService)
	storyService.SetFallbackModel("backup-model")
	beatService := NewBeatService(llmService, cache)
	statsService := setupStatsService(t)
	pipeline := NewPipelineService(cultureService, storyService, beatService, statsService)

	result, err := pipeline.Run(context.Background(), StoryRequest{
		Topic: "The Lost Puppy", Level: 3, Language: "en",
	}, nil)
	if err != nil {
		t.Fatalf("管线运行失败: %v", err)
	}

	if !result.UsedFallbackModel || result.ModelUsed != "backup-model" {
		t.Fatalf("结果应记录后备模型: used=%v model=%q",
			result.UsedFallbackModel, result.ModelUsed)
	}
	if !result.Story.Meta.UsedFallbackModel || result.Story.Meta.ModelUsed != "backup-model" {
		t.Fatalf("故事元数据应记录后备模型: %+v", result.Story.Meta)
	}

	stats := statsService.GetGenerationStats()
	if stats.FallbackModelRuns != 1 {
		t.Fatalf("FallbackModelRuns = %d, 期望 1", stats.FallbackModelRuns)
	}
	if stats.TotalRuns != 1 {
		t.Fatalf("TotalRuns = %d, 期望 1", stats.TotalRuns)
	}
}

// TestPipelineStoryFailurePropagates 故事写作失败没有兜底，错误传播
func TestPipelineStoryFailurePropagates(t *testing.T) {
	cache := setupTestCache(t)
	// 只会被文化与故事两个阶段触达：文化失败降级，故事失败传播
	llmService, _, _ := newScriptedService(
		scriptedStep{text: cultureJSON},
		scriptedStep{text: "this is not a story json"},
	)

	cultureService := NewCultureService(llmService, cache)
	storyService := NewStoryService(llmService, cultureService)
	beatService := NewBeatService(llmService, cache)
	pipeline := NewPipelineService(cultureService, storyService, beatService, nil)

	progressService := NewProgressService()
	tracker := progressService.CreateTracker("task-2")

	_, err := pipeline.Run(context.Background(), StoryRequest{
		Topic: "anything", Level: 2, Language: "en",
	}, tracker)
	if err == nil {
		t.Fatal("故事解析失败应传播错误")
	}
	if tracker.Status != "failed" {
		t.Fatalf("追踪器状态 = %q, 期望 failed", tracker.Status)
	}
}

// TestDeriveCastLock 非动物角色计入人数上限，动物角色打开动物开关
func TestDeriveCastLock(t *testing.T) {
	story := &models.UnifiedStory{
		VisualDef: models.VisualDefinition{
			Actors: map[string]models.ActorDNA{
				"ethan": {Name: "Ethan", Role: "protagonist"},
				"mia":   {Name: "Mia", Role: "support"},
				"puppy": {Name: "Biscuit", Role: "animal"},
			},
		},
	}

	lock := deriveCastLock(story)

	if lock.MaxHumans != 2 {
		t.Fatalf("MaxHumans = %d, 期望 2", lock.MaxHumans)
	}
	if !lock.AllowAnimals {
		t.Fatal("存在动物角色时 AllowAnimals 应为 true")
	}
	if lock.AllowCrowds {
		t.Fatal("AllowCrowds 默认应为 false")
	}
	want := []string{"ethan", "mia", "puppy"}
	if len(lock.AllowedRoles) != len(want) {
		t.Fatalf("AllowedRoles = %v", lock.AllowedRoles)
	}
	for i, id := range want {
		if lock.AllowedRoles[i] != id {
			t.Fatalf("AllowedRoles 应按字典序: %v", lock.AllowedRoles)
		}
	}
}
