// cmd/demo/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/Corphon/StorySproutMCP/internal/llm"
	"github.com/Corphon/StorySproutMCP/internal/services"
	"github.com/Corphon/StorySproutMCP/internal/storage"
)

// 离线演示：用罐装后端跑完整条生成管线，不需要API密钥。
func main() {
	fmt.Println("🚀 StorySproutMCP Pipeline Demo (offline)")
	fmt.Println("=========================================")

	cacheDir, err := os.MkdirTemp("", "storysprout_demo_cache_*")
	if err != nil {
		log.Fatalf("创建缓存目录失败: %v", err)
	}
	defer os.RemoveAll(cacheDir)

	cache, err := storage.NewPipelineCache(cacheDir)
	if err != nil {
		log.Fatalf("初始化缓存失败: %v", err)
	}

	llmService := services.NewLLMServiceWithProvider(&cannedProvider{}, "canned")
	cultureService := services.NewCultureService(llmService, cache)
	storyService := services.NewStoryService(llmService, cultureService)
	beatService := services.NewBeatService(llmService, cache)
	pipeline := services.NewPipelineService(cultureService, storyService, beatService, nil)

	req := services.StoryRequest{
		Topic:      "The Lost Puppy",
		Premise:    "A boy finds a lost puppy and helps it find its home.",
		Level:      3,
		Language:   "en",
		GenderHint: "boy",
	}

	result, err := pipeline.Run(context.Background(), req, nil)
	if err != nil {
		log.Fatalf("管线运行失败: %v", err)
	}

	story := result.Story
	fmt.Printf("\n📖 %s (level %d, %s)\n", story.Meta.Title, story.Meta.Level, story.Meta.Language)
	fmt.Printf("   culture source: %s, beats fallback: %v\n\n", result.CultureSource, result.BeatsFallback)

	for _, sentence := range story.Script.Sentences {
		fmt.Printf("   第%d页: %s\n", sentence.PageIndex+1, sentence.TextEnglish)
	}

	fmt.Println("\n🎬 指令示例 (第1页):")
	if len(story.Blueprint.Sequence) > 0 {
		fmt.Println(indent(story.Blueprint.Sequence[0].Directive, "  "))
	}
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

// cannedProvider 根据提示词内容返回罐装JSON的离线后端
type cannedProvider struct{}

func (p *cannedProvider) Initialize(config map[string]string) error { return nil }
func (p *cannedProvider) GetName() string                           { return "canned" }
func (p *cannedProvider) GetSupportedModels() []string              { return []string{"canned-v1"} }

func (p *cannedProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	switch {
	case strings.Contains(req.Prompt, "Reconcile"):
		// 调和阶段返回无beats的响应，演示fail-safe保留草稿
		return &llm.CompletionResponse{Text: `{"note": "nothing to fix"}`}, nil
	case strings.Contains(req.Prompt, "beat sheet"):
		return &llm.CompletionResponse{Text: cannedBeats()}, nil
	case strings.Contains(req.Prompt, "story universe"):
		return &llm.CompletionResponse{Text: cannedStory()}, nil
	default:
		// 文化上下文
		return &llm.CompletionResponse{Text: `{
			"language": "en",
			"boy_names": ["Ethan", "Liam", "Noah"],
			"values": ["kindness", "responsibility"],
			"visual_motifs": ["maple trees", "red brick houses"],
			"sensory_detail": ["warm evening light"],
			"negatives": ["no brand logos"]
		}`}, nil
	}
}

func cannedStory() string {
	story := map[string]interface{}{
		"meta": map[string]string{"title": "The Lost Puppy"},
		"visual_definition": map[string]interface{}{
			"style_engine": "soft watercolor, warm palette, storybook lighting",
			"actors": map[string]interface{}{
				"ethan": map[string]string{
					"name": "Ethan", "role": "protagonist",
					"physical": "7-year-old boy, short brown hair, freckles",
					"clothing": "yellow raincoat, blue boots",
					"palette":  "yellow, blue",
				},
				"puppy": map[string]string{
					"name": "Puppy", "role": "animal",
					"physical": "small beagle puppy, floppy ears",
					"clothing": "red collar with a bone tag",
					"palette":  "brown, white",
				},
			},
			"props":       map[string]interface{}{"leash": map[string]string{"name": "Leash", "appearance": "braided red leash"}},
			"environment": "quiet suburban street, after rain, golden afternoon",
		},
		"saga_blueprint": map[string]interface{}{"sequence": cannedShots()},
		"script":         map[string]interface{}{"sentences": cannedSentences()},
		"vocabulary": []map[string]string{
			{"native": "puppy", "meaning": "a young dog", "type": "noun"},
		},
	}
	data, _ := json.Marshal(story)
	return string(data)
}

func cannedSentences() []map[string]interface{} {
	texts := []string{
		"Ethan walked home after the rain.",
		"He heard a small sound near the fence.",
		"A little puppy sat alone and wet.",
		"Ethan picked up the puppy gently.",
		"They walked down the street and asked the neighbors.",
		"The puppy ran to its happy family.",
	}
	sentences := make([]map[string]interface{}, len(texts))
	for i, text := range texts {
		sentences[i] = map[string]interface{}{
			"page_index": i, "text_native": text, "text_english": text,
		}
	}
	return sentences
}

func cannedShots() []map[string]interface{} {
	zones := []string{"zone_a", "zone_b", "zone_b", "zone_c", "zone_c", "zone_d"}
	actions := []string{
		"Ethan walks along the wet sidewalk",
		"Ethan stops and listens near the fence",
		"the puppy sits under the fence",
		"Ethan kneels and lifts the puppy",
		"Ethan carries the puppy past the houses",
		"the puppy runs to its family at the gate",
	}
	shots := make([]map[string]interface{}, len(actions))
	for i, action := range actions {
		shots[i] = map[string]interface{}{
			"page_index": i,
			"action":     action,
			"blocking":   map[string]string{"ethan": "center of frame"},
			"zoning":     zones[i],
			"depth": map[string]string{
				"focus": "ethan", "midground": "fence line", "background": "houses in soft blur",
			},
		}
	}
	return shots
}

func cannedBeats() string {
	zones := []string{"zone_a", "zone_b", "zone_b", "zone_c", "zone_c", "zone_d"}
	poses := []string{"pose_walk", "pose_point", "pose_kneel", "pose_reach", "pose_walk", "pose_smile"}
	beats := make([]map[string]interface{}, 6)
	for i := 0; i < 6; i++ {
		beats[i] = map[string]interface{}{
			"page": i + 1,
			"action": fmt.Sprintf("story moment %d", i+1),
			"zone":   zones[i],
			"layout": []map[string]interface{}{
				{"actor_id": "ethan", "pose_id": poses[i], "x": 15 + 14*i, "y": 60, "scale": 1.0},
			},
			"depth": map[string]string{
				"focus": "ethan, sharp", "midground": "street", "background": "houses, blurred",
			},
		}
	}
	sheet := map[string]interface{}{"version": "beat_sheet_v2", "beats": beats}
	data, _ := json.Marshal(sheet)
	return string(data)
}
