// internal/services/pipeline_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Corphon/StorySproutMCP/internal/errors"
	"github.com/Corphon/StorySproutMCP/internal/models"
	"github.com/Corphon/StorySproutMCP/internal/utils"
)

// 管线阶段，进度事件按此顺序推进
const (
	PhaseCulture    PipelinePhase = "culture"
	PhaseStory      PipelinePhase = "story"
	PhaseBeats      PipelinePhase = "beats"
	PhaseReconcile  PipelinePhase = "reconcile"
	PhaseDirectives PipelinePhase = "directives"
	PhaseAssemble   PipelinePhase = "assemble"
)

// PipelineService 生成编排器：
// 文化解析 → 故事写作 → 节拍生成 → 节拍调和 → 指令编译 → 装配。
// 阶段严格按依赖顺序执行，不存在乱序或投机执行。
type PipelineService struct {
	cultureService *CultureService
	storyService   *StoryService
	beatService    *BeatService
	statsService   *StatsService
	metrics        *utils.APIMetrics
}

// NewPipelineService 创建管线编排器
func NewPipelineService(culture *CultureService, story *StoryService, beats *BeatService, stats *StatsService) *PipelineService {
	return &PipelineService{
		cultureService: culture,
		storyService:   story,
		beatService:    beats,
		statsService:   stats,
		metrics:        utils.NewAPIMetrics(),
	}
}

// PipelineResult 一次完整运行的产物与降级标记
type PipelineResult struct {
	Story *models.UnifiedStory `json:"story"`
	Beats *models.BeatSheet    `json:"beats"`

	// 降级遥测：哪些阶段走了兜底路径、实际使用的模型
	CultureSource     CultureSource `json:"culture_source"`
	BeatsFallback     bool          `json:"beats_fallback"`
	ModelUsed         string        `json:"model_used"`
	UsedFallbackModel bool          `json:"used_fallback_model"`
}

// Run 执行一次完整的故事生成管线。
// tracker 可以为 nil（离线/测试场景不上报进度）。
func (s *PipelineService) Run(ctx context.Context, req StoryRequest, tracker *ProgressTracker) (*PipelineResult, error) {
	result, err := s.run(ctx, req, tracker)
	if err != nil {
		if tracker != nil {
			tracker.Fail(err.Error())
		}
		return nil, err
	}
	if tracker != nil {
		tracker.Complete(fmt.Sprintf("故事 %q 生成完成", result.Story.Meta.Title))
	}
	return result, nil
}

func (s *PipelineService) run(ctx context.Context, req StoryRequest, tracker *ProgressTracker) (*PipelineResult, error) {
	levelConfig := models.LevelConfigFor(req.Level)
	pages := levelConfig.SentenceCount

	// 阶段1：文化上下文（永不失败）
	progressPhase(tracker, 10, PhaseCulture, "解析文化上下文...")
	phaseStart := time.Now()
	cultureResult := s.cultureService.Resolve(ctx, req.Language, req.Topic, levelConfig.Level)
	s.metrics.RecordPipelinePhase(string(PhaseCulture), time.Since(phaseStart))
	if cultureResult.Source == CultureSourceStatic {
		s.metrics.RecordDegradation("culture", "static_table")
	}

	// 阶段2：故事宇宙（无兜底，失败即传播）
	progressPhase(tracker, 25, PhaseStory, "生成故事与视觉定义...")
	phaseStart = time.Now()
	story, err := s.storyService.CreateStoryUniverse(ctx, req, cultureResult.Context)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPipelinePhase(string(PhaseStory), time.Since(phaseStart))

	// 阶段3：节拍生成（穷尽重试后降级兜底，永不失败）
	progressPhase(tracker, 55, PhaseBeats, "规划分页节拍...")
	castLock := deriveCastLock(story)
	premise := req.Premise
	if strings.TrimSpace(premise) == "" {
		premise = req.Topic
	}
	phaseStart = time.Now()
	beatResult := s.beatService.GenerateBeats(ctx, premise, castLock, BeatOptions{Pages: pages})
	s.metrics.RecordPipelinePhase(string(PhaseBeats), time.Since(phaseStart))
	if beatResult.Fallback {
		s.metrics.RecordDegradation("beats", "deterministic_fallback")
	}

	// 阶段4：节拍调和（失败时保留草稿）
	progressPhase(tracker, 75, PhaseReconcile, "对照剧本调和节拍...")
	phaseStart = time.Now()
	refined := s.beatService.RefineBeats(ctx, &story.Script, beatResult.Sheet, premise)
	s.metrics.RecordPipelinePhase(string(PhaseReconcile), time.Since(phaseStart))

	// 阶段5+6：指令编译与装配
	progressPhase(tracker, 90, PhaseDirectives, "编译图像指令...")
	phaseStart = time.Now()
	assembleBlueprint(story, refined)
	s.metrics.RecordPipelinePhase(string(PhaseDirectives), time.Since(phaseStart))

	progressPhase(tracker, 95, PhaseAssemble, "装配最终产物...")
	if err := verifyStoryIntegrity(story); err != nil {
		return nil, err
	}

	s.recordTelemetry(cultureResult, story, beatResult)

	return &PipelineResult{
		Story:             story,
		Beats:             refined,
		CultureSource:     cultureResult.Source,
		BeatsFallback:     beatResult.Fallback,
		ModelUsed:         story.Meta.ModelUsed,
		UsedFallbackModel: story.Meta.UsedFallbackModel,
	}, nil
}

func progressPhase(tracker *ProgressTracker, progress int, phase PipelinePhase, message string) {
	if tracker != nil {
		tracker.UpdatePhase(progress, phase, message)
	}
}

// deriveCastLock 从视觉定义推导阵容锁：人类角色计数 + 角色清单
func deriveCastLock(story *models.UnifiedStory) models.CastLock {
	lock := models.CastLock{}
	for _, actor := range story.VisualDef.Actors {
		role := strings.ToLower(actor.Role)
		if role == "animal" {
			lock.AllowAnimals = true
			continue
		}
		lock.MaxHumans++
	}
	ids := make([]string, 0, len(story.VisualDef.Actors))
	for id := range story.VisualDef.Actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	lock.AllowedRoles = ids
	return lock
}

// assembleBlueprint 把调和后的节拍合并进镜头计划并编译每页指令。
// 节拍 Page 从1开始，对应镜头计划 PageIndex = Page-1。
func assembleBlueprint(story *models.UnifiedStory, beats *models.BeatSheet) {
	shotByPage := make(map[int]*models.PageShot, len(story.Blueprint.Sequence))
	for i := range story.Blueprint.Sequence {
		shot := &story.Blueprint.Sequence[i]
		shotByPage[shot.PageIndex] = shot
	}

	previousAction := ""
	for i := range beats.Beats {
		beat := &beats.Beats[i]
		pageIndex := beat.Page - 1

		shot, exists := shotByPage[pageIndex]
		if !exists {
			// 写作器计划缺页时由节拍补齐，保证页集合对齐
			story.Blueprint.Sequence = append(story.Blueprint.Sequence, models.PageShot{
				PageIndex: pageIndex,
				Action:    beat.Action,
			})
			shot = &story.Blueprint.Sequence[len(story.Blueprint.Sequence)-1]
			shotByPage[pageIndex] = shot
		}

		if beat.Zone != "" {
			shot.Zoning = beat.Zone
		}
		if beat.Depth.Focus != "" || beat.Depth.Midground != "" || beat.Depth.Background != "" {
			shot.Depth = beat.Depth
		}
		if beat.Interaction != "" {
			shot.Interaction = beat.Interaction
		}
		if beat.MicroExpression != "" {
			shot.MicroExpression = beat.MicroExpression
		}

		shot.Directive = CompileDirective(beat, &story.VisualDef, previousAction)
		previousAction = beat.Action
	}

	sort.Slice(story.Blueprint.Sequence, func(a, b int) bool {
		return story.Blueprint.Sequence[a].PageIndex < story.Blueprint.Sequence[b].PageIndex
	})
}

// verifyStoryIntegrity 装配后的交叉校验：
// 镜头计划页集合必须与剧本页集合一致，blocking 引用的角色必须存在
func verifyStoryIntegrity(story *models.UnifiedStory) error {
	scriptPages := story.Script.PageIndexSet()
	blueprintPages := story.Blueprint.PageIndexSet()

	for page := range scriptPages {
		if !blueprintPages[page] {
			return apperrors.NewProcessingError(
				fmt.Sprintf("镜头计划缺少第 %d 页", page), nil)
		}
	}
	for page := range blueprintPages {
		if !scriptPages[page] {
			return apperrors.NewProcessingError(
				fmt.Sprintf("镜头计划包含剧本之外的第 %d 页", page), nil)
		}
	}

	// 未定义角色的 blocking 条目直接剔除，保证引用完整性
	for i := range story.Blueprint.Sequence {
		shot := &story.Blueprint.Sequence[i]
		for actorID := range shot.Blocking {
			if _, ok := story.VisualDef.Actors[actorID]; !ok {
				utils.GetLogger().Warn("镜头计划引用了未定义的角色", map[string]interface{}{
					"story_id": story.ID,
					"page":     shot.PageIndex,
					"actor_id": actorID,
				})
				delete(shot.Blocking, actorID)
			}
		}
	}
	return nil
}

func (s *PipelineService) recordTelemetry(culture *CultureResult, story *models.UnifiedStory, beats *BeatResult) {
	if s.statsService == nil {
		return
	}
	if err := s.statsService.RecordRun(RunOutcome{
		BackendAttempts:   beats.Attempts,
		UsedFallbackModel: story.Meta.UsedFallbackModel,
		DegradedBeats:     beats.Fallback,
		StaticCulture:     culture.Source == CultureSourceStatic,
	}); err != nil {
		utils.GetLogger().Warn("遥测记录失败", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
