// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/Corphon/StorySproutMCP/internal/errors"
	"github.com/Corphon/StorySproutMCP/internal/services"
	"github.com/Corphon/StorySproutMCP/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	PipelineService *services.PipelineService // 生成管线编排器
	ProgressService *services.ProgressService // 进度跟踪服务
	ConfigService   *services.ConfigService   // 配置服务
	StatsService    *services.StatsService    // 统计服务
	LLMService      *services.LLMService      // 生成后端适配器
	Response        *ResponseHelper           // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	pipeline *services.PipelineService,
	progress *services.ProgressService,
	configService *services.ConfigService,
	stats *services.StatsService,
	llm *services.LLMService,
) *Handler {
	return &Handler{
		PipelineService: pipeline,
		ProgressService: progress,
		ConfigService:   configService,
		StatsService:    stats,
		LLMService:      llm,
		Response:        NewResponseHelper(),
	}
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// GenerateStoryRequest 故事生成请求
type GenerateStoryRequest struct {
	Topic                 string   `json:"topic" binding:"required"`
	Premise               string   `json:"premise"`
	Level                 int      `json:"level"`
	Language              string   `json:"language"`
	Gender                string   `json:"gender"`
	VocabularyConstraints []string `json:"vocabulary_constraints"`
}

// GenerateStory 受理一次异步故事生成
// POST /api/stories/generate
func (h *Handler) GenerateStory(c *gin.Context) {
	var req GenerateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorTopicMissing, "请求格式错误或缺少主题", err.Error())
		return
	}
	if req.Level < 1 || req.Level > 8 {
		h.Response.Error(c, http.StatusBadRequest, ErrorInvalidLevel, "级别必须在1-8之间")
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}

	if ready, state := h.LLMService.GetProviderStatus(); !ready {
		h.Response.ServiceUnavailable(c, "生成服务未就绪", state)
		return
	}

	taskID := uuid.New().String()
	tracker := h.ProgressService.CreateTracker(taskID)

	storyReq := services.StoryRequest{
		Topic:                 req.Topic,
		Premise:               req.Premise,
		Level:                 req.Level,
		Language:              req.Language,
		GenderHint:            req.Gender,
		VocabularyConstraints: req.VocabularyConstraints,
	}

	// 异步执行管线，进度通过 tracker 上报
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		result, err := h.PipelineService.Run(ctx, storyReq, tracker)
		if err != nil {
			utils.GetLogger().Error("故事生成管线失败", map[string]interface{}{
				"task_id": taskID,
				"topic":   req.Topic,
				"error":   err.Error(),
			})
			taskResults.fail(taskID, err)
			return
		}

		h.storeResult(taskID, result)
	}()

	h.Response.Accepted(c, gin.H{"task_id": taskID}, "故事生成已开始")
}

// taskResults 按任务ID保存已完成的管线结果
var taskResults = newResultStore()

func (h *Handler) storeResult(taskID string, result *services.PipelineResult) {
	taskResults.put(taskID, result)
}

// GetProgress 查询任务进度
// GET /api/progress/:id
func (h *Handler) GetProgress(c *gin.Context) {
	taskID := c.Param("id")
	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务")
		return
	}

	data := gin.H{
		"task_id":  tracker.TaskID,
		"progress": tracker.Progress,
		"phase":    tracker.Phase,
		"message":  tracker.Message,
		"status":   tracker.Status,
	}
	if outcome, ok := taskResults.get(taskID); ok && outcome.result != nil {
		data["result"] = outcome.result
	}
	h.Response.Success(c, data)
}

// GetStory 获取已结束任务的故事产物。
// 任务失败时按失败原因映射状态码，而不是404。
// GET /api/stories/:id
func (h *Handler) GetStory(c *gin.Context) {
	taskID := c.Param("id")
	outcome, ok := taskResults.get(taskID)
	if !ok {
		h.Response.NotFound(c, "故事")
		return
	}
	if outcome.err != nil {
		h.respondAppError(c, outcome.err)
		return
	}
	h.Response.Success(c, outcome.result)
}

// GetSettings 获取当前设置
// GET /api/settings
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := h.ConfigService.GetCurrentConfig()

	// API密钥只回传是否已配置，不回传明文
	hasKey := cfg.LLMConfig != nil && cfg.LLMConfig["api_key"] != ""

	h.Response.Success(c, gin.H{
		"llm_provider":   cfg.LLMProvider,
		"default_model":  cfg.LLMConfig["default_model"],
		"fallback_model": cfg.FallbackModel,
		"api_key_set":    hasKey,
		"debug_mode":     cfg.DebugMode,
	})
}

// UpdateSettingsRequest 设置更新请求
type UpdateSettingsRequest struct {
	Provider      string `json:"provider"`
	APIKey        string `json:"api_key"`
	DefaultModel  string `json:"default_model"`
	FallbackModel string `json:"fallback_model"`
}

// UpdateSettings 更新LLM设置
// PUT /api/settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	if req.Provider != "" {
		configMap := h.ConfigService.GetLLMConfig()
		if req.APIKey != "" {
			configMap["api_key"] = req.APIKey
		}
		if req.DefaultModel != "" {
			configMap["default_model"] = req.DefaultModel
		}

		if err := h.ConfigService.UpdateLLMConfig(req.Provider, configMap, "api"); err != nil {
			h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "LLM配置更新失败", err.Error())
			return
		}

		// 热更新适配器
		if err := h.LLMService.UpdateProvider(req.Provider, configMap); err != nil {
			h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "提供商初始化失败", err.Error())
			return
		}
	}

	if req.FallbackModel != "" {
		if err := h.ConfigService.UpdateFallbackModel(req.FallbackModel, "api"); err != nil {
			h.Response.InternalError(c, "后备模型更新失败", err.Error())
			return
		}
	}

	h.Response.Success(c, nil, "设置已更新")
}

// GetStats 获取生成遥测统计与进程内指标
// GET /api/stats
func (h *Handler) GetStats(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"runs":    h.StatsService.GetGenerationStats(),
		"process": utils.GetMetricsCollector().Snapshot(),
	})
}

// Health 健康检查
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()

	status := "ok"
	code := http.StatusOK
	if !ready {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":       status,
		"llm_ready":    ready,
		"llm_state":    state,
		"llm_provider": h.LLMService.GetProviderName(),
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}

// 错误到响应的统一映射
func (h *Handler) respondAppError(c *gin.Context, err error) {
	switch {
	case apperrors.IsTimeoutError(err):
		h.Response.Error(c, http.StatusGatewayTimeout, ErrorGenerationTimeout, "生成调用超时", err.Error())
	case apperrors.IsGenerationUnavailableError(err):
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable, "生成后端不可用", err.Error())
	case apperrors.IsInvalidGenerationError(err):
		h.Response.Error(c, http.StatusBadGateway, ErrorInvalidGeneration, "生成内容无效", err.Error())
	case apperrors.IsValidationError(err):
		h.Response.BadRequest(c, err.Error())
	default:
		h.Response.InternalError(c, "内部错误", err.Error())
	}
}
