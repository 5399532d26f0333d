// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/StorySproutMCP/internal/config"
	apperrors "github.com/Corphon/StorySproutMCP/internal/errors"
	"github.com/Corphon/StorySproutMCP/internal/llm"
	"github.com/Corphon/StorySproutMCP/internal/utils"
)

var ErrLLMNotReady = errors.New("llm service not ready")

const (
	// DefaultInvokeTimeout 单次 Invoke 的硬超时
	DefaultInvokeTimeout = 60 * time.Second

	// DefaultMaxAttempts 可重试失败的尝试上限
	DefaultMaxAttempts = 3

	// DefaultBackoffBase 首次退避时长，此后指数翻倍 (2s, 4s, 8s)
	DefaultBackoffBase = 2 * time.Second
)

// retryableSignatures 后端错误文本的可重试签名。
// 与上游错误消息族保持子串兼容，顺序无关。
var retryableSignatures = []string{
	"429",
	"quota",
	"Too Many Requests",
	"503",
	"overloaded",
}

// InvokeOptions 单次调用的可选参数
type InvokeOptions struct {
	SystemPrompt string
	// FallbackModel 主模型可重试失败时立即切换一次的后备模型
	FallbackModel string
	Temperature   float32
	MaxTokens     int
	// ForceJSON 请求提供商的JSON输出模式（提供商支持时）
	ForceJSON bool
}

// InvokeResult 调用结果。ModelUsed/IsFallback 供成本与质量遥测使用，
// 是返回契约的一部分而不是调用方自行推断。
type InvokeResult struct {
	Text       string `json:"text"`
	ModelUsed  string `json:"model_used"`
	IsFallback bool   `json:"is_fallback"`
	Attempts   int    `json:"attempts"`
}

// LLMService 生成后端适配器：
// 对外部文本生成能力的弹性封装 —— 超时、指数退避重试、
// 配额/过载检测、模型回退替换。
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	isReady            bool
	readyState         string
	activeDefaultModel string

	invokeTimeout time.Duration
	maxAttempts   int
	backoffBase   time.Duration
	metrics       *utils.APIMetrics

	// sleep 可注入，测试中替换以避免真实等待
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLLMService 从当前配置创建LLM服务
func NewLLMService() (*LLMService, error) {
	service := createBaseLLMService()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service, nil
	}

	if cfg.LLMProvider == "" || (cfg.LLMConfig != nil && cfg.LLMConfig["api_key"] == "") {
		service.readyState = "API key not configured"
		return service, nil
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service, nil // 返回未就绪服务而不是错误
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.activeDefaultModel = extractDefaultModel(cfg.LLMConfig)
	service.isReady = true
	service.readyState = "Ready"

	return service, nil
}

// NewEmptyLLMService 创建一个空的LLM服务实例作为后备方案
func NewEmptyLLMService() *LLMService {
	service := createBaseLLMService()
	service.providerName = "empty"
	service.readyState = "Standby Service Mode – Please configure the API key in settings"
	return service
}

// NewLLMServiceWithProvider 使用显式提供者创建服务（依赖注入，测试友好）
func NewLLMServiceWithProvider(provider llm.Provider, providerName string) *LLMService {
	service := createBaseLLMService()
	service.provider = provider
	service.providerName = providerName
	service.isReady = provider != nil
	if service.isReady {
		service.readyState = "Ready"
	}
	return service
}

func createBaseLLMService() *LLMService {
	return &LLMService{
		readyState:    "Uninitialized",
		invokeTimeout: DefaultInvokeTimeout,
		maxAttempts:   DefaultMaxAttempts,
		backoffBase:   DefaultBackoffBase,
		metrics:       utils.NewAPIMetrics(),
		sleep:         sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetSleeper 替换退避等待实现（测试专用）
func (s *LLMService) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		s.sleep = sleep
	}
}

// SetInvokeTimeout 覆盖默认调用超时
func (s *LLMService) SetInvokeTimeout(d time.Duration) {
	if d > 0 {
		s.invokeTimeout = d
	}
}

func extractDefaultModel(config map[string]string) string {
	if config == nil {
		return ""
	}
	return config["default_model"]
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	if s.IsReady() {
		return true, "Ready"
	}
	return false, s.GetReadyState()
}

// GetProviderName 返回当前提供商名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// DefaultModel 返回配置的默认模型
func (s *LLMService) DefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.activeDefaultModel
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = extractDefaultModel(providerConfig)
	s.isReady = true
	s.readyState = "Ready"

	return nil
}

// Invoke 执行一次受保护的后端调用：
//   - 整个调用与 60s 硬期限赛跑，超时返回独立的 timeout 错误类型
//   - 可重试失败（429/配额/过载/503）最多重试 DefaultMaxAttempts 次，
//     退避 2s/4s 指数递增
//   - 提供 FallbackModel 时，主模型首次可重试失败立即切换（切换本身
//     不做退避等待），之后的重试循环针对后备模型继续
//   - 不可重试错误（格式错误、鉴权失败、内容策略拒绝）不消耗重试
//     预算，立即传播
func (s *LLMService) Invoke(ctx context.Context, modelID, prompt string, opts InvokeOptions) (*InvokeResult, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, ErrLLMNotReady
	}

	invokeCtx, cancel := context.WithTimeout(ctx, s.invokeTimeout)
	defer cancel()

	req := llm.CompletionRequest{
		Model:        modelID,
		Prompt:       prompt,
		SystemPrompt: opts.SystemPrompt,
		Temperature:  opts.Temperature,
		MaxTokens:    opts.MaxTokens,
		ForceJSON:    opts.ForceJSON,
	}

	usingFallback := false
	backoffCount := 0
	started := time.Now()
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		resp, err := provider.CompleteText(invokeCtx, req)
		if err == nil {
			s.metrics.RecordLLMRequest(s.providerName, req.Model, resp.TokensUsed, time.Since(started))
			return &InvokeResult{
				Text:       resp.Text,
				ModelUsed:  req.Model,
				IsFallback: usingFallback,
				Attempts:   attempt,
			}, nil
		}

		// 超时优先于一切其他分类
		if invokeCtx.Err() != nil {
			return nil, apperrors.NewTimeoutError(
				fmt.Sprintf("生成调用超时 (model=%s)", req.Model), invokeCtx.Err())
		}

		if !IsRetryableBackendError(err) {
			return nil, err
		}

		lastErr = err
		utils.GetLogger().Warn("后端调用可重试失败", map[string]interface{}{
			"model":   req.Model,
			"attempt": attempt,
			"error":   err.Error(),
		})

		// 模型回退：只切换一次，且切换本身不等待
		if !usingFallback && opts.FallbackModel != "" && opts.FallbackModel != req.Model {
			usingFallback = true
			req.Model = opts.FallbackModel
			continue
		}

		if attempt < s.maxAttempts {
			backoffCount++
			delay := s.backoffBase * time.Duration(1<<(backoffCount-1))
			if sleepErr := s.sleep(invokeCtx, delay); sleepErr != nil {
				return nil, apperrors.NewTimeoutError(
					fmt.Sprintf("退避等待期间超时 (model=%s)", req.Model), sleepErr)
			}
		}
	}

	return nil, apperrors.NewGenerationUnavailableError(
		fmt.Sprintf("重试耗尽，生成后端不可用 (model=%s, attempts=%d)", req.Model, s.maxAttempts),
		lastErr)
}

// IsRetryableBackendError 通过子串匹配判定后端错误是否可重试。
// 签名列表是与后端错误消息族的兼容性契约，不要随意改动。
func IsRetryableBackendError(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	for _, sig := range retryableSignatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

// SanitizeLLMJSONResponse 移除LLM响应中的Markdown代码块或反引号，确保可以解析为JSON
func SanitizeLLMJSONResponse(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return cleaned
	}

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
		lower := strings.ToLower(cleaned)
		if strings.HasPrefix(lower, "json") {
			cleaned = strings.TrimSpace(cleaned[4:])
		}
		if idx := strings.LastIndex(cleaned, "```"); idx != -1 {
			cleaned = cleaned[:idx]
		}
	}

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.Trim(cleaned, "`")
	cleaned = strings.TrimSpace(cleaned)

	// 宽容处理前后带解说文字的响应：截取最外层JSON对象/数组
	if cleaned != "" && cleaned[0] != '{' && cleaned[0] != '[' {
		if start := strings.Index(cleaned, "{"); start >= 0 {
			if end := strings.LastIndex(cleaned, "}"); end > start {
				return strings.TrimSpace(cleaned[start : end+1])
			}
		}
		if start := strings.Index(cleaned, "["); start >= 0 {
			if end := strings.LastIndex(cleaned, "]"); end > start {
				return strings.TrimSpace(cleaned[start : end+1])
			}
		}
	}
	return cleaned
}
