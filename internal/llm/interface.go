// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
)

var ErrUnknownProvider = errors.New("未知的生成后端提供者")

// CompletionRequest 单次文本生成请求。
// ForceJSON 请求提供商的原生JSON输出模式；不支持的提供商忽略该标志，
// 调用方仍需对输出做JSON清洗。
type CompletionRequest struct {
	Model        string  `json:"model,omitempty"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	ForceJSON    bool    `json:"force_json,omitempty"`
}

// CompletionResponse 标准化的生成响应
type CompletionResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
}

// Provider 生成后端的最小抽象。实现方通过包init()自注册，
// 错误信息需保留上游状态码与响应体原文（重试判定依赖其文本）。
type Provider interface {
	Initialize(config map[string]string) error
	GetName() string
	GetSupportedModels() []string
	CompleteText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ProviderFactory 创建未初始化的提供者实例
type ProviderFactory func() Provider

// 注册表只在init()阶段写入，运行期只读，无需加锁
var providers = make(map[string]ProviderFactory)

// Register 注册提供者工厂，由各提供者包的init()调用
func Register(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者
func GetProvider(name string, config map[string]string) (Provider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}
