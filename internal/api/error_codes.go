// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"

	// 故事生成相关错误
	ErrorStoryNotFound       = "STORY_NOT_FOUND"
	ErrorStoryInvalid        = "STORY_INVALID"
	ErrorGenerationFailed    = "GENERATION_FAILED"
	ErrorGenerationTimeout   = "GENERATION_TIMEOUT"
	ErrorInvalidGeneration   = "INVALID_GENERATION"
	ErrorTaskNotFound        = "TASK_NOT_FOUND"
	ErrorInvalidLevel        = "INVALID_LEVEL"
	ErrorTopicMissing        = "TOPIC_MISSING"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"

	// 配置健康相关
	ErrorConfigUnhealthy    = "CONFIG_UNHEALTHY"
	ErrorLLMProviderMissing = "LLM_PROVIDER_MISSING"
	ErrorAPIKeyMissing      = "API_KEY_MISSING"
)
