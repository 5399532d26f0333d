// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// 生成管线错误类型
	ErrorTypeGenerationUnavailable ErrorType = "generation_unavailable"
	ErrorTypeInvalidGeneration     ErrorType = "invalid_generation"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码

	// RawOutput 保存离线诊断用的原始模型输出（仅 invalid_generation 使用）
	RawOutput string
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewTimeoutError 创建超时错误（与后端错误严格区分）
func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// NewGenerationUnavailableError 重试与模型回退耗尽后的最终失败
func NewGenerationUnavailableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeGenerationUnavailable, message, originalError)
}

// NewInvalidGenerationError 模型输出不可用且无安全降级路径。
// rawOutput 附带模型原文用于诊断。
func NewInvalidGenerationError(message string, rawOutput string, originalError error) *AppError {
	appErr := NewAppError(ErrorTypeInvalidGeneration, message, originalError)
	appErr.RawOutput = rawOutput
	return appErr
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsTimeoutError 检查是否为超时错误
func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

// IsGenerationUnavailableError 检查是否为生成服务不可用错误
func IsGenerationUnavailableError(err error) bool {
	return hasType(err, ErrorTypeGenerationUnavailable)
}

// IsInvalidGenerationError 检查是否为无效生成错误
func IsInvalidGenerationError(err error) bool {
	return hasType(err, ErrorTypeInvalidGeneration)
}

func hasType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeGenerationUnavailable:
		return "GENERATION_UNAVAILABLE"
	case ErrorTypeInvalidGeneration:
		return "INVALID_GENERATION"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
