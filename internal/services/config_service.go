// internal/services/config_service.go
package services

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Corphon/StorySproutMCP/internal/config"
)

// ConfigService 提供配置管理功能
type ConfigService struct {
	// 缓存最近获取的配置，减少反复访问底层存储
	cachedConfig *config.AppConfig

	// 配置更新时间
	lastUpdated time.Time

	// 配置变更事件订阅者
	subscribers []ConfigChangeSubscriber

	// 配置历史记录
	changeHistory []ConfigChangeRecord

	// 互斥锁保护内部状态
	mu sync.RWMutex
}

// ConfigChangeSubscriber 配置变更订阅者接口
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig)
}

// ConfigChangeRecord 配置变更记录
type ConfigChangeRecord struct {
	Timestamp time.Time
	ChangedBy string
	Section   string
	OldValue  interface{}
	NewValue  interface{}
}

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	service := &ConfigService{
		lastUpdated:   time.Now(),
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, 100),
	}

	// 初始化时加载配置到缓存
	service.cachedConfig = config.GetCurrentConfig()

	return service
}

// GetCurrentConfig 获取当前配置
func (s *ConfigService) GetCurrentConfig() *config.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cachedConfig == nil {
		s.cachedConfig = config.GetCurrentConfig()
	}

	return s.cachedConfig
}

// UpdateLLMConfig 更新LLM提供商和配置
func (s *ConfigService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	s.mu.Lock()
	oldConfig := s.cachedConfig
	if oldConfig == nil {
		oldConfig = config.GetCurrentConfig()
	}
	oldProvider := oldConfig.LLMProvider
	s.mu.Unlock()

	if provider == "" {
		return errors.New("provider cannot be empty")
	}

	if _, ok := configMap["api_key"]; !ok {
		log.Println("Warning: LLM config missing api_key")
	}

	// 确保有默认模型
	if _, ok := configMap["default_model"]; !ok {
		switch provider {
		case "google":
			configMap["default_model"] = "gemini-2.5-flash"
		case "openrouter":
			configMap["default_model"] = "google/gemini-2.5-flash"
		default:
			configMap["default_model"] = "gemini-2.5-flash"
		}
	}

	// 调用底层配置更新函数
	err := config.UpdateLLMConfig(provider, configMap)
	if err == nil {
		s.mu.Lock()
		s.cachedConfig = config.GetCurrentConfig()
		newConfig := s.cachedConfig
		s.lastUpdated = time.Now()
		s.mu.Unlock()

		s.recordChange("LLM提供商", oldProvider, provider, changedBy)

		s.notifySubscribers(oldConfig, newConfig)
	}

	return err
}

// UpdateFallbackModel 更新后备模型
func (s *ConfigService) UpdateFallbackModel(model, changedBy string) error {
	s.mu.Lock()
	oldConfig := s.cachedConfig
	if oldConfig == nil {
		oldConfig = config.GetCurrentConfig()
	}
	oldModel := oldConfig.FallbackModel
	s.mu.Unlock()

	err := config.UpdateFallbackModel(model)
	if err == nil {
		s.mu.Lock()
		s.cachedConfig = config.GetCurrentConfig()
		newConfig := s.cachedConfig
		s.lastUpdated = time.Now()
		s.mu.Unlock()

		s.recordChange("后备模型", oldModel, model, changedBy)
		s.notifySubscribers(oldConfig, newConfig)
	}

	return err
}

// SaveConfig 保存当前配置
func (s *ConfigService) SaveConfig() error {
	return config.SaveConfig()
}

// GetLLMProvider 获取当前LLM提供商
func (s *ConfigService) GetLLMProvider() string {
	return s.GetCurrentConfig().LLMProvider
}

// GetLLMConfig 获取当前LLM配置副本
func (s *ConfigService) GetLLMConfig() map[string]string {
	cfg := s.GetCurrentConfig()
	configCopy := make(map[string]string, len(cfg.LLMConfig))
	for k, v := range cfg.LLMConfig {
		configCopy[k] = v
	}
	return configCopy
}

// SubscribeToChanges 订阅配置变更
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, subscriber)
}

// notifySubscribers 通知所有订阅者
func (s *ConfigService) notifySubscribers(oldConfig, newConfig *config.AppConfig) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		go subscriber.OnConfigChanged(oldConfig, newConfig)
	}
}

// GetChangeHistory 获取配置变更历史
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	history := make([]ConfigChangeRecord, limit)
	copy(history, s.changeHistory[len(s.changeHistory)-limit:])
	return history
}

// recordChange 记录配置变更
func (s *ConfigService) recordChange(section string, oldValue, newValue interface{}, changedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changeHistory = append(s.changeHistory, ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	})

	// 限制历史记录长度
	if len(s.changeHistory) > 100 {
		s.changeHistory = s.changeHistory[len(s.changeHistory)-100:]
	}
}
