// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/Corphon/StorySproutMCP/internal/utils"
)

// api_key 落盘前加密的标记前缀，密文形如 enc:<base64>
const sealedKeyPrefix = "enc:"

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	CacheDir  string `json:"cache_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	// FallbackModel 主模型失败时切换的后备模型，空串禁用回退
	FallbackModel string `json:"fallback_model,omitempty"`
}

// Config 存储应用配置
type Config struct {
	Port         string
	GeminiAPIKey string
	DataDir      string
	CacheDir     string
	LogDir       string
	DebugMode    bool
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	// 创建配置
	config := &Config{
		Port:         getEnv("PORT", "8080"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		DataDir:      getEnvPath("DATA_DIR", "data"),
		CacheDir:     getEnvPath("CACHE_DIR", filepath.Join("data", "cache")),
		LogDir:       getEnvPath("LOG_DIR", "logs"),
		DebugMode:    getEnvBool("DEBUG_MODE", true),
	}

	// 验证API密钥
	if config.GeminiAPIKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置GEMINI_API_KEY，将需要在设置页面中配置才能使用生成功能")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// sealAPIKey 用CONFIG_SECRET加密api_key。未设置密钥时原样落盘
func sealAPIKey(key string) string {
	secret := os.Getenv("CONFIG_SECRET")
	if secret == "" || key == "" || strings.HasPrefix(key, sealedKeyPrefix) {
		return key
	}

	sealed, err := utils.Encrypt(key, secret)
	if err != nil {
		log.Printf("警告: API密钥加密失败，将以明文保存: %v", err)
		return key
	}
	return sealedKeyPrefix + sealed
}

// openAPIKey 解密落盘的api_key。解密失败时返回空串，迫使用户重新配置
func openAPIKey(stored string) string {
	if !strings.HasPrefix(stored, sealedKeyPrefix) {
		return stored
	}

	secret := os.Getenv("CONFIG_SECRET")
	if secret == "" {
		log.Println("警告: 配置文件中的API密钥已加密，但未设置CONFIG_SECRET")
		return ""
	}

	plain, err := utils.Decrypt(strings.TrimPrefix(stored, sealedKeyPrefix), secret)
	if err != nil {
		log.Printf("警告: API密钥解密失败: %v", err)
		return ""
	}
	return plain
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	// 加载基础配置
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	// 创建初始配置
	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = &AppConfig{
		Port:        baseConfig.Port,
		DataDir:     baseConfig.DataDir,
		CacheDir:    baseConfig.CacheDir,
		LogDir:      baseConfig.LogDir,
		DebugMode:   baseConfig.DebugMode,
		LLMProvider: "google", // 默认使用Gemini
		LLMConfig: map[string]string{
			"api_key":       baseConfig.GeminiAPIKey,
			"default_model": "gemini-2.5-flash",
		},
		FallbackModel: getEnv("FALLBACK_MODEL", "gemini-2.0-flash"),
	}

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 合并配置，保留文件中的LLM设置，但使用最新的基础配置
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.CacheDir = baseConfig.CacheDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode

				// 解密落盘的密钥；文件中没有时使用环境变量的密钥
				if savedConfig.LLMConfig != nil {
					savedConfig.LLMConfig["api_key"] = openAPIKey(savedConfig.LLMConfig["api_key"])
					if savedConfig.LLMConfig["api_key"] == "" {
						savedConfig.LLMConfig["api_key"] = baseConfig.GeminiAPIKey
					}
				}

				currentConfig = &savedConfig
			}
		}
	}

	// 保存初始配置到文件
	return SaveConfig()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return &AppConfig{
			Port:        baseConfig.Port,
			DataDir:     baseConfig.DataDir,
			CacheDir:    baseConfig.CacheDir,
			LogDir:      baseConfig.LogDir,
			DebugMode:   baseConfig.DebugMode,
			LLMProvider: "google",
			LLMConfig: map[string]string{
				"api_key": baseConfig.GeminiAPIKey,
			},
		}
	}

	// 返回配置的副本
	configCopy := *currentConfig
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return SaveConfig()
}

// UpdateFallbackModel 更新后备模型设置
func UpdateFallbackModel(model string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.FallbackModel = model
	return SaveConfig()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	// 落盘副本：内存中保持明文，文件中的api_key按需加密
	diskCopy := *currentConfig
	if diskCopy.LLMConfig != nil {
		llmCopy := make(map[string]string, len(diskCopy.LLMConfig))
		for k, v := range diskCopy.LLMConfig {
			llmCopy[k] = v
		}
		llmCopy["api_key"] = sealAPIKey(llmCopy["api_key"])
		diskCopy.LLMConfig = llmCopy
	}

	data, err := json.MarshalIndent(&diskCopy, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
