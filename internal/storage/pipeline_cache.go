// internal/storage/pipeline_cache.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/StorySproutMCP/internal/utils"
)

// PipelineCache 管线产物的文件缓存：
// 按命名空间分区（scripts / beats / culture），键规范化为文件名安全的slug。
// 布局: <root>/<namespace>/<slug(key)>.json
//
// 缓存是纯优化：写入失败（只读介质、权限不足）一律记日志后吞掉，
// 绝不向管线传播。
type PipelineCache struct {
	root string

	// 文件级别锁 path -> *sync.RWMutex
	fileLocks sync.Map

	// 内存热缓存
	cache        map[string]*cacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int
}

type cacheEntry struct {
	data      []byte
	timestamp time.Time
}

// NewPipelineCache 创建管线缓存，根目录创建是幂等的
func NewPipelineCache(root string) (*PipelineCache, error) {
	if err := os.MkdirAll(root, 0755); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}

	return &PipelineCache{
		root:         root,
		cache:        make(map[string]*cacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 200,
	}, nil
}

var (
	nonWordPattern     = regexp.MustCompile(`[^a-z0-9-]+`)
	multiHyphenPattern = regexp.MustCompile(`-{2,}`)
)

// SlugKey 把人类可读的键规范化为文件名安全的slug：
// 小写、空白转连字符、剔除非词字符、折叠重复连字符。幂等。
func SlugKey(key string) string {
	slug := strings.ToLower(strings.TrimSpace(key))
	slug = strings.Join(strings.Fields(slug), "-")
	slug = nonWordPattern.ReplaceAllString(slug, "")
	slug = multiHyphenPattern.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

func (pc *PipelineCache) entryPath(namespace, key string) string {
	return filepath.Join(pc.root, SlugKey(namespace), SlugKey(key)+".json")
}

func (pc *PipelineCache) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := pc.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// Get 读取缓存条目，未命中返回 (nil, false)
func (pc *PipelineCache) Get(namespace, key string) (json.RawMessage, bool) {
	fullPath := pc.entryPath(namespace, key)

	// 检查内存缓存
	pc.cacheMutex.RLock()
	if entry, exists := pc.cache[fullPath]; exists {
		if time.Since(entry.timestamp) < pc.cacheExpiry {
			pc.cacheMutex.RUnlock()
			return entry.data, true
		}
	}
	pc.cacheMutex.RUnlock()

	lock := pc.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, false
	}

	pc.updateMemCache(fullPath, content)
	return content, true
}

// GetJSON 读取并解析缓存条目到 target
func (pc *PipelineCache) GetJSON(namespace, key string, target interface{}) bool {
	raw, ok := pc.Get(namespace, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, target); err != nil {
		utils.GetLogger().Warn("缓存条目解析失败，按未命中处理", map[string]interface{}{
			"namespace": namespace,
			"key":       key,
			"error":     err.Error(),
		})
		return false
	}
	return true
}

// Put 写入缓存条目。失败只记日志，不返回错误。
func (pc *PipelineCache) Put(namespace, key string, value interface{}) {
	content, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		utils.GetLogger().Warn("缓存值序列化失败", map[string]interface{}{
			"namespace": namespace,
			"key":       key,
			"error":     err.Error(),
		})
		return
	}

	fullPath := pc.entryPath(namespace, key)

	lock := pc.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil && !os.IsExist(err) {
		utils.GetLogger().Warn("创建缓存命名空间目录失败", map[string]interface{}{
			"namespace": namespace,
			"error":     err.Error(),
		})
		return
	}

	// 原子性文件写入
	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		utils.GetLogger().Warn("缓存写入失败", map[string]interface{}{
			"path":  fullPath,
			"error": err.Error(),
		})
		return
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		utils.GetLogger().Warn("缓存落盘失败", map[string]interface{}{
			"path":  fullPath,
			"error": err.Error(),
		})
		return
	}

	pc.updateMemCache(fullPath, content)
}

// Has 检查条目是否存在
func (pc *PipelineCache) Has(namespace, key string) bool {
	_, err := os.Stat(pc.entryPath(namespace, key))
	return err == nil
}

// Invalidate 删除指定条目（文件与内存），用于内容工坊的强制重新生成
func (pc *PipelineCache) Invalidate(namespace, key string) {
	fullPath := pc.entryPath(namespace, key)

	lock := pc.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	os.Remove(fullPath)

	pc.cacheMutex.Lock()
	delete(pc.cache, fullPath)
	pc.cacheMutex.Unlock()
}

func (pc *PipelineCache) updateMemCache(path string, data []byte) {
	pc.cacheMutex.Lock()
	defer pc.cacheMutex.Unlock()

	pc.cache[path] = &cacheEntry{
		data:      data,
		timestamp: time.Now(),
	}

	// 简单的缓存大小控制：超限时删除最老的条目
	if len(pc.cache) > pc.maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for key, entry := range pc.cache {
			if oldestKey == "" || entry.timestamp.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.timestamp
			}
		}
		if oldestKey != "" {
			delete(pc.cache, oldestKey)
		}
	}
}
