// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenerationStats 表示生成管线的使用与降级统计
type GenerationStats struct {
	TodayRuns          int            `json:"today_runs"`
	TotalRuns          int            `json:"total_runs"`
	BackendAttempts    int            `json:"backend_attempts"`
	FallbackModelRuns  int            `json:"fallback_model_runs"`
	DegradedBeatSheets int            `json:"degraded_beat_sheets"`
	StaticCultureRuns  int            `json:"static_culture_runs"`
	DailyStats         map[string]int `json:"daily_stats"`
	LastUpdated        time.Time      `json:"last_updated"`
}

// StatsService 提供生成遥测统计功能
type StatsService struct {
	BasePath    string           // 统计数据存储路径
	statsFile   string           // 统计文件名
	mutex       sync.Mutex       // 用于数据访问的互斥锁
	cachedStats *GenerationStats // 缓存的统计数据

	lastCheckDate string
	lastCheckTime time.Time

	// 批量保存控制
	isDirty      bool
	lastSaveTime time.Time
	saveInterval time.Duration
}

// NewStatsService 创建统计服务实例
func NewStatsService(dataDir string) *StatsService {
	basePath := filepath.Join(dataDir, "stats")

	// 确保统计数据目录存在
	if err := os.MkdirAll(basePath, 0755); err != nil {
		fmt.Printf("Warning: Failed to create stats directory: %v\n", err)
	}

	return &StatsService{
		BasePath:     basePath,
		statsFile:    filepath.Join(basePath, "generation_stats.json"),
		saveInterval: 30 * time.Second,
	}
}

// initStatsUnlocked 初始化统计数据（无锁版本）
func (s *StatsService) initStatsUnlocked() {
	if loadedStats, err := s.loadStats(); err == nil {
		s.resetForNewPeriod(loadedStats)
		s.cachedStats = loadedStats
		return
	}

	// 加载失败或文件不存在，创建新的统计数据
	s.cachedStats = &GenerationStats{
		DailyStats:  make(map[string]int),
		LastUpdated: time.Now(),
	}

	if err := s.saveStats(s.cachedStats); err != nil {
		fmt.Printf("警告: 保存初始统计数据失败: %v\n", err)
	}
}

// resetForNewPeriod 跨日时重置每日计数
func (s *StatsService) resetForNewPeriod(stats *GenerationStats) {
	now := time.Now()
	if now.Format("2006-01-02") != stats.LastUpdated.Format("2006-01-02") {
		stats.TodayRuns = 0
		stats.LastUpdated = now
		if err := s.saveStats(stats); err != nil {
			fmt.Printf("警告: 更新时间段统计失败: %v\n", err)
		}
	}
}

// loadStats 从文件加载统计数据
func (s *StatsService) loadStats() (*GenerationStats, error) {
	data, err := os.ReadFile(s.statsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats file: %w", err)
	}

	var stats GenerationStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats data: %w", err)
	}

	if stats.DailyStats == nil {
		stats.DailyStats = make(map[string]int)
	}

	return &stats, nil
}

// saveStats 保存统计数据到文件
func (s *StatsService) saveStats(stats *GenerationStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize stats: %w", err)
	}

	// 使用临时文件确保原子性写入
	tempFile := s.statsFile + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp stats file: %w", err)
	}

	if err := os.Rename(tempFile, s.statsFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to replace stats file: %w", err)
	}

	return nil
}

// GetGenerationStats 获取生成统计
func (s *StatsService) GetGenerationStats() *GenerationStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	// 缓存时间段检查，减少频繁的时间比较
	if s.needsPeriodUpdate() {
		s.resetForNewPeriod(s.cachedStats)
	}

	return s.createStatsCopy()
}

// needsPeriodUpdate 高效的时间段检查
func (s *StatsService) needsPeriodUpdate() bool {
	now := time.Now()

	// 如果距离上次检查不到10分钟，跳过检查
	if now.Sub(s.lastCheckTime) < 10*time.Minute {
		return false
	}

	s.lastCheckTime = now
	currentDate := now.Format("2006-01-02")
	needsUpdate := currentDate != s.lastCheckDate
	s.lastCheckDate = currentDate

	return needsUpdate
}

// createStatsCopy 创建统计数据的深度副本
func (s *StatsService) createStatsCopy() *GenerationStats {
	if s.cachedStats == nil {
		return &GenerationStats{
			DailyStats:  make(map[string]int),
			LastUpdated: time.Now(),
		}
	}

	statsCopy := *s.cachedStats
	statsCopy.DailyStats = make(map[string]int, len(s.cachedStats.DailyStats))
	maps.Copy(statsCopy.DailyStats, s.cachedStats.DailyStats)
	return &statsCopy
}

// RunOutcome 单次管线运行的遥测结果
type RunOutcome struct {
	BackendAttempts   int
	UsedFallbackModel bool
	DegradedBeats     bool
	StaticCulture     bool
}

// RecordRun 记录一次完整的管线运行
func (s *StatsService) RecordRun(outcome RunOutcome) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	now := time.Now()
	today := now.Format("2006-01-02")

	s.cachedStats.TodayRuns++
	s.cachedStats.TotalRuns++
	s.cachedStats.BackendAttempts += outcome.BackendAttempts
	if outcome.UsedFallbackModel {
		s.cachedStats.FallbackModelRuns++
	}
	if outcome.DegradedBeats {
		s.cachedStats.DegradedBeatSheets++
	}
	if outcome.StaticCulture {
		s.cachedStats.StaticCultureRuns++
	}
	s.cachedStats.DailyStats[today]++
	s.cachedStats.LastUpdated = now

	// 标记为需要保存，但不立即保存
	s.isDirty = true
	if now.Sub(s.lastSaveTime) > s.saveInterval {
		return s.saveStatsImmediate()
	}

	return nil
}

// saveStatsImmediate 立即落盘
func (s *StatsService) saveStatsImmediate() error {
	if !s.isDirty {
		return nil
	}

	if err := s.saveStats(s.cachedStats); err != nil {
		return err
	}

	s.isDirty = false
	s.lastSaveTime = time.Now()
	return nil
}

// Flush 强制保存挂起的统计数据（关闭时调用）
func (s *StatsService) Flush() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.saveStatsImmediate()
}
