// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 进程内指标收集器：计数器与简易直方图。
// 读多写少，计数路径用原子操作避免锁竞争。
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]*counter
	histograms map[string]*histogram
}

type counter struct {
	value int64 // 原子访问
}

// histogram 只跟踪 count/sum/min/max，够用于延迟观测
type histogram struct {
	mu    sync.Mutex
	count int64
	sum   int64
	min   int64
	max   int64
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector 返回全局指标收集器
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters:   make(map[string]*counter),
			histograms: make(map[string]*histogram),
		}
	})
	return globalMetrics
}

// AddCounter 给计数器累加。首次出现的指标走慢路径创建。
func (m *MetricsCollector) AddCounter(name string, delta int64) {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		c, exists = m.counters[name]
		if !exists {
			c = &counter{}
			m.counters[name] = c
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(&c.value, delta)
}

// IncrementCounter 计数器加一
func (m *MetricsCollector) IncrementCounter(name string) {
	m.AddCounter(name, 1)
}

// CounterValue 返回计数器当前值，未知指标返回0
func (m *MetricsCollector) CounterValue(name string) int64 {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(&c.value)
}

// RecordHistogram 记录一个观测值
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		h, exists = m.histograms[name]
		if !exists {
			h = &histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// Snapshot 返回所有指标的一致性快照
func (m *MetricsCollector) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(&c.value)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"histograms": histograms,
	}
}

// APIMetrics 面向业务层的指标门面
type APIMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewAPIMetrics 创建指标门面，底层共享全局收集器
func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// RecordAPIRequest 记录一次HTTP请求
func (am *APIMetrics) RecordAPIRequest(method, path string, statusCode int, duration time.Duration) {
	am.metrics.IncrementCounter("api_requests_total")
	am.metrics.IncrementCounter("api_requests_" + method + "_" + path)
	am.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
}

// RecordLLMRequest 记录一次生成后端调用
func (am *APIMetrics) RecordLLMRequest(provider, model string, tokensUsed int, duration time.Duration) {
	am.metrics.IncrementCounter("llm_requests_total")
	am.metrics.IncrementCounter("llm_requests_" + provider)
	am.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	am.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())

	am.logger.Debug("后端调用完成", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// RecordPipelinePhase 记录一个管线阶段的完成耗时
func (am *APIMetrics) RecordPipelinePhase(phase string, duration time.Duration) {
	am.metrics.IncrementCounter("pipeline_phases_total")
	am.metrics.IncrementCounter("pipeline_phase_" + phase)
	am.metrics.RecordHistogram("pipeline_phase_"+phase+"_ms", duration.Milliseconds())
}

// RecordDegradation 记录一次降级事件（静态文化表、确定性兜底等）
func (am *APIMetrics) RecordDegradation(component, kind string) {
	am.metrics.IncrementCounter("degradations_total")
	am.metrics.IncrementCounter("degradations_" + component + "_" + kind)

	am.logger.Warn("管线降级", map[string]interface{}{
		"component": component,
		"kind":      kind,
	})
}
