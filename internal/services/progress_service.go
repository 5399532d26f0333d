// internal/services/progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"
)

// PipelinePhase 管线阶段标识，进度事件携带类型化的阶段而非自由字符串
type PipelinePhase string

// TaskStatus 任务生命周期状态
type TaskStatus string

const (
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// ProgressUpdate 推送给订阅者的进度事件
type ProgressUpdate struct {
	Progress int           `json:"progress"` // 进度百分比 (0-100)
	Phase    PipelinePhase `json:"phase,omitempty"`
	Message  string        `json:"message"`
	Status   TaskStatus    `json:"status"`
}

// ProgressTracker 跟踪单次生成任务的进度。
// 进度只增不减；Complete/Fail 是终态，此后 Done 通道关闭。
type ProgressTracker struct {
	TaskID     string
	Progress   int
	Phase      PipelinePhase
	Message    string
	Status     TaskStatus
	StartTime  time.Time
	UpdateTime time.Time

	// Done 在任务进入终态时关闭
	Done chan struct{}

	subscribers map[chan ProgressUpdate]bool
	mutex       sync.Mutex
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 创建新的进度跟踪器，taskID 重复时返回现有追踪器
func (s *ProgressService) CreateTracker(taskID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	tracker := &ProgressTracker{
		TaskID:      taskID,
		Message:     "任务初始化中...",
		Status:      StatusRunning,
		StartTime:   time.Now(),
		UpdateTime:  time.Now(),
		Done:        make(chan struct{}),
		subscribers: make(map[chan ProgressUpdate]bool),
	}

	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// snapshotLocked 以当前字段构造一条进度事件，调用方必须持锁
func (t *ProgressTracker) snapshotLocked() ProgressUpdate {
	return ProgressUpdate{
		Progress: t.Progress,
		Phase:    t.Phase,
		Message:  t.Message,
		Status:   t.Status,
	}
}

// broadcastLocked 向所有订阅者非阻塞推送当前状态，调用方必须持锁。
// 订阅者通道已满时丢弃本条事件，慢消费者不能拖住管线。
func (t *ProgressTracker) broadcastLocked() {
	update := t.snapshotLocked()
	for subscriber := range t.subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

// UpdatePhase 进入新的管线阶段并推进进度
func (t *ProgressTracker) UpdatePhase(progress int, phase PipelinePhase, message string) {
	t.mutex.Lock()
	t.Phase = phase
	t.mutex.Unlock()
	t.UpdateProgress(progress, message)
}

// UpdateProgress 更新任务进度，进度回退会被忽略
func (t *ProgressTracker) UpdateProgress(progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if progress > t.Progress {
		t.Progress = progress
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()

	t.broadcastLocked()
}

// Complete 标记任务完成并关闭 Done 通道
func (t *ProgressTracker) Complete(message string) {
	if message == "" {
		message = "任务已完成"
	}
	t.finish(StatusCompleted, message, 100)
}

// Fail 标记任务失败并关闭 Done 通道
func (t *ProgressTracker) Fail(errorMsg string) {
	t.finish(StatusFailed, fmt.Sprintf("任务失败: %s", errorMsg), -1)
}

// finish 进入终态。progress 为负时保持现值
func (t *ProgressTracker) finish(status TaskStatus, message string, progress int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != StatusRunning {
		return
	}
	if progress >= 0 {
		t.Progress = progress
	}
	t.Message = message
	t.Status = status
	t.UpdateTime = time.Now()

	t.broadcastLocked()
	close(t.Done)
}

// Subscribe 订阅进度更新，立即收到当前状态快照
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	// 缓冲区设为10以避免阻塞
	subscriber := make(chan ProgressUpdate, 10)
	t.subscribers[subscriber] = true

	subscriber <- t.snapshotLocked()
	return subscriber
}

// Unsubscribe 取消订阅并关闭通道
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	delete(t.subscribers, subscriber)
	close(subscriber)
}

// CleanupCompletedTasks 清理已进入终态且超过 maxAge 未更新的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isFinished := tracker.Status != StatusRunning
		isOld := now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if isFinished && isOld {
			delete(s.trackers, id)
		}
	}
}
