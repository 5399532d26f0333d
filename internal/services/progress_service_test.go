// internal/services/progress_service_test.go
package services

import (
	"testing"
	"time"
)

// TestCreateTrackerIdempotent 相同任务ID返回同一个追踪器
func TestCreateTrackerIdempotent(t *testing.T) {
	service := NewProgressService()

	first := service.CreateTracker("task-a")
	second := service.CreateTracker("task-a")
	if first != second {
		t.Fatal("相同任务ID应返回同一个追踪器")
	}

	got, exists := service.GetTracker("task-a")
	if !exists || got != first {
		t.Fatal("GetTracker 应返回已创建的追踪器")
	}
	if _, exists := service.GetTracker("missing"); exists {
		t.Fatal("未创建的任务不应存在")
	}
}

// TestProgressMonotonic 进度只增不减
func TestProgressMonotonic(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-b")

	tracker.UpdateProgress(50, "halfway")
	tracker.UpdateProgress(30, "trying to go back")

	if tracker.Progress != 50 {
		t.Fatalf("进度 = %d, 期望保持 50", tracker.Progress)
	}
}

// TestUpdatePhase 阶段标识随进度更新
func TestUpdatePhase(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-c")

	tracker.UpdatePhase(25, "story", "生成故事与视觉定义...")

	if tracker.Phase != "story" {
		t.Fatalf("阶段 = %q, 期望 story", tracker.Phase)
	}
	if tracker.Progress != 25 {
		t.Fatalf("进度 = %d, 期望 25", tracker.Progress)
	}
}

// TestSubscribeReceivesUpdates 订阅者收到快照与后续更新
func TestSubscribeReceivesUpdates(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-d")

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	// 订阅时立即收到当前状态快照
	select {
	case snapshot := <-updates:
		if snapshot.Status != "running" {
			t.Fatalf("快照状态 = %q, 期望 running", snapshot.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("订阅后未收到状态快照")
	}

	tracker.UpdatePhase(40, "beats", "规划分页节拍...")

	select {
	case update := <-updates:
		if update.Progress != 40 || update.Phase != "beats" {
			t.Fatalf("更新内容不符: %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到进度更新")
	}
}

// TestCompleteClosesDone 完成时关闭Done通道并锁定最终状态
func TestCompleteClosesDone(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-e")

	tracker.Complete("全部完成")

	select {
	case <-tracker.Done:
	case <-time.After(time.Second):
		t.Fatal("Complete 后 Done 通道应关闭")
	}
	if tracker.Status != "completed" || tracker.Progress != 100 {
		t.Fatalf("最终状态不符: status=%q progress=%d", tracker.Status, tracker.Progress)
	}
}

// TestFailClosesDone 失败同样关闭Done通道
func TestFailClosesDone(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-f")

	tracker.Fail("后端不可用")

	select {
	case <-tracker.Done:
	case <-time.After(time.Second):
		t.Fatal("Fail 后 Done 通道应关闭")
	}
	if tracker.Status != "failed" {
		t.Fatalf("状态 = %q, 期望 failed", tracker.Status)
	}
}

// TestTerminalStateIsFinal 终态之后的完成/失败调用被忽略
func TestTerminalStateIsFinal(t *testing.T) {
	service := NewProgressService()
	tracker := service.CreateTracker("task-g")

	tracker.Complete("ok")
	tracker.Fail("late failure")

	if tracker.Status != StatusCompleted {
		t.Fatalf("状态 = %q, 期望保持 completed", tracker.Status)
	}
	if tracker.Progress != 100 {
		t.Fatalf("进度 = %d, 期望保持 100", tracker.Progress)
	}
}

// TestCleanupCompletedTasks 过期的已完成任务被清理，运行中任务保留
func TestCleanupCompletedTasks(t *testing.T) {
	service := NewProgressService()

	done := service.CreateTracker("task-done")
	done.Complete("ok")
	service.CreateTracker("task-running")

	time.Sleep(5 * time.Millisecond)
	service.CleanupCompletedTasks(time.Millisecond)

	if _, exists := service.GetTracker("task-done"); exists {
		t.Fatal("过期的已完成任务应被清理")
	}
	if _, exists := service.GetTracker("task-running"); !exists {
		t.Fatal("运行中的任务不应被清理")
	}
}
