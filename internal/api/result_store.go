// internal/api/result_store.go
package api

import (
	"sync"

	"github.com/Corphon/StorySproutMCP/internal/services"
)

// taskOutcome 一次异步生成的终态：产物或失败原因，二者取一
type taskOutcome struct {
	result *services.PipelineResult
	err    error
}

// resultStore 按任务ID缓存已结束任务的终态，供轮询接口取回
type resultStore struct {
	mu       sync.RWMutex
	outcomes map[string]taskOutcome
}

func newResultStore() *resultStore {
	return &resultStore{
		outcomes: make(map[string]taskOutcome),
	}
}

func (s *resultStore) put(taskID string, result *services.PipelineResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[taskID] = taskOutcome{result: result}
}

func (s *resultStore) fail(taskID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[taskID] = taskOutcome{err: err}
}

func (s *resultStore) get(taskID string) (taskOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcome, ok := s.outcomes[taskID]
	return outcome, ok
}
