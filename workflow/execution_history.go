package workflow

import (
	"slices"
	"sync"
	"time"
)

// ActivityStatus 单次活动调用的结果
type ActivityStatus string

const (
	ActivityCompleted ActivityStatus = "completed"
	ActivityFailed    ActivityStatus = "failed"
	// ActivityReplayed 结果取自日志，未触发副作用
	ActivityReplayed ActivityStatus = "replayed"
)

// ActivityExecution records one activity call of an execution.
type ActivityExecution struct {
	Seq       int            `json:"seq"`
	Activity  string         `json:"activity"`
	Key       string         `json:"key"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration"`
	Attempts  int            `json:"attempts"`
	Status    ActivityStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
}

// ExecutionHistory 记录一次执行的完整活动轨迹（进程内，不持久化）
type ExecutionHistory struct {
	ExecutionID string               `json:"execution_id"`
	Flow        Flow                 `json:"flow"`
	StartTime   time.Time            `json:"start_time"`
	EndTime     time.Time            `json:"end_time,omitempty"`
	Duration    time.Duration        `json:"duration"`
	Activities  []*ActivityExecution `json:"activities"`
	Error       string               `json:"error,omitempty"`
	mu          sync.RWMutex
}

// NewExecutionHistory creates a new execution history
func NewExecutionHistory(executionID string, flow Flow) *ExecutionHistory {
	return &ExecutionHistory{
		ExecutionID: executionID,
		Flow:        flow,
		StartTime:   time.Now(),
		Activities:  make([]*ActivityExecution, 0),
	}
}

// record 追加一次活动调用；nil 接收者忽略
func (h *ExecutionHistory) record(a *ActivityExecution) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Activities = append(h.Activities, a)
}

// Complete marks the execution as finished.
func (h *ExecutionHistory) Complete(err error) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = time.Now()
	h.Duration = h.EndTime.Sub(h.StartTime)
	if err != nil {
		h.Error = err.Error()
	}
}

// Snapshot returns a copy safe to serialize while the execution runs.
func (h *ExecutionHistory) Snapshot() ExecutionHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	acts := make([]*ActivityExecution, len(h.Activities))
	for i, a := range h.Activities {
		cp := *a
		acts[i] = &cp
	}
	return ExecutionHistory{
		ExecutionID: h.ExecutionID,
		Flow:        h.Flow,
		StartTime:   h.StartTime,
		EndTime:     h.EndTime,
		Duration:    h.Duration,
		Activities:  acts,
		Error:       h.Error,
	}
}

// ByActivity returns the calls of one activity in order.
func (h *ExecutionHistory) ByActivity(activity string) []ActivityExecution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []ActivityExecution
	for _, a := range h.Activities {
		if a.Activity == activity {
			out = append(out, *a)
		}
	}
	return out
}

// ExecutionHistoryStore 保存最近 capacity 次执行的历史，超出时淘汰最早的
type ExecutionHistoryStore struct {
	histories map[string]*ExecutionHistory
	order     []string
	capacity  int
	mu        sync.RWMutex
}

// NewExecutionHistoryStore creates a new execution history store
func NewExecutionHistoryStore(capacity int) *ExecutionHistoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ExecutionHistoryStore{
		histories: make(map[string]*ExecutionHistory),
		capacity:  capacity,
	}
}

// Save saves an execution history
func (s *ExecutionHistoryStore) Save(history *ExecutionHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.histories[history.ExecutionID]; ok {
		s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == history.ExecutionID })
	}
	s.histories[history.ExecutionID] = history
	s.order = append(s.order, history.ExecutionID)

	for len(s.order) > s.capacity {
		delete(s.histories, s.order[0])
		s.order = s.order[1:]
	}
}

// Get retrieves an execution history by ID
func (s *ExecutionHistoryStore) Get(executionID string) (*ExecutionHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[executionID]
	return h, ok
}

// ListByTimeRange returns executions started within a time range
func (s *ExecutionHistoryStore) ListByTimeRange(start, end time.Time) []*ExecutionHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ExecutionHistory
	for _, id := range s.order {
		h := s.histories[id]
		if !h.StartTime.Before(start) && !h.StartTime.After(end) {
			result = append(result, h)
		}
	}
	return result
}
