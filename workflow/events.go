package workflow

import (
	"context"
	"sync"
	"time"
)

// EventType defines the type of execution stream event.
type EventType string

const (
	// EventState is emitted when an execution enters a new state.
	EventState EventType = "state"
	// EventActivity is emitted after each activity call.
	EventActivity EventType = "activity"
	// EventCompleted is emitted once when an execution succeeds.
	EventCompleted EventType = "completed"
	// EventFailed is emitted once when an execution fails.
	EventFailed EventType = "failed"
)

// Event carries information about one execution step.
type Event struct {
	ExecutionID string    `json:"execution_id"`
	Type        EventType `json:"type"`
	Flow        Flow      `json:"flow,omitempty"`
	State       State     `json:"state,omitempty"`
	Activity    string    `json:"activity,omitempty"`
	Seq         int       `json:"seq,omitempty"`
	Status      string    `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Terminal reports whether no further events follow for the execution.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

// EventBroker 按执行 ID 分发事件。订阅者的缓冲满时丢弃事件，
// 发布方从不阻塞；终止事件之后该执行的订阅被关闭。
type EventBroker struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

// NewEventBroker creates a broker with the given per-subscriber buffer.
func NewEventBroker(buffer int) *EventBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBroker{
		subs:   make(map[string]map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe 订阅一个执行的事件。ctx 结束或调用 cancel 时退订。
func (b *EventBroker) Subscribe(ctx context.Context, executionID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	set, ok := b.subs[executionID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[executionID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.remove(executionID, ch) })
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

// Publish 发送事件
func (b *EventBroker) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[ev.ExecutionID]
	for ch := range set {
		select {
		case ch <- ev:
		default:
		}
	}
	if ev.Terminal() {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, ev.ExecutionID)
	}
}

// Subscribers returns the number of live subscriptions for an execution.
func (b *EventBroker) Subscribers(executionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[executionID])
}

func (b *EventBroker) remove(executionID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[executionID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		// 终止事件已关闭该通道
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, executionID)
	}
}
