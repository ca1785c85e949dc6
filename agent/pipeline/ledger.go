package pipeline

import (
	"fmt"
	"maps"
)

// Ledger 记录一次执行内各工具/阶段的调用次数。
//
// 单一所有者：只由一个执行的协调协程访问，不加锁。
// 计数从零开始，只增不减；每次执行新建一个 Ledger。
type Ledger struct {
	counts map[string]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{counts: make(map[string]int)}
}

// Take 尝试消费一次 key 的额度。已用满 max 次时返回 false 且不改变计数。
func (l *Ledger) Take(key string, max int) bool {
	if l.counts[key] >= max {
		return false
	}
	l.counts[key]++
	return true
}

// Count returns how many times key was taken.
func (l *Ledger) Count(key string) int {
	return l.counts[key]
}

// Snapshot returns a copy of all counters.
func (l *Ledger) Snapshot() map[string]int {
	return maps.Clone(l.counts)
}

// 账本键
const (
	keyWebSearch = "web_search"
	refinePrefix = "refine:"
)

func handoffKey(s Stage) string { return "handoff:" + string(s) }

func refineKey(s Stage) string { return refinePrefix + string(s) }

// 预算耗尽时返回给调用方的哨兵文本，不是错误
const (
	SearchLimitSentinel = "Max search calls exceeded. Summarize the results now."
	stageLimitFormat    = "Max calls exceeded for tool: %s"
)

// StageLimitSentinel 专家阶段交接次数耗尽时的哨兵文本
func StageLimitSentinel(s Stage) string {
	return fmt.Sprintf(stageLimitFormat, s)
}
