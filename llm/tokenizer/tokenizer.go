package tokenizer

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/types"
)

// Counter 计算文本的 token 数
type Counter interface {
	CountTokens(text string) (int, error)
	Name() string
}

// CountMessages 估算一组对话消息的 token 数（每条消息 4 个格式开销 + 结束开销 3）
func CountMessages(c Counter, messages []types.ChatMessage) (int, error) {
	total := 3
	for _, msg := range messages {
		n, err := c.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += n + 4
	}
	return total, nil
}

// FallbackCounter 优先使用 primary，失败后永久切换到 fallback。
// tiktoken 首次使用需要下载编码表，离线环境下回落到字符估算。
type FallbackCounter struct {
	primary  Counter
	fallback Counter
	logger   *zap.Logger

	mu       sync.Mutex
	degraded bool
}

// NewFallbackCounter 创建带回落的计数器
func NewFallbackCounter(primary, fallback Counter, logger *zap.Logger) *FallbackCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackCounter{primary: primary, fallback: fallback, logger: logger}
}

// ForModel 返回模型对应的默认计数器：tiktoken，回落到估算器
func ForModel(model string, logger *zap.Logger) *FallbackCounter {
	return NewFallbackCounter(NewTiktoken(model), NewEstimator(), logger)
}

func (f *FallbackCounter) CountTokens(text string) (int, error) {
	f.mu.Lock()
	degraded := f.degraded
	f.mu.Unlock()

	if !degraded {
		n, err := f.primary.CountTokens(text)
		if err == nil {
			return n, nil
		}
		f.mu.Lock()
		f.degraded = true
		f.mu.Unlock()
		f.logger.Warn("token counter degraded to estimator",
			zap.String("primary", f.primary.Name()),
			zap.Error(err))
	}
	return f.fallback.CountTokens(text)
}

func (f *FallbackCounter) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		return f.fallback.Name()
	}
	return f.primary.Name()
}
