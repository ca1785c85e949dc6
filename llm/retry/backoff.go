package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/types"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxAttempts  int           // 总尝试次数（含首次），至少为 1
	InitialDelay time.Duration // 第一次重试前的延迟
	MaxDelay     time.Duration // 延迟上限
	Multiplier   float64       // 指数退避倍增因子
	Jitter       bool          // ±25% 随机抖动

	// Classify 判断错误是否可重试；为空时使用 types.IsRetryable。
	// 不可重试的错误立即返回，不消耗剩余尝试次数。
	Classify func(err error) bool

	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 返回活动默认策略：初始 5s，倍数 2.0，共 3 次尝试
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// PolicyFromConfig 由配置构造策略
func PolicyFromConfig(cfg config.RetryConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		Jitter:       cfg.Jitter,
	}
}

// ExhaustedError 表示所有尝试均以可重试错误失败
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Retryer 基于指数退避的重试器
type Retryer struct {
	policy *RetryPolicy
	logger *zap.Logger
	after  func(time.Duration) <-chan time.Time
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	p := *policy

	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay <= 0 || p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.Classify == nil {
		p.Classify = types.IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retryer{
		policy: &p,
		logger: logger,
		after:  time.After,
	}
}

// Policy 返回生效的策略（已规范化）
func (r *Retryer) Policy() RetryPolicy {
	return *r.policy
}

// Do 执行 fn，失败时按策略重试。attempt 从 1 开始。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	_, err := Do(ctx, r, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// Do 是带返回值的泛型重试入口
func Do[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.Delay(attempt - 1)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-r.after(delay):
			}
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.policy.Classify(err) {
			r.logger.Debug("non-retryable error", zap.Error(err))
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("retry canceled: %w", ctx.Err())
		}
	}

	r.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return zero, &ExhaustedError{Attempts: r.policy.MaxAttempts, Err: lastErr}
}

// Delay 返回第 retry 次重试前的等待时间：initial * multiplier^(retry-1)，不超过 MaxDelay
func (r *Retryer) Delay(retry int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(retry-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// 抖动防止大量执行同时重试
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
		if delay < float64(r.policy.InitialDelay) {
			delay = float64(r.policy.InitialDelay)
		}
	}

	return time.Duration(delay)
}
