package workflow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/types"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常状态，允许请求通过
	CircuitClosed CircuitState = iota
	// CircuitOpen 熔断状态，拒绝所有请求
	CircuitOpen
	// CircuitHalfOpen 半开状态，允许探测请求
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker 保护一个外部服务活动（generate、web_search）。
// 熔断期间活动尝试直接以可重试错误结束，不再访问外部服务；
// 活动执行器的退避等待让熔断器有机会进入半开状态。
type CircuitBreaker struct {
	activity        string
	config          config.BreakerConfig
	state           CircuitState
	failures        int       // 连续失败次数
	successes       int       // 半开状态下连续成功次数
	lastFailureTime time.Time // 最后一次失败时间
	probeCount      int       // 半开状态下已探测次数
	now             func() time.Time
	logger          *zap.Logger
	mu              sync.Mutex
}

// NewCircuitBreaker 创建熔断器
func NewCircuitBreaker(activity string, cfg config.BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HalfOpenMaxProbes < 1 {
		cfg.HalfOpenMaxProbes = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		activity: activity,
		config:   cfg,
		state:    CircuitClosed,
		now:      time.Now,
		logger:   logger.With(zap.String("activity", activity)),
	}
}

// Allow 检查是否允许请求通过；拒绝时返回可重试的 TRANSIENT_INFRA 错误
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		wait := cb.config.RecoveryTimeout - cb.now().Sub(cb.lastFailureTime)
		if wait <= 0 {
			cb.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
			cb.probeCount = 1
			cb.successes = 0
			return nil
		}
		return types.NewTransientError(fmt.Sprintf(
			"circuit open for %s after %d consecutive failures, retry after %v",
			cb.activity, cb.failures, wait), nil)

	case CircuitHalfOpen:
		if cb.probeCount < cb.config.HalfOpenMaxProbes {
			cb.probeCount++
			return nil
		}
		return types.NewTransientError(fmt.Sprintf(
			"circuit half-open for %s: max probes (%d) reached", cb.activity, cb.config.HalfOpenMaxProbes), nil)

	default:
		return nil
	}
}

// Record 记录一次尝试结果。只有可重试错误计为服务失败；
// 校验、未找到等错误说明服务本身可用。
func (cb *CircuitBreaker) Record(err error) {
	if err != nil && !types.IsRetryable(err) {
		err = nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case CircuitClosed:
			cb.failures = 0
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transitionTo(CircuitClosed, fmt.Sprintf("%d consecutive successes in half-open", cb.successes))
				cb.failures = 0
				cb.successes = 0
			}
		}
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}
	case CircuitHalfOpen:
		// 半开状态下任何失败都重新熔断
		cb.successes = 0
		cb.transitionTo(CircuitOpen, "failure in half-open state")
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transitionTo 状态转换（必须在锁内调用）
func (cb *CircuitBreaker) transitionTo(newState CircuitState, reason string) {
	oldState := cb.state
	cb.state = newState

	cb.logger.Info("circuit breaker state change",
		zap.String("old_state", oldState.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))
}

// breakerRegistry 按活动名管理熔断器；FailureThreshold 为 0 时不创建
type breakerRegistry struct {
	breakers map[string]*CircuitBreaker
	config   config.BreakerConfig
	logger   *zap.Logger
	mu       sync.Mutex
}

func newBreakerRegistry(cfg config.BreakerConfig, logger *zap.Logger) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   cfg,
		logger:   logger,
	}
}

// get 返回活动的熔断器；未启用时返回 nil
func (r *breakerRegistry) get(activity string) *CircuitBreaker {
	if r == nil || r.config.FailureThreshold <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[activity]
	if !ok {
		cb = NewCircuitBreaker(activity, r.config, r.logger)
		r.breakers[activity] = cb
	}
	return cb
}

// States 获取所有熔断器状态
func (r *breakerRegistry) States() map[string]CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]CircuitState, len(r.breakers))
	for name, cb := range r.breakers {
		states[name] = cb.State()
	}
	return states
}
