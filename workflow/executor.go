package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/idempotency"
	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/llm/retry"
	"github.com/BaSui01/inkflow/types"
)

// journalEntry 是写入活动日志的值。Fingerprint 是活动名与输入的摘要，
// 重放时输入不一致说明执行不再确定，必须中止。
type journalEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Result      json.RawMessage `json:"result"`
}

// ActivityExecutor 为每个副作用操作加上执行时间上限、指数退避重试、
// 错误分类与结果日志。
type ActivityExecutor struct {
	retryer  *retry.Retryer
	timeout  time.Duration
	journal  idempotency.Store
	ttl      time.Duration
	breakers *breakerRegistry
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
}

// ExecutorOption configures an ActivityExecutor.
type ExecutorOption func(*ActivityExecutor)

// WithRetryer 替换重试器（测试中使用零延迟策略）
func WithRetryer(r *retry.Retryer) ExecutorOption {
	return func(e *ActivityExecutor) {
		if r != nil {
			e.retryer = r
		}
	}
}

// WithExecutorMetrics 记录活动指标
func WithExecutorMetrics(c *metrics.Collector) ExecutorOption {
	return func(e *ActivityExecutor) { e.metrics = c }
}

// NewActivityExecutor 创建活动执行器。journal 为 nil 时使用内存日志。
func NewActivityExecutor(cfg config.WorkflowConfig, journal idempotency.Store, logger *zap.Logger, opts ...ExecutorOption) *ActivityExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "activity_executor"))
	if journal == nil {
		journal = idempotency.NewMemoryStore(logger)
	}

	e := &ActivityExecutor{
		retryer:  retry.NewBackoffRetryer(retry.PolicyFromConfig(cfg.Retry), logger),
		timeout:  cfg.ActivityTimeout,
		journal:  journal,
		ttl:      cfg.JournalTTL,
		breakers: newBreakerRegistry(cfg.Breaker, logger),
		tracer:   otel.Tracer("github.com/BaSui01/inkflow/workflow"),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BreakerStates 返回各外部服务活动的熔断器状态
func (e *ActivityExecutor) BreakerStates() map[string]CircuitState {
	return e.breakers.States()
}

// Scope 是一次执行的活动序列。序号按调用顺序递增，
// 同一执行重放时相同位置的活动得到相同的日志键。
// Scope 只能由所属执行的单个 goroutine 使用。
type Scope struct {
	exec        *ActivityExecutor
	executionID string
	seq         int
	history     *ExecutionHistory
	emit        func(Event)
}

// Scope 为执行创建活动序列；history 与 emit 可为 nil
func (e *ActivityExecutor) Scope(executionID string, history *ExecutionHistory, emit func(Event)) *Scope {
	return &Scope{exec: e, executionID: executionID, history: history, emit: emit}
}

// Seq 返回已发起的活动数
func (s *Scope) Seq() int { return s.seq }

// Execute 运行一个活动：先查日志，命中则重放结果；否则在超时与重试策略下
// 运行 fn，成功后写入日志。input 参与指纹计算，必须可 JSON 序列化。
func Execute[T any](ctx context.Context, s *Scope, activity string, input any, fn func(ctx context.Context) (T, error)) (out T, err error) {
	e := s.exec
	s.seq++
	key := idempotency.StepKey(s.executionID, s.seq, activity)
	logger := e.logger.With(
		zap.String("execution_id", s.executionID),
		zap.String("activity", activity),
		zap.Int("seq", s.seq),
	)

	fingerprint, err := idempotency.Fingerprint(activity, input)
	if err != nil {
		return out, types.NewInternalError(fmt.Sprintf("fingerprint %s input", activity)).WithCause(err)
	}

	ctx, span := e.tracer.Start(ctx, "activity."+activity, trace.WithAttributes(
		attribute.String("inkflow.execution_id", s.executionID),
		attribute.String("inkflow.activity", activity),
		attribute.Int("inkflow.seq", s.seq),
	))
	rec := &ActivityExecution{Seq: s.seq, Activity: activity, Key: key, StartTime: time.Now()}
	defer func() {
		rec.EndTime = time.Now()
		rec.Duration = rec.EndTime.Sub(rec.StartTime)
		if err != nil {
			rec.Status = ActivityFailed
			rec.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if rec.Status == "" {
			rec.Status = ActivityCompleted
		}
		span.SetAttributes(attribute.Int("inkflow.attempts", rec.Attempts))
		span.End()
		s.history.record(rec)
		if rec.Status != ActivityReplayed {
			e.metrics.RecordActivity(activity, rec.Duration)
		}
		if s.emit != nil {
			s.emit(Event{Type: EventActivity, Activity: activity, Seq: rec.Seq, Status: string(rec.Status), Error: rec.Error})
		}
	}()

	// 重放
	if entry, found := e.lookup(ctx, key, logger); found {
		if entry.Fingerprint != fingerprint {
			logger.Error("journaled activity input differs on replay")
			return out, types.NewInternalError(fmt.Sprintf(
				"nondeterministic replay: activity %s at position %d received different input", activity, s.seq))
		}
		if err := json.Unmarshal(entry.Result, &out); err != nil {
			return out, types.NewInternalError(fmt.Sprintf("decode journaled %s result", activity)).WithCause(err)
		}
		rec.Status = ActivityReplayed
		e.metrics.RecordActivityReplay(activity)
		logger.Debug("activity replayed from journal")
		return out, nil
	}

	breaker := e.breakers.get(activity)
	out, err = retry.Do(ctx, e.retryer, func(ctx context.Context, attempt int) (T, error) {
		rec.Attempts = attempt
		result, err := runAttempt(ctx, e.timeout, activity, breaker, fn)
		switch {
		case err == nil:
			e.metrics.RecordActivityAttempt(activity, "ok")
		case types.IsRetryable(err):
			e.metrics.RecordActivityAttempt(activity, "retryable")
			logger.Warn("activity attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		default:
			e.metrics.RecordActivityAttempt(activity, "fatal")
			logger.Info("activity failed with non-retryable error", zap.Int("attempt", attempt), zap.Error(err))
		}
		return result, err
	})
	if err != nil {
		return out, err
	}

	e.store(ctx, key, fingerprint, &out, logger)
	logger.Debug("activity completed", zap.Int("attempts", rec.Attempts))
	return out, nil
}

// runAttempt 单次尝试：熔断检查 + 执行时间上限。超过上限记为可重试的 TIMEOUT。
func runAttempt[T any](ctx context.Context, timeout time.Duration, activity string, breaker *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			return zero, err
		}
	}

	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = types.NewError(types.ErrTimeout, fmt.Sprintf("activity %s exceeded %v", activity, timeout)).
			WithCause(err).
			WithRetryable(true)
	}
	if breaker != nil {
		breaker.Record(err)
	}
	if err != nil {
		return zero, err
	}
	return out, nil
}

// lookup 读取日志。日志不可用时按未命中处理：活动本身可安全重跑。
func (e *ActivityExecutor) lookup(ctx context.Context, key string, logger *zap.Logger) (journalEntry, bool) {
	entry, found, err := idempotency.GetTyped[journalEntry](e.journal, ctx, key)
	if err != nil {
		logger.Warn("activity journal read failed, executing", zap.Error(err))
		return journalEntry{}, false
	}
	return entry, found
}

// store 写入日志。并发写者中先到者获胜，out 被替换为获胜者的结果，
// 保证同一日志键只对应一个结果。
func (e *ActivityExecutor) store(ctx context.Context, key, fingerprint string, out any, logger *zap.Logger) {
	data, err := json.Marshal(out)
	if err != nil {
		logger.Warn("activity result not journaled", zap.Error(err))
		return
	}
	raw, written, err := e.journal.SetIfAbsent(ctx, key, journalEntry{Fingerprint: fingerprint, Result: data}, e.ttl)
	if err != nil {
		logger.Warn("activity journal write failed", zap.Error(err))
		return
	}
	if written {
		return
	}
	var existing journalEntry
	if err := json.Unmarshal(raw, &existing); err != nil || existing.Fingerprint != fingerprint {
		return
	}
	if err := json.Unmarshal(existing.Result, out); err != nil {
		logger.Warn("decode concurrent journal entry failed", zap.Error(err))
	}
}
