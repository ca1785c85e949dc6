package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/idempotency"
	"github.com/BaSui01/inkflow/llm/retry"
	"github.com/BaSui01/inkflow/types"
)

func fastRetryer() *retry.Retryer {
	return retry.NewBackoffRetryer(&retry.RetryPolicy{MaxAttempts: 3, Multiplier: 2}, zap.NewNop())
}

func newTestExecutor(t *testing.T, journal idempotency.Store, mutate func(*config.WorkflowConfig)) *ActivityExecutor {
	t.Helper()
	cfg := config.DefaultWorkflowConfig()
	cfg.ActivityTimeout = 2 * time.Second
	cfg.Breaker.FailureThreshold = 0
	if mutate != nil {
		mutate(&cfg)
	}
	if journal == nil {
		journal = idempotency.NewMemoryStore(zap.NewNop())
		t.Cleanup(func() { _ = journal.Close() })
	}
	return NewActivityExecutor(cfg, journal, zap.NewNop(), WithRetryer(fastRetryer()))
}

type draft struct {
	Content string `json:"content"`
}

func TestExecute_JournalsAndReplays(t *testing.T) {
	e := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(context.Context) (draft, error) {
		calls.Add(1)
		return draft{Content: "v1"}, nil
	}

	first := NewExecutionHistory("exec-1", FlowCreate)
	out, err := Execute(ctx, e.Scope("exec-1", first, nil), "generate", "prompt", fn)
	require.NoError(t, err)
	assert.Equal(t, "v1", out.Content)

	// 同一执行重放：相同位置、相同输入直接读日志
	second := NewExecutionHistory("exec-1", FlowCreate)
	out, err = Execute(ctx, e.Scope("exec-1", second, nil), "generate", "prompt", fn)
	require.NoError(t, err)
	assert.Equal(t, "v1", out.Content)
	assert.Equal(t, int32(1), calls.Load())

	got := second.ByActivity("generate")
	require.Len(t, got, 1)
	assert.Equal(t, ActivityReplayed, got[0].Status)
	assert.Equal(t, "exec-1/0001/generate", got[0].Key)

	// 另一个执行不共享日志
	_, err = Execute(ctx, e.Scope("exec-2", nil, nil), "generate", "prompt", fn)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_ReplayWithDifferentInputFails(t *testing.T) {
	e := newTestExecutor(t, nil, nil)
	ctx := context.Background()
	fn := func(context.Context) (string, error) { return "ok", nil }

	_, err := Execute(ctx, e.Scope("exec-1", nil, nil), "web_search", "go generics", fn)
	require.NoError(t, err)

	_, err = Execute(ctx, e.Scope("exec-1", nil, nil), "web_search", "rust traits", fn)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInternalError))
	assert.Contains(t, err.Error(), "nondeterministic replay")
}

func TestExecute_RetriesTransientFailures(t *testing.T) {
	e := newTestExecutor(t, nil, nil)
	history := NewExecutionHistory("exec-1", FlowEdit)

	var calls int
	out, err := Execute(context.Background(), e.Scope("exec-1", history, nil), "web_search", "q", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", types.NewTransientError("search unavailable", nil)
		}
		return "results", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "results", out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, history.ByActivity("web_search")[0].Attempts)
}

func TestExecute_NonRetryableAbortsImmediately(t *testing.T) {
	e := newTestExecutor(t, nil, nil)

	var calls int
	_, err := Execute(context.Background(), e.Scope("exec-1", nil, nil), "load_document_details", "doc-1", func(context.Context) (string, error) {
		calls++
		return "", types.NewNotFoundError("document", "doc-1")
	})
	assert.True(t, types.IsNotFound(err))
	assert.Equal(t, 1, calls)
}

func TestExecute_ExhaustedRetriesKeepCode(t *testing.T) {
	e := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	var calls int
	fail := func(context.Context) (string, error) {
		calls++
		return "", types.NewTransientError("generation unavailable", nil)
	}
	_, err := Execute(ctx, e.Scope("exec-1", nil, nil), "generate", "p", fail)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, types.IsErrorCode(err, types.ErrTransientInfra))

	var exhausted *retry.ExhaustedError
	assert.True(t, errors.As(err, &exhausted))

	// 失败不写日志，重放时重新执行
	_, err = Execute(ctx, e.Scope("exec-1", nil, nil), "generate", "p", func(context.Context) (string, error) {
		return "recovered", nil
	})
	assert.NoError(t, err)
}

func TestExecute_AttemptTimeoutIsRetryable(t *testing.T) {
	e := newTestExecutor(t, nil, func(cfg *config.WorkflowConfig) {
		cfg.ActivityTimeout = 20 * time.Millisecond
	})

	var calls int
	out, err := Execute(context.Background(), e.Scope("exec-1", nil, nil), "generate", "p", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "fast", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", out)
	assert.Equal(t, 2, calls)

	_, err = Execute(context.Background(), e.Scope("exec-2", nil, nil), "generate", "p", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	assert.True(t, types.IsErrorCode(err, types.ErrTimeout))
}

func TestExecute_CallerCancellationStops(t *testing.T) {
	e := newTestExecutor(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	_, err := Execute(ctx, e.Scope("exec-1", nil, nil), "generate", "p", func(context.Context) (string, error) {
		calls++
		cancel()
		return "", context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecute_CircuitBreakerOpens(t *testing.T) {
	e := newTestExecutor(t, nil, func(cfg *config.WorkflowConfig) {
		cfg.Breaker = config.BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour}
	})

	var calls int
	_, err := Execute(context.Background(), e.Scope("exec-1", nil, nil), "generate", "p", func(context.Context) (string, error) {
		calls++
		return "", types.NewTransientError("upstream down", nil)
	})
	require.Error(t, err)
	// 第三次尝试被熔断器拦下
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, CircuitOpen, e.BreakerStates()["generate"])
}

func TestExecute_RedisJournal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	journal := idempotency.NewRedisStore(client, "test:", zap.NewNop())

	ctx := context.Background()
	var calls int
	fn := func(context.Context) (draft, error) {
		calls++
		return draft{Content: "persisted"}, nil
	}

	// 两个执行器共享 Redis 日志，模拟进程重启
	_, err := Execute(ctx, newTestExecutor(t, journal, nil).Scope("exec-1", nil, nil), "persist_content", "doc-1", fn)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:exec-1/0001/persist_content"))

	out, err := Execute(ctx, newTestExecutor(t, journal, nil).Scope("exec-1", nil, nil), "persist_content", "doc-1", fn)
	require.NoError(t, err)
	assert.Equal(t, "persisted", out.Content)
	assert.Equal(t, 1, calls)
}

func TestExecute_EmitsActivityEvents(t *testing.T) {
	e := newTestExecutor(t, nil, nil)
	var events []Event
	scope := e.Scope("exec-1", nil, func(ev Event) { events = append(events, ev) })

	_, _ = Execute(context.Background(), scope, "web_search", "q", func(context.Context) (string, error) { return "", nil })
	_, _ = Execute(context.Background(), scope, "generate", "p", func(context.Context) (string, error) {
		return "", types.NewValidationError("bad prompt")
	})

	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: EventActivity, Activity: "web_search", Seq: 1, Status: "completed"}, events[0])
	assert.Equal(t, "failed", events[1].Status)
	assert.Equal(t, 2, scope.Seq())
}
