// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有 Record 方法对 nil 接收者安全。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 工作流指标
	workflowExecutionsTotal   *prometheus.CounterVec
	workflowExecutionDuration *prometheus.HistogramVec
	workflowInFlight          prometheus.Gauge

	// 活动指标
	activityAttemptsTotal *prometheus.CounterVec
	activityDuration      *prometheus.HistogramVec
	activityReplaysTotal  *prometheus.CounterVec

	// 流水线指标
	stageDuration        *prometheus.HistogramVec
	stageRefinesTotal    *prometheus.CounterVec
	budgetExhaustedTotal *prometheus.CounterVec
	checkpointOpsTotal   *prometheus.CounterVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 注册到指定 Registerer
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.workflowExecutionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of finished workflow executions",
		},
		[]string{"flow", "status"},
	)
	c.workflowExecutionDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"flow"},
	)
	c.workflowInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_executions_in_flight",
			Help:      "Number of workflow executions currently running",
		},
	)

	c.activityAttemptsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_attempts_total",
			Help:      "Total number of activity attempts",
		},
		[]string{"activity", "outcome"},
	)
	c.activityDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activity_duration_seconds",
			Help:      "Activity duration in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"activity"},
	)
	c.activityReplaysTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_replays_total",
			Help:      "Total number of activity results served from the journal",
		},
		[]string{"activity"},
	)

	c.stageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage", "status"},
	)
	c.stageRefinesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_refines_total",
			Help:      "Total number of refine cycles per stage",
		},
		[]string{"stage"},
	)
	c.budgetExhaustedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_budget_exhausted_total",
			Help:      "Total number of calls answered with a limit sentinel",
		},
		[]string{"key"},
	)
	c.checkpointOpsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_operations_total",
			Help:      "Total number of checkpoint operations",
		},
		[]string{"operation", "status"},
	)

	c.llmRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of generation requests",
		},
		[]string{"model", "status"},
	)
	c.llmRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Generation request duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)
	c.llmTokensUsed = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"},
	)

	c.dbConnectionsOpen = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)
	c.dbConnectionsIdle = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔄 工作流与活动指标记录
// =============================================================================

// WorkflowStarted 执行开始
func (c *Collector) WorkflowStarted() {
	if c == nil {
		return
	}
	c.workflowInFlight.Inc()
}

// WorkflowFinished 执行结束；status 为 completed 或失败码
func (c *Collector) WorkflowFinished(flow, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.workflowInFlight.Dec()
	c.workflowExecutionsTotal.WithLabelValues(flow, status).Inc()
	c.workflowExecutionDuration.WithLabelValues(flow).Observe(duration.Seconds())
}

// RecordActivityAttempt 记录一次活动尝试；outcome 为 ok、retryable 或 fatal
func (c *Collector) RecordActivityAttempt(activity, outcome string) {
	if c == nil {
		return
	}
	c.activityAttemptsTotal.WithLabelValues(activity, outcome).Inc()
}

// RecordActivity 记录活动总耗时
func (c *Collector) RecordActivity(activity string, duration time.Duration) {
	if c == nil {
		return
	}
	c.activityDuration.WithLabelValues(activity).Observe(duration.Seconds())
}

// RecordActivityReplay 记录从日志重放的活动
func (c *Collector) RecordActivityReplay(activity string) {
	if c == nil {
		return
	}
	c.activityReplaysTotal.WithLabelValues(activity).Inc()
}

// =============================================================================
// 🧩 流水线指标记录
// =============================================================================

// RecordStage 记录阶段耗时
func (c *Collector) RecordStage(stage string, duration time.Duration, failed bool) {
	if c == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	c.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// RecordStageRefine 记录一次细化
func (c *Collector) RecordStageRefine(stage string) {
	if c == nil {
		return
	}
	c.stageRefinesTotal.WithLabelValues(stage).Inc()
}

// RecordBudgetExhausted 记录一次预算耗尽
func (c *Collector) RecordBudgetExhausted(key string) {
	if c == nil {
		return
	}
	c.budgetExhaustedTotal.WithLabelValues(key).Inc()
}

// RecordCheckpointOperation 记录检查点 create / restore / delete
func (c *Collector) RecordCheckpointOperation(operation string, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.checkpointOpsTotal.WithLabelValues(operation, status).Inc()
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录生成请求
func (c *Collector) RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int64) {
	if c == nil {
		return
	}
	c.llmRequestsTotal.WithLabelValues(model, status).Inc()
	c.llmRequestDuration.WithLabelValues(model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
