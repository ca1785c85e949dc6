package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWith(reg, "test", zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordHTTPRequest("GET", "/api/v1/documents", 200, 100*time.Millisecond)
	c.RecordHTTPRequest("GET", "/api/v1/documents", 201, 50*time.Millisecond)
	c.RecordHTTPRequest("GET", "/api/v1/documents", 404, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/documents", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/api/v1/documents", "4xx")))
}

func TestCollector_Workflow(t *testing.T) {
	c, _ := newTestCollector(t)

	c.WorkflowStarted()
	c.WorkflowStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.workflowInFlight))

	c.WorkflowFinished("create", "completed", time.Second)
	c.WorkflowFinished("edit", "PIPELINE_FAILURE", time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.workflowInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workflowExecutionsTotal.WithLabelValues("edit", "PIPELINE_FAILURE")))
}

func TestCollector_Activity(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordActivityAttempt("generate", "retryable")
	c.RecordActivityAttempt("generate", "ok")
	c.RecordActivity("generate", 2*time.Second)
	c.RecordActivityReplay("persist_message")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.activityAttemptsTotal.WithLabelValues("generate", "retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activityReplaysTotal.WithLabelValues("persist_message")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.activityDuration))
}

func TestCollector_Pipeline(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordStage("outline", time.Second, false)
	c.RecordStage("outline", time.Second, true)
	c.RecordStageRefine("outline")
	c.RecordBudgetExhausted("web_search")
	c.RecordBudgetExhausted("web_search")
	c.RecordCheckpointOperation("restore", nil)
	c.RecordCheckpointOperation("restore", errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(c.stageDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageRefinesTotal.WithLabelValues("outline")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.budgetExhaustedTotal.WithLabelValues("web_search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpointOpsTotal.WithLabelValues("restore", "error")))
}

func TestCollector_LLMAndDatabase(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordLLMRequest("gpt-4o-mini", "ok", time.Second, 1200, 300)
	c.RecordDBConnections("sqlite", 3, 1)

	assert.Equal(t, 1200.0, testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("gpt-4o-mini", "prompt")))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("gpt-4o-mini", "completion")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.dbConnectionsOpen.WithLabelValues("sqlite")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.WorkflowStarted()
		c.WorkflowFinished("create", "completed", time.Second)
		c.RecordActivityAttempt("generate", "ok")
		c.RecordStage("seo", time.Second, false)
		c.RecordBudgetExhausted("web_search")
		c.RecordCheckpointOperation("create", nil)
		c.RecordLLMRequest("m", "ok", time.Second, 1, 1)
		c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordActivityAttempt("web_search", "ok")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, testutil.ToFloat64(c.activityAttemptsTotal.WithLabelValues("web_search", "ok")))
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollectorWith(reg, "dup", nil)
	assert.Panics(t, func() { NewCollectorWith(reg, "dup", nil) })

	// 不同 namespace 可共存
	require.NotPanics(t, func() { NewCollectorWith(reg, "other", nil) })
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(302))
	assert.Equal(t, "4xx", statusCode(400))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(0))
}
