package workflow

import (
	"time"

	"github.com/BaSui01/inkflow/agent/pipeline"
	"github.com/BaSui01/inkflow/internal/metrics"
)

// StageMetrics 把流水线阶段事件写入指标收集器
type StageMetrics struct {
	Collector *metrics.Collector
}

var _ pipeline.Observer = StageMetrics{}

func (m StageMetrics) StageFinished(stage pipeline.Stage, elapsed time.Duration, err error) {
	m.Collector.RecordStage(string(stage), elapsed, err != nil)
}

func (m StageMetrics) StageRefined(stage pipeline.Stage) {
	m.Collector.RecordStageRefine(string(stage))
}

func (m StageMetrics) BudgetExhausted(key string) {
	m.Collector.RecordBudgetExhausted(key)
}
