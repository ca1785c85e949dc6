package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/llm"
	"github.com/BaSui01/inkflow/llm/tools"
	"github.com/BaSui01/inkflow/types"
)

// Invoker 承载流水线的全部副作用。工作流提供的实现把每次调用
// 交给活动执行器（超时、重试、日志重放）。
type Invoker interface {
	Generate(ctx context.Context, req llm.StageRequest) (string, error)
	Search(ctx context.Context, query string) ([]tools.WebSearchResult, error)
}

// Limits 每次执行的调用预算
type Limits struct {
	MaxSearchCalls  int
	MaxStageCalls   int
	MaxRefineCycles int
}

// LimitsFromConfig 从工作流配置读取预算
func LimitsFromConfig(cfg config.WorkflowConfig) Limits {
	return Limits{
		MaxSearchCalls:  cfg.MaxSearchCalls,
		MaxStageCalls:   cfg.MaxStageCalls,
		MaxRefineCycles: cfg.MaxRefineCycles,
	}
}

// Observer 接收阶段级事件，用于指标
type Observer interface {
	StageFinished(stage Stage, elapsed time.Duration, err error)
	StageRefined(stage Stage)
	BudgetExhausted(key string)
}

type nopObserver struct{}

func (nopObserver) StageFinished(Stage, time.Duration, error) {}
func (nopObserver) StageRefined(Stage)                        {}
func (nopObserver) BudgetExhausted(string)                    {}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver 注册阶段事件观察者
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithGraph 替换阶段图
func WithGraph(g *Graph) Option {
	return func(p *Pipeline) {
		if g != nil {
			p.graph = g
		}
	}
}

// Pipeline 按固定阶段图运行各阶段。Pipeline 本身无状态，可在执行间共享；
// 每次执行的状态只存在于调用方传入的 Ledger 与 Snapshot 中。
type Pipeline struct {
	graph    *Graph
	limits   Limits
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New creates a pipeline.
func New(limits Limits, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		graph:    NewGraph(),
		limits:   limits,
		observer: nopObserver{},
		tracer:   otel.Tracer("github.com/BaSui01/inkflow/agent/pipeline"),
		logger:   logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Graph returns the stage graph.
func (p *Pipeline) Graph() *Graph { return p.graph }

// Limits returns the configured budgets.
func (p *Pipeline) Limits() Limits { return p.limits }

// =============================================================================
// 🎯 顶层阶段
// =============================================================================

// Summary 判断用户消息是否包含需要长期保存的偏好
func (p *Pipeline) Summary(ctx context.Context, inv Invoker, ledger *Ledger, snap Snapshot) (SummaryOutput, error) {
	return runStage[SummaryOutput](ctx, p, inv, ledger, StageSummary, snap)
}

// Instruction 生成增强提示、编辑范围与严格指令
func (p *Pipeline) Instruction(ctx context.Context, inv Invoker, ledger *Ledger, snap Snapshot) (InstructionOutput, error) {
	return runStage[InstructionOutput](ctx, p, inv, ledger, StageInstruction, snap)
}

// Orchestrate 依次把控制交给各专家阶段（每个专家完成后控制回到编排阶段），
// 最后由编排阶段合成完整文档与改动摘要。
func (p *Pipeline) Orchestrate(ctx context.Context, inv Invoker, ledger *Ledger, snap Snapshot) (OrchestratorOutput, error) {
	snap = snap.clone()
	for _, stage := range p.graph.SpecialistOrder() {
		result, err := p.Handoff(ctx, inv, ledger, stage, snap)
		if err != nil {
			return OrchestratorOutput{}, err
		}
		snap = withResult(snap, stage, result)
	}
	return runStage[OrchestratorOutput](ctx, p, inv, ledger, StageOrchestrator, snap)
}

// Handoff 从编排阶段把控制交给一个专家阶段，返回专家输出（JSON 文本）。
// 超出 MaxStageCalls 时不运行专家，返回哨兵文本。
func (p *Pipeline) Handoff(ctx context.Context, inv Invoker, ledger *Ledger, stage Stage, snap Snapshot) (string, error) {
	if !p.graph.CanHandoff(StageOrchestrator, stage) || !p.graph.CanHandoff(stage, StageOrchestrator) {
		return "", types.NewInternalError(fmt.Sprintf("handoff orchestrator → %s is not allowed", stage))
	}
	key := handoffKey(stage)
	if !ledger.Take(key, p.limits.MaxStageCalls) {
		p.observer.BudgetExhausted(key)
		p.logger.Warn("stage call limit exceeded",
			zap.String("stage", string(stage)),
			zap.Int("max_calls", p.limits.MaxStageCalls))
		return StageLimitSentinel(stage), nil
	}

	switch stage {
	case StageResearch:
		out, err := p.research(ctx, inv, ledger, snap)
		return mustJSON(out.Findings), err
	case StageSEO:
		out, err := runStage[SEOOutput](ctx, p, inv, ledger, stage, snap)
		return mustJSON(out), err
	case StageOutline:
		out, err := runStage[OutlineOutput](ctx, p, inv, ledger, stage, snap)
		return mustJSON(out), err
	case StageWriting:
		out, err := runStage[WritingOutput](ctx, p, inv, ledger, stage, snap)
		return mustJSON(out), err
	default:
		return "", types.NewInternalError(fmt.Sprintf("unknown specialist stage %s", stage))
	}
}

// Search 受预算约束的网页搜索。超出 MaxSearchCalls 时不调用搜索服务，返回哨兵文本。
func (p *Pipeline) Search(ctx context.Context, inv Invoker, ledger *Ledger, query string) (string, error) {
	if !ledger.Take(keyWebSearch, p.limits.MaxSearchCalls) {
		p.observer.BudgetExhausted(keyWebSearch)
		p.logger.Warn("search call limit exceeded",
			zap.String("query", query),
			zap.Int("max_calls", p.limits.MaxSearchCalls))
		return SearchLimitSentinel, nil
	}
	results, err := inv.Search(ctx, query)
	if err != nil {
		return "", err
	}

	type excerpt struct {
		URL     string `json:"url"`
		Content string `json:"content"`
	}
	out := make([]excerpt, len(results))
	for i, r := range results {
		out[i] = excerpt{URL: r.URL, Content: r.Snippet}
	}
	return mustJSON(out), nil
}

// research 计划 → 有界检索 → 总结
func (p *Pipeline) research(ctx context.Context, inv Invoker, ledger *Ledger, snap Snapshot) (ResearchOutput, error) {
	plan, err := runStage[ResearchPlan](ctx, p, inv, ledger, StageResearch, snap)
	if err != nil {
		return ResearchOutput{}, err
	}

	var b strings.Builder
	for _, q := range plan.Queries {
		text, err := p.Search(ctx, inv, ledger, q)
		if err != nil {
			return ResearchOutput{}, err
		}
		fmt.Fprintf(&b, "Query: %s\n%s\n\n", q, text)
		if text == SearchLimitSentinel {
			break
		}
	}

	summarize := snap.clone()
	summarize.SearchResults = strings.TrimSpace(b.String())
	return runStage[ResearchOutput](ctx, p, inv, ledger, StageResearch, summarize)
}

func withResult(snap Snapshot, stage Stage, result string) Snapshot {
	snap = snap.clone()
	switch stage {
	case StageResearch:
		snap.Research = result
	case StageSEO:
		snap.SEO = result
	case StageOutline:
		snap.Outline = result
	case StageWriting:
		snap.Draft = result
	}
	return snap
}

// =============================================================================
// 🔁 单阶段执行与细化
// =============================================================================

// runStage 生成 → 解析 → 校验；校验失败时带反馈细化，最多 MaxRefineCycles 次，
// 之后以 PIPELINE_FAILURE 结束。
func runStage[T Validator](ctx context.Context, p *Pipeline, inv Invoker, ledger *Ledger, stage Stage, snap Snapshot) (out T, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage),
		trace.WithAttributes(attribute.String("inkflow.stage", string(stage))))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.observer.StageFinished(stage, time.Since(start), err)
	}()

	feedback := ""
	for {
		attempt := snap.clone()
		attempt.Feedback = feedback

		prompt, err := BuildPrompt(stage, attempt)
		if err != nil {
			return out, types.NewInternalError(err.Error()).WithCause(err)
		}
		raw, err := inv.Generate(ctx, llm.StageRequest{
			Stage:        string(stage),
			Instructions: prompt,
			History:      stageHistory(stage, attempt),
			Input:        stageInput(stage, attempt),
		})
		if err != nil {
			return out, err
		}

		parsed, perr := parseOutput[T](stage, raw)
		if perr == nil {
			p.logger.Debug("stage completed", zap.String("stage", string(stage)))
			return parsed, nil
		}

		var pe *ParseError
		if !errors.As(perr, &pe) {
			return out, perr
		}
		if !ledger.Take(refineKey(stage), p.limits.MaxRefineCycles) {
			p.logger.Error("stage output invalid after refine cycles",
				zap.String("stage", string(stage)),
				zap.Int("refine_cycles", ledger.Count(refineKey(stage))),
				zap.String("reason", pe.Message))
			return out, types.NewPipelineError(string(stage), pe.Message).WithCause(perr)
		}
		p.observer.StageRefined(stage)
		p.logger.Warn("stage output invalid, refining",
			zap.String("stage", string(stage)),
			zap.Int("refine_cycle", ledger.Count(refineKey(stage))),
			zap.String("reason", pe.Message))
		feedback = pe.Message
	}
}

// stageHistory 只有面向对话的阶段看到历史轮次
func stageHistory(stage Stage, snap Snapshot) []types.ChatMessage {
	switch stage {
	case StageSummary, StageInstruction, StageOrchestrator:
		return snap.History
	default:
		return nil
	}
}

func stageInput(stage Stage, snap Snapshot) string {
	switch stage {
	case StageSummary, StageInstruction:
		return snap.UserMessage
	case StageOrchestrator:
		var b strings.Builder
		b.WriteString(snap.Task)
		if snap.Directives != "" && snap.Directives != snap.Task {
			b.WriteString("\n\n")
			b.WriteString(snap.Directives)
		}
		if len(snap.Scope) > 0 {
			fmt.Fprintf(&b, "\n\nScope: %s", strings.Join(snap.Scope, ", "))
		}
		return b.String()
	default:
		return snap.Task
	}
}
