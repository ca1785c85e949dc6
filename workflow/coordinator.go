package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/inkflow/agent/pipeline"
	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/internal/pool"
	"github.com/BaSui01/inkflow/llm/retry"
	"github.com/BaSui01/inkflow/persistence"
	"github.com/BaSui01/inkflow/types"
)

// Flow 区分创建与编辑两条状态机
type Flow string

const (
	FlowCreate Flow = "create"
	FlowEdit   Flow = "edit"
)

// State 是状态机中的一个状态
type State string

const (
	StateStart                State = "start"
	StatePersistNewDocument   State = "persist_new_document"
	StateBuildInitialContext  State = "build_initial_context"
	StateLoadDocumentContext  State = "load_document_context"
	StateRunSummaryStage      State = "run_summary_stage"
	StateRunInstructionStage  State = "run_instruction_stage"
	StateMergeScopeDirectives State = "merge_scope_directives"
	StateRunPipeline          State = "run_pipeline"
	StatePersistContent       State = "persist_content"
	StatePersistMessage       State = "persist_message"
	StateCreateCheckpoint     State = "create_checkpoint"
	StateCompleted            State = "completed"
)

// Request 一次创建或编辑请求。DocumentID 为空时走创建流程。
type Request struct {
	ExecutionID      string                 `json:"execution_id"`
	OwnerID          string                 `json:"owner_id,omitempty"`
	DocumentID       string                 `json:"document_id,omitempty"`
	Metadata         types.DocumentMetadata `json:"metadata"`
	UserMessage      string                 `json:"user_message,omitempty"`
	Sections         []string               `json:"sections,omitempty"`
	CreateCheckpoint bool                   `json:"create_checkpoint,omitempty"`
	// SubmittedAt 参与派生文档 ID，重放时保持不变
	SubmittedAt      time.Time              `json:"submitted_at"`
}

// Flow returns the state machine this request selects.
func (r Request) Flow() Flow {
	if r.DocumentID == "" {
		return FlowCreate
	}
	return FlowEdit
}

// Validate checks the request before any activity runs.
func (r Request) Validate() error {
	if r.Flow() == FlowEdit {
		if strings.TrimSpace(r.UserMessage) == "" {
			return types.NewValidationError("user_message is required")
		}
		return nil
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		return types.NewValidationError("owner_id is required")
	}
	return r.Metadata.Validate()
}

// Failure 是带标签的失败结果
type Failure struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	State   State           `json:"state"`
}

// Result 是执行结果；Error 非空表示失败
type Result struct {
	ExecutionID  string   `json:"execution_id"`
	DocumentID   string   `json:"document_id,omitempty"`
	Content      string   `json:"content,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
	CheckpointID string   `json:"checkpoint_id,omitempty"`
	Error        *Failure `json:"error,omitempty"`
}

// Failed reports whether the execution ended with a failure.
func (r Result) Failed() bool { return r.Error != nil }

// Dependencies 协调器的必需依赖
type Dependencies struct {
	Pipeline   *pipeline.Pipeline
	Executor   *ActivityExecutor
	Activities *Activities
	Executions *persistence.ExecutionStore
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPool 异步提交使用的 goroutine 池
func WithPool(p *pool.GoroutinePool) Option {
	return func(c *Coordinator) { c.pool = p }
}

// WithEventBroker 替换事件分发器
func WithEventBroker(b *EventBroker) Option {
	return func(c *Coordinator) {
		if b != nil {
			c.events = b
		}
	}
}

// WithHistoryStore 替换执行历史存储
func WithHistoryStore(s *ExecutionHistoryStore) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.histories = s
		}
	}
}

// WithMetrics 记录执行指标
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock 替换时钟，只用于给请求打提交时间
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithExecutionIDGenerator 替换执行 ID 生成器
func WithExecutionIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// Coordinator 把活动与流水线组合成可重放的创建/编辑执行。
// 不同执行之间除持久化存储外不共享可变状态。
type Coordinator struct {
	pipeline   *pipeline.Pipeline
	executor   *ActivityExecutor
	activities *Activities
	executions *persistence.ExecutionStore
	histories  *ExecutionHistoryStore
	events     *EventBroker
	pool       *pool.GoroutinePool
	metrics    *metrics.Collector
	group      singleflight.Group
	now        func() time.Time
	newID      func() string
	tracer     trace.Tracer
	logger     *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
}

// NewCoordinator creates a coordinator.
func NewCoordinator(deps Dependencies, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if deps.Pipeline == nil || deps.Executor == nil || deps.Activities == nil || deps.Executions == nil {
		return nil, errors.New("workflow: pipeline, executor, activities and executions are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseCtx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		pipeline:   deps.Pipeline,
		executor:   deps.Executor,
		activities: deps.Activities,
		executions: deps.Executions,
		histories:  NewExecutionHistoryStore(0),
		events:     NewEventBroker(0),
		now:        time.Now,
		newID:      uuid.NewString,
		tracer:     otel.Tracer("github.com/BaSui01/inkflow/workflow"),
		logger:     logger.With(zap.String("component", "coordinator")),
		baseCtx:    baseCtx,
		stop:       stop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Events returns the broker publishing execution events.
func (c *Coordinator) Events() *EventBroker { return c.events }

// Close 取消所有进行中的执行并关闭 goroutine 池。
// 被取消的执行保持 running 状态，由 Recover 继续。
func (c *Coordinator) Close() {
	c.stop()
	if c.pool != nil {
		c.pool.Close()
	}
}

// =============================================================================
// 🚀 提交与恢复
// =============================================================================

// Run 执行一次请求，从不返回错误：所有失败都转换为带标签的 Result。
// 同一执行 ID 已结束时直接返回记录的结果；记录仍为 running 时从头重放，
// 已完成的活动从日志读取结果。
func (c *Coordinator) Run(ctx context.Context, req Request) Result {
	req = c.prepare(req)
	if prior, ok := c.finished(ctx, req.ExecutionID); ok {
		return prior
	}
	return c.newRun(req).execute(ctx)
}

// Submit 同步执行；并发提交同一执行 ID 只运行一次。
// 执行与调用方的 ctx 取消解耦，只随协调器关闭而取消。
func (c *Coordinator) Submit(ctx context.Context, req Request) Result {
	req = c.prepare(req)
	v, _, shared := c.group.Do(req.ExecutionID, func() (any, error) {
		runCtx, cancel := c.detach(ctx)
		defer cancel()
		return c.Run(runCtx, req), nil
	})
	if shared {
		c.logger.Debug("joined in-flight execution", zap.String("execution_id", req.ExecutionID))
	}
	return v.(Result)
}

// SubmitAsync 校验请求，写入 running 记录后在 goroutine 池中执行，返回执行 ID。
func (c *Coordinator) SubmitAsync(ctx context.Context, req Request) (string, error) {
	req = c.prepare(req)
	if err := req.Validate(); err != nil {
		return "", err
	}
	if _, ok := c.finished(ctx, req.ExecutionID); ok {
		return req.ExecutionID, nil
	}

	r := c.newRun(req)
	if _, err := c.executions.Save(ctx, r.record); err != nil {
		return "", err
	}

	task := func(context.Context) error {
		c.Submit(c.baseCtx, req)
		return nil
	}
	if c.pool == nil {
		go task(c.baseCtx)
		return req.ExecutionID, nil
	}
	if err := c.pool.Submit(c.baseCtx, task); err != nil {
		// 记录保持 running，Recover 会接手
		c.logger.Warn("execution queue rejected submission", zap.String("execution_id", req.ExecutionID), zap.Error(err))
		return "", types.NewTransientError("execution queue unavailable", err)
	}
	return req.ExecutionID, nil
}

// Recover 重新运行所有处于 running 状态的执行，返回处理的数量。
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	records, err := c.executions.ListByStatus(ctx, persistence.ExecutionRunning, 0)
	if err != nil {
		return 0, err
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		var req Request
		if err := json.Unmarshal(rec.Request, &req); err != nil {
			c.logger.Error("unreadable execution request, marking failed", zap.String("execution_id", rec.ID), zap.Error(err))
			c.abandon(ctx, rec, err)
			continue
		}
		req.ExecutionID = rec.ID

		res := c.Submit(ctx, req)
		fields := []zap.Field{zap.String("execution_id", rec.ID), zap.String("from_state", rec.State)}
		if res.Failed() {
			fields = append(fields, zap.String("code", string(res.Error.Code)))
		}
		c.logger.Info("execution recovered", fields...)
	}
	return len(records), nil
}

// =============================================================================
// 🔍 查询
// =============================================================================

// ExecutionView 是执行记录与进程内活动轨迹的合并视图
type ExecutionView struct {
	ID         string                      `json:"id"`
	Flow       string                      `json:"flow"`
	State      string                      `json:"state"`
	Status     persistence.ExecutionStatus `json:"status"`
	DocumentID string                      `json:"document_id,omitempty"`
	Result     *Result                     `json:"result,omitempty"`
	Activities []*ActivityExecution        `json:"activities,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
	UpdatedAt  time.Time                   `json:"updated_at"`
}

// Execution returns the stored record of an execution, or NOT_FOUND.
func (c *Coordinator) Execution(ctx context.Context, id string) (ExecutionView, error) {
	rec, err := c.executions.Get(ctx, id)
	if err != nil {
		return ExecutionView{}, err
	}
	view := ExecutionView{
		ID:         rec.ID,
		Flow:       rec.Flow,
		State:      rec.State,
		Status:     rec.Status,
		DocumentID: rec.DocumentID,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if len(rec.Result) > 0 {
		var res Result
		if err := json.Unmarshal(rec.Result, &res); err == nil {
			view.Result = &res
		}
	}
	if h, ok := c.histories.Get(id); ok {
		view.Activities = h.Snapshot().Activities
	}
	return view, nil
}

// =============================================================================
// 🔧 内部
// =============================================================================

func (c *Coordinator) prepare(req Request) Request {
	if req.ExecutionID == "" {
		req.ExecutionID = c.newID()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = c.now().UTC().Truncate(time.Microsecond)
	}
	return req
}

// detach 返回不随 ctx 取消、只随协调器关闭取消的上下文
func (c *Coordinator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.baseCtx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// finished 返回已结束执行的记录结果
func (c *Coordinator) finished(ctx context.Context, id string) (Result, bool) {
	rec, err := c.executions.Get(ctx, id)
	if err != nil {
		if !types.IsNotFound(err) {
			c.logger.Warn("load execution record failed", zap.String("execution_id", id), zap.Error(err))
		}
		return Result{}, false
	}
	if rec.Status == persistence.ExecutionRunning || len(rec.Result) == 0 {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		c.logger.Warn("decode execution result failed", zap.String("execution_id", id), zap.Error(err))
		return Result{}, false
	}
	return res, true
}

func (c *Coordinator) abandon(ctx context.Context, rec persistence.ExecutionRecord, cause error) {
	res := Result{ExecutionID: rec.ID, DocumentID: rec.DocumentID, Error: &Failure{
		Code:    types.ErrInternalError,
		Message: fmt.Sprintf("unreadable request: %v", cause),
		State:   State(rec.State),
	}}
	rec.Status = persistence.ExecutionFailed
	rec.ErrorCode = string(types.ErrInternalError)
	rec.Result, _ = json.Marshal(res)
	if _, err := c.executions.Save(ctx, rec); err != nil {
		c.logger.Warn("save execution record failed", zap.String("execution_id", rec.ID), zap.Error(err))
	}
}

func (c *Coordinator) newRun(req Request) *run {
	flow := req.Flow()
	raw, _ := json.Marshal(req)
	history := NewExecutionHistory(req.ExecutionID, flow)
	r := &run{
		c:       c,
		req:     req,
		flow:    flow,
		state:   StateStart,
		ledger:  pipeline.NewLedger(),
		history: history,
		record: persistence.ExecutionRecord{
			ID:         req.ExecutionID,
			Flow:       string(flow),
			State:      string(StateStart),
			Status:     persistence.ExecutionRunning,
			DocumentID: req.DocumentID,
			Request:    raw,
		},
		logger: c.logger.With(zap.String("execution_id", req.ExecutionID), zap.String("flow", string(flow))),
	}
	r.scope = c.executor.Scope(req.ExecutionID, history, r.emit)
	r.inv = activityInvoker{scope: r.scope, acts: c.activities}
	return r
}

// =============================================================================
// 🔄 单次执行
// =============================================================================

// run 是一次执行的全部状态，只由执行它的 goroutine 访问
type run struct {
	c       *Coordinator
	req     Request
	flow    Flow
	state   State
	scope   *Scope
	inv     pipeline.Invoker
	ledger  *pipeline.Ledger
	history *ExecutionHistory
	record  persistence.ExecutionRecord
	logger  *zap.Logger
}

func (r *run) execute(ctx context.Context) Result {
	c := r.c
	ctx, span := c.tracer.Start(ctx, "workflow."+string(r.flow), trace.WithAttributes(
		attribute.String("inkflow.execution_id", r.req.ExecutionID),
		attribute.String("inkflow.flow", string(r.flow)),
	))
	defer span.End()

	start := time.Now()
	c.metrics.WorkflowStarted()
	c.histories.Save(r.history)

	var (
		res Result
		err error
	)
	if err = r.req.Validate(); err == nil {
		r.enter(ctx, StateStart)
		switch r.flow {
		case FlowCreate:
			res, err = r.create(ctx)
		default:
			res, err = r.edit(ctx)
		}
	}

	res.ExecutionID = r.req.ExecutionID
	if res.DocumentID == "" {
		res.DocumentID = r.record.DocumentID
	}
	status := string(StateCompleted)
	if err != nil {
		res.Error = toFailure(r.state, err)
		status = string(res.Error.Code)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		r.state = StateCompleted
	}

	r.finish(ctx, res, err)
	c.metrics.WorkflowFinished(string(r.flow), status, time.Since(start))
	return res
}

func (r *run) create(ctx context.Context) (Result, error) {
	req := r.req

	r.enter(ctx, StatePersistNewDocument)
	in := CreateDocumentInput{
		ID:       persistence.DeriveID(req.ExecutionID, req.SubmittedAt),
		OwnerID:  req.OwnerID,
		Metadata: req.Metadata,
	}
	doc, err := Execute(ctx, r.scope, ActivityCreateDocument, in, func(ctx context.Context) (types.Document, error) {
		return r.c.activities.CreateDocument(ctx, in)
	})
	if err != nil {
		return Result{}, err
	}
	r.setDocument(doc.ID)

	r.enter(ctx, StateBuildInitialContext)
	task := pipeline.FirstDraftTask(doc.Metadata)
	snap := pipeline.Snapshot{
		DocumentID:   doc.ID,
		Metadata:     doc.Metadata,
		Instructions: doc.Instructions,
		UserMessage:  task,
		Task:         task,
		Scope:        pipeline.ResolveScope(req.Sections, nil, ""),
	}

	r.enter(ctx, StateRunPipeline)
	out, err := r.c.pipeline.Orchestrate(ctx, r.inv, r.ledger, snap)
	if err != nil {
		return Result{}, err
	}

	r.enter(ctx, StatePersistContent)
	doc, err = r.persistContent(ctx, PersistContentInput{DocumentID: doc.ID, Content: out.Content})
	if err != nil {
		return Result{}, err
	}
	return Result{DocumentID: doc.ID, Content: doc.Content, Summary: out.Summary}, nil
}

func (r *run) edit(ctx context.Context) (Result, error) {
	req := r.req
	r.setDocument(req.DocumentID)

	r.enter(ctx, StateLoadDocumentContext)
	details, err := Execute(ctx, r.scope, ActivityLoadDocument, req.DocumentID, func(ctx context.Context) (DocumentDetails, error) {
		return r.c.activities.LoadDocumentDetails(ctx, req.DocumentID)
	})
	if err != nil {
		return Result{}, err
	}
	doc := details.Document
	snap := pipeline.Snapshot{
		DocumentID:   doc.ID,
		Metadata:     doc.Metadata,
		Content:      doc.Content,
		Instructions: doc.Instructions,
		History:      types.ConversationHistory(details.History),
		UserMessage:  req.UserMessage,
	}

	r.enter(ctx, StateRunSummaryStage)
	summary, err := r.c.pipeline.Summary(ctx, r.inv, r.ledger, snap)
	if err != nil {
		return Result{}, err
	}
	if summary.UpdateRequired && strings.TrimSpace(summary.Instruction) != "" {
		updated, err := r.persistContent(ctx, PersistContentInput{DocumentID: doc.ID, Instructions: summary.Instruction})
		if err != nil {
			return Result{}, err
		}
		snap.Instructions = updated.Instructions
	}

	r.enter(ctx, StateRunInstructionStage)
	instruction, err := r.c.pipeline.Instruction(ctx, r.inv, r.ledger, snap)
	if err != nil {
		return Result{}, err
	}

	r.enter(ctx, StateMergeScopeDirectives)
	snap.Task = firstNonEmpty(instruction.Prompt, req.UserMessage)
	snap.Directives = firstNonEmpty(instruction.Directives, req.UserMessage)
	snap.Scope = pipeline.ResolveScope(req.Sections, instruction.Sections, snap.Content)
	r.logger.Debug("edit scope resolved", zap.Strings("scope", snap.Scope))

	r.enter(ctx, StateRunPipeline)
	out, err := r.c.pipeline.Orchestrate(ctx, r.inv, r.ledger, snap)
	if err != nil {
		return Result{}, err
	}

	r.enter(ctx, StatePersistContent)
	doc, err = r.persistContent(ctx, PersistContentInput{DocumentID: doc.ID, Content: out.Content})
	if err != nil {
		return Result{}, err
	}

	r.enter(ctx, StatePersistMessage)
	msgIn := PersistMessageInput{
		DocumentID:     doc.ID,
		UserText:       req.UserMessage,
		AIText:         out.Summary,
		IdempotencyKey: req.ExecutionID,
	}
	msg, err := Execute(ctx, r.scope, ActivityPersistMessage, msgIn, func(ctx context.Context) (types.Message, error) {
		return r.c.activities.PersistMessage(ctx, msgIn)
	})
	if err != nil {
		return Result{}, err
	}
	res := Result{DocumentID: doc.ID, Content: doc.Content, Summary: out.Summary, MessageID: msg.ID}

	if req.CreateCheckpoint {
		r.enter(ctx, StateCreateCheckpoint)
		cp, err := Execute(ctx, r.scope, ActivityCreateCheckpoint, msg.ID, func(ctx context.Context) (types.Checkpoint, error) {
			return r.c.activities.CreateCheckpoint(ctx, msg.ID)
		})
		if err != nil {
			return res, err
		}
		res.CheckpointID = cp.ID
	}
	return res, nil
}

func (r *run) persistContent(ctx context.Context, in PersistContentInput) (types.Document, error) {
	return Execute(ctx, r.scope, ActivityPersistContent, in, func(ctx context.Context) (types.Document, error) {
		return r.c.activities.PersistContent(ctx, in)
	})
}

func (r *run) setDocument(id string) {
	r.record.DocumentID = id
}

// enter 进入新状态：写执行记录并发布事件
func (r *run) enter(ctx context.Context, s State) {
	r.state = s
	r.record.State = string(s)
	r.save(ctx)
	r.emit(Event{Type: EventState, State: s})
	r.logger.Debug("workflow state", zap.String("state", string(s)))
}

func (r *run) finish(ctx context.Context, res Result, err error) {
	switch {
	case err == nil:
		r.record.Status = persistence.ExecutionCompleted
		r.record.ErrorCode = ""
	case ctx.Err() != nil:
		// 被取消的执行保持 running，Recover 会从日志重放
		r.logger.Warn("execution interrupted", zap.String("state", string(r.state)), zap.Error(err))
	default:
		r.record.Status = persistence.ExecutionFailed
		r.record.ErrorCode = string(res.Error.Code)
	}
	r.record.State = string(r.state)
	if r.record.Status != persistence.ExecutionRunning {
		r.record.Result, _ = json.Marshal(res)
	}
	r.save(context.WithoutCancel(ctx))

	r.history.Complete(err)
	if err != nil {
		r.logger.Warn("execution failed",
			zap.String("state", string(r.state)),
			zap.String("code", string(res.Error.Code)),
			zap.Error(err))
		r.emit(Event{Type: EventFailed, State: r.state, Error: res.Error.Message, Result: &res})
		return
	}
	r.logger.Info("execution completed", zap.String("document_id", res.DocumentID), zap.Int("activities", r.scope.Seq()))
	r.emit(Event{Type: EventCompleted, State: StateCompleted, Result: &res})
}

// save 写执行记录；失败只记录日志，不影响执行
func (r *run) save(ctx context.Context) {
	if _, err := r.c.executions.Save(ctx, r.record); err != nil {
		r.logger.Warn("save execution record failed", zap.Error(err))
	}
}

func (r *run) emit(ev Event) {
	ev.ExecutionID = r.req.ExecutionID
	ev.Flow = r.flow
	r.c.events.Publish(ev)
}

// toFailure 把错误转换为带标签的失败
func toFailure(state State, err error) *Failure {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternalError
	}
	msg := err.Error()
	if e, ok := types.AsError(err); ok {
		msg = e.Message
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		msg = fmt.Sprintf("%s (gave up after %d attempts)", msg, exhausted.Attempts)
	}
	return &Failure{Code: code, Message: msg, State: state}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
