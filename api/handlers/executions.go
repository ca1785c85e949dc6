package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/ctxkeys"
	"github.com/BaSui01/inkflow/persistence"
	"github.com/BaSui01/inkflow/workflow"
)

// ExecutionHandler 处理执行查询与事件流
type ExecutionHandler struct {
	wf           Workflow
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewExecutionHandler 创建执行处理器
func NewExecutionHandler(wf Workflow, logger *zap.Logger) *ExecutionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionHandler{
		wf:           wf,
		writeTimeout: 10 * time.Second,
		logger:       logger.With(zap.String("handler", "executions")),
	}
}

// HandleGet 处理 GET /api/v1/executions/{id}
func (h *ExecutionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.wf.Execution(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, view)
}

// HandleEvents 处理 GET /api/v1/executions/{id}/events。
// 升级为 WebSocket 后逐条推送事件（JSON），终止事件后以正常状态关闭。
// 执行已结束时只推送一条终止事件。
func (h *ExecutionHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := ctxkeys.WithExecutionID(r.Context(), id)

	// 先订阅再查询，避免查询与订阅之间的终止事件丢失
	events, cancel := h.wf.Events().Subscribe(ctx, id)
	defer cancel()

	view, err := h.wf.Execution(ctx, id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", append(ctxkeys.LogFields(ctx), zap.Error(err))...)
		return
	}
	defer conn.CloseNow()

	// 客户端不发送数据；CloseRead 在对端关闭时取消 ctx
	ctx = conn.CloseRead(ctx)

	if view.Status != persistence.ExecutionRunning {
		if err := h.write(ctx, conn, terminalEvent(view)); err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "execution finished")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "execution finished")
				return
			}
			if err := h.write(ctx, conn, ev); err != nil {
				h.logger.Debug("event stream closed", append(ctxkeys.LogFields(ctx), zap.Error(err))...)
				return
			}
		}
	}
}

func (h *ExecutionHandler) write(ctx context.Context, conn *websocket.Conn, ev workflow.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// terminalEvent 由已结束执行的记录合成终止事件
func terminalEvent(view workflow.ExecutionView) workflow.Event {
	ev := workflow.Event{
		ExecutionID: view.ID,
		Type:        workflow.EventCompleted,
		Flow:        workflow.Flow(view.Flow),
		State:       workflow.State(view.State),
		Result:      view.Result,
		Timestamp:   view.UpdatedAt,
	}
	if view.Status == persistence.ExecutionFailed {
		ev.Type = workflow.EventFailed
		if view.Result != nil && view.Result.Error != nil {
			ev.Error = view.Result.Error.Message
		}
	}
	return ev
}
