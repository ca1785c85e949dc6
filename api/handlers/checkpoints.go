package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/types"
)

// CheckpointService 检查点操作
type CheckpointService interface {
	Create(ctx context.Context, messageID string) (types.Checkpoint, error)
	Get(ctx context.Context, id string) (types.Checkpoint, error)
	Restore(ctx context.Context, id string) (types.DocumentView, error)
	Delete(ctx context.Context, id string) error
}

// OperationRecorder 记录检查点操作结果
type OperationRecorder interface {
	RecordCheckpointOperation(operation string, err error)
}

// CheckpointHandler 处理检查点的创建、查询、恢复与删除
type CheckpointHandler struct {
	checkpoints CheckpointService
	recorder    OperationRecorder
	logger      *zap.Logger
}

// NewCheckpointHandler 创建检查点处理器。recorder 可为 nil。
func NewCheckpointHandler(checkpoints CheckpointService, recorder OperationRecorder, logger *zap.Logger) *CheckpointHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointHandler{
		checkpoints: checkpoints,
		recorder:    recorder,
		logger:      logger.With(zap.String("handler", "checkpoints")),
	}
}

// HandleCreate 处理 POST /api/v1/messages/{id}/checkpoint
func (h *CheckpointHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	cp, err := h.checkpoints.Create(r.Context(), r.PathValue("id"))
	h.record("create", err)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, cp)
}

// HandleGet 处理 GET /api/v1/checkpoints/{id}
func (h *CheckpointHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cp, err := h.checkpoints.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, cp)
}

// HandleRestore 处理 POST /api/v1/checkpoints/{id}/restore，返回恢复后的文档视图
func (h *CheckpointHandler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	view, err := h.checkpoints.Restore(r.Context(), r.PathValue("id"))
	h.record("restore", err)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, view)
}

// HandleDelete 处理 DELETE /api/v1/checkpoints/{id}
func (h *CheckpointHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.checkpoints.Delete(r.Context(), r.PathValue("id"))
	h.record("delete", err)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckpointHandler) record(op string, err error) {
	if h.recorder != nil {
		h.recorder.RecordCheckpointOperation(op, err)
	}
}
