package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/ctxkeys"
	"github.com/BaSui01/inkflow/types"
	"github.com/BaSui01/inkflow/workflow"
)

// IdempotencyHeader 携带调用方指定的执行 ID
const IdempotencyHeader = "Idempotency-Key"

// Workflow 是处理器使用的协调器操作
type Workflow interface {
	Submit(ctx context.Context, req workflow.Request) workflow.Result
	SubmitAsync(ctx context.Context, req workflow.Request) (string, error)
	Execution(ctx context.Context, id string) (workflow.ExecutionView, error)
	Events() *workflow.EventBroker
}

// DocumentReader 文档只读查询
type DocumentReader interface {
	ListSummaries(ctx context.Context, ownerID string) ([]types.DocumentSummary, error)
	View(ctx context.Context, id string) (types.DocumentView, error)
}

// CreateDocumentRequest 是 POST /documents 的请求体
type CreateDocumentRequest struct {
	OwnerID  string                 `json:"owner_id"`
	Metadata types.DocumentMetadata `json:"metadata"`
}

// EditDocumentRequest 是 POST /documents/{id}/messages 的请求体
type EditDocumentRequest struct {
	UserMessage      string   `json:"user_message"`
	Sections         []string `json:"sections,omitempty"`
	CreateCheckpoint bool     `json:"create_checkpoint,omitempty"`
}

// AcceptedResponse 异步提交的响应
type AcceptedResponse struct {
	ExecutionID string `json:"execution_id"`
}

// DocumentHandler 处理文档创建、编辑与查询
type DocumentHandler struct {
	wf     Workflow
	docs   DocumentReader
	logger *zap.Logger
}

// NewDocumentHandler 创建文档处理器
func NewDocumentHandler(wf Workflow, docs DocumentReader, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{wf: wf, docs: docs, logger: logger.With(zap.String("handler", "documents"))}
}

// HandleCreate 处理 POST /api/v1/documents。?async=true 时返回 202 与执行 ID。
func (h *DocumentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var body CreateDocumentRequest
	if err := DecodeJSONBody(w, r, &body); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	req := workflow.Request{
		ExecutionID: r.Header.Get(IdempotencyHeader),
		OwnerID:     body.OwnerID,
		Metadata:    body.Metadata,
	}
	h.submit(w, r, req, http.StatusCreated)
}

// HandleEdit 处理 POST /api/v1/documents/{id}/messages
func (h *DocumentHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	var body EditDocumentRequest
	if err := DecodeJSONBody(w, r, &body); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	req := workflow.Request{
		ExecutionID:      r.Header.Get(IdempotencyHeader),
		DocumentID:       r.PathValue("id"),
		UserMessage:      body.UserMessage,
		Sections:         body.Sections,
		CreateCheckpoint: body.CreateCheckpoint,
	}
	h.submit(w, r, req, http.StatusOK)
}

// HandleList 处理 GET /api/v1/documents?owner_id=
func (h *DocumentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_id")
	if owner == "" {
		WriteErrorMessage(w, r, types.ErrValidation, "owner_id is required", h.logger)
		return
	}
	summaries, err := h.docs.ListSummaries(r.Context(), owner)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if summaries == nil {
		summaries = []types.DocumentSummary{}
	}
	WriteSuccess(w, r, summaries)
}

// HandleGet 处理 GET /api/v1/documents/{id}
func (h *DocumentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.docs.View(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, view)
}

func (h *DocumentHandler) submit(w http.ResponseWriter, r *http.Request, req workflow.Request, okStatus int) {
	ctx := r.Context()
	if req.ExecutionID != "" {
		ctx = ctxkeys.WithExecutionID(ctx, req.ExecutionID)
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		id, err := h.wf.SubmitAsync(ctx, req)
		if err != nil {
			WriteError(w, r, err, h.logger)
			return
		}
		w.Header().Set("Location", "/api/v1/executions/"+id)
		WriteStatus(w, r, http.StatusAccepted, AcceptedResponse{ExecutionID: id})
		return
	}

	res := h.wf.Submit(ctx, req)
	writeResult(w, r, res, okStatus)
}

// writeResult 写出执行结果；失败结果仍携带结果体，便于调用方读取执行 ID。
func writeResult(w http.ResponseWriter, r *http.Request, res workflow.Result, okStatus int) {
	if !res.Failed() {
		WriteStatus(w, r, okStatus, res)
		return
	}
	WriteJSON(w, statusForCode(res.Error.Code), Response{
		Success: false,
		Data:    res,
		Error: &ErrorInfo{
			Code:    string(res.Error.Code),
			Message: res.Error.Message,
			State:   string(res.Error.State),
		},
		Timestamp: time.Now().UTC(),
		RequestID: requestID(r),
	})
}
