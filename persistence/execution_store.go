package persistence

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/inkflow/internal/database"
)

// ExecutionStatus 工作流执行状态
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ExecutionRecord is the durable trace of one workflow execution.
type ExecutionRecord struct {
	ID         string          `json:"id"`
	Flow       string          `json:"flow"`
	State      string          `json:"state"`
	Status     ExecutionStatus `json:"status"`
	DocumentID string          `json:"document_id,omitempty"`
	Request    json.RawMessage `json:"request"`
	Result     json.RawMessage `json:"result,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ExecutionStore persists execution records at every state transition.
type ExecutionStore struct {
	base
}

// NewExecutionStore creates an execution store.
func NewExecutionStore(pool *database.PoolManager, logger *zap.Logger, opts ...Option) *ExecutionStore {
	return &ExecutionStore{base: newBase(pool, logger, "execution_store", opts)}
}

// Save 插入或更新执行记录；created_at 与 request 只在首次写入时落库。
func (s *ExecutionStore) Save(ctx context.Context, rec ExecutionRecord) (ExecutionRecord, error) {
	now := s.timestamp()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.CreatedAt = normalize(rec.CreatedAt)
	rec.UpdatedAt = now

	row := executionRow{
		ID:         rec.ID,
		Flow:       rec.Flow,
		State:      rec.State,
		Status:     string(rec.Status),
		DocumentID: rec.DocumentID,
		Request:    string(rec.Request),
		Result:     string(rec.Result),
		ErrorCode:  rec.ErrorCode,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "status", "document_id", "result", "error_code", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return ExecutionRecord{}, wrapDBError("save execution", err)
	}
	return rec, nil
}

// Get returns one execution record or NOT_FOUND.
func (s *ExecutionStore) Get(ctx context.Context, id string) (ExecutionRecord, error) {
	var row executionRow
	if err := s.db(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return ExecutionRecord{}, notFoundOr(err, "execution", id, "get execution")
	}
	return row.toRecord(), nil
}

// ListByStatus returns records in the given status, oldest first.
func (s *ExecutionStore) ListByStatus(ctx context.Context, status ExecutionStatus, limit int) ([]ExecutionRecord, error) {
	q := s.db(ctx).Where("status = ?", string(status)).Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []executionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, wrapDBError("list executions", err)
	}
	out := make([]ExecutionRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}

func (r executionRow) toRecord() ExecutionRecord {
	rec := ExecutionRecord{
		ID:         r.ID,
		Flow:       r.Flow,
		State:      r.State,
		Status:     ExecutionStatus(r.Status),
		DocumentID: r.DocumentID,
		ErrorCode:  r.ErrorCode,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.Request != "" {
		rec.Request = json.RawMessage(r.Request)
	}
	if r.Result != "" {
		rec.Result = json.RawMessage(r.Result)
	}
	return rec
}
