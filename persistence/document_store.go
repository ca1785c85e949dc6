package persistence

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/types"
)

// DocumentStore persists documents.
type DocumentStore struct {
	base
}

// NewDocumentStore creates a document store.
func NewDocumentStore(pool *database.PoolManager, logger *zap.Logger, opts ...Option) *DocumentStore {
	return &DocumentStore{base: newBase(pool, logger, "document_store", opts)}
}

// Create 插入新文档。doc.ID 为空时生成；ID 已存在时返回已有行（重放安全）。
func (s *DocumentStore) Create(ctx context.Context, doc types.Document) (types.Document, error) {
	if strings.TrimSpace(doc.OwnerID) == "" {
		return types.Document{}, types.NewValidationError("owner_id is required")
	}
	if err := doc.Metadata.Validate(); err != nil {
		return types.Document{}, err
	}

	now := s.timestamp()
	if doc.ID == "" {
		doc.ID = s.newID(now)
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	row, err := newDocumentRow(doc)
	if err != nil {
		return types.Document{}, types.NewValidationError("invalid keywords").WithCause(err)
	}

	var out types.Document
	err = s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var existing documentRow
		err := tx.Where("id = ?", row.ID).Take(&existing).Error
		if err == nil {
			out = existing.toDocument()
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		out = row.toDocument()
		return nil
	})
	if err != nil {
		return types.Document{}, wrapDBError("create document", err)
	}

	s.logger.Debug("document created", zap.String("document_id", out.ID), zap.String("owner_id", out.OwnerID))
	return out, nil
}

// Load returns the document or NOT_FOUND.
func (s *DocumentStore) Load(ctx context.Context, id string) (types.Document, error) {
	var row documentRow
	if err := s.db(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return types.Document{}, notFoundOr(err, "document", id, "load document")
	}
	return row.toDocument(), nil
}

// UpdateContent 只写入非空字段，更新时间总是刷新。
func (s *DocumentStore) UpdateContent(ctx context.Context, id, content, instructions string) (types.Document, error) {
	updates := map[string]any{"updated_at": s.timestamp()}
	if content != "" {
		updates["content"] = content
	}
	if instructions != "" {
		updates["instructions"] = instructions
	}

	var out documentRow
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&documentRow{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewNotFoundError("document", id)
		}
		return tx.Where("id = ?", id).Take(&out).Error
	})
	if err != nil {
		return types.Document{}, wrapDBError("update document content", err)
	}

	s.logger.Debug("document content updated",
		zap.String("document_id", id),
		zap.Bool("content", content != ""),
		zap.Bool("instructions", instructions != ""))
	return out.toDocument(), nil
}

// ListSummaries returns the owner's documents, most recently updated first.
func (s *DocumentStore) ListSummaries(ctx context.Context, ownerID string) ([]types.DocumentSummary, error) {
	var rows []documentRow
	err := s.db(ctx).
		Select("id", "title", "updated_at").
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapDBError("list documents", err)
	}

	out := make([]types.DocumentSummary, len(rows))
	for i, r := range rows {
		out[i] = types.DocumentSummary{ID: r.ID, Title: r.Title, UpdatedAt: r.UpdatedAt.UTC()}
	}
	return out, nil
}

// View 返回文档及其全部消息（按时间升序），每条消息带检查点引用。
func (s *DocumentStore) View(ctx context.Context, id string) (types.DocumentView, error) {
	var view types.DocumentView
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		view, err = loadView(tx, id)
		return err
	})
	if err != nil {
		return types.DocumentView{}, notFoundOr(err, "document", id, "view document")
	}
	return view, nil
}

func loadView(tx *gorm.DB, id string) (types.DocumentView, error) {
	var doc documentRow
	if err := tx.Where("id = ?", id).Take(&doc).Error; err != nil {
		return types.DocumentView{}, err
	}
	var msgs []messageRow
	if err := ascending(tx.Where("document_id = ?", id)).Find(&msgs).Error; err != nil {
		return types.DocumentView{}, err
	}
	return types.DocumentView{Document: doc.toDocument(), Messages: toMessages(msgs)}, nil
}
