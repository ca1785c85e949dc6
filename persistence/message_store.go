package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/types"
)

// MessageStore persists edit-conversation messages.
type MessageStore struct {
	base
}

// NewMessageStore creates a message store.
func NewMessageStore(pool *database.PoolManager, logger *zap.Logger, opts ...Option) *MessageStore {
	return &MessageStore{base: newBase(pool, logger, "message_store", opts)}
}

// ascending 消息与检查点统一的时间序：时间戳升序，ID 兜底
func ascending(tx *gorm.DB) *gorm.DB {
	return tx.Order("updated_at ASC").Order("id ASC")
}

// Append 追加一条消息。idempotencyKey 非空时，同一键的重复追加返回已有行；
// 该键已用于其他文档时返回 VALIDATION_FAILED。
// 同一文档内 updated_at 严格递增。
func (s *MessageStore) Append(ctx context.Context, documentID, userText, aiText, idempotencyKey string) (types.Message, error) {
	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
	}

	var out messageRow
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var doc documentRow
		if err := lockDocument(tx, documentID, &doc); err != nil {
			return notFoundOr(err, "document", documentID, "append message")
		}

		if key != nil {
			err := tx.Where("idempotency_key = ?", *key).Take(&out).Error
			if err == nil {
				if out.DocumentID != documentID {
					return types.NewValidationError(fmt.Sprintf(
						"idempotency key %q already used for another document", *key))
				}
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		var last messageRow
		err := forUpdate(tx).Where("document_id = ?", documentID).
			Order("updated_at DESC").Order("id DESC").
			Take(&last).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := strictlyAfter(s.timestamp(), last.UpdatedAt)
		out = messageRow{
			ID:             s.newID(now),
			DocumentID:     documentID,
			UserText:       userText,
			AIText:         aiText,
			IdempotencyKey: key,
			UpdatedAt:      now,
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		return types.Message{}, wrapDBError("append message", err)
	}

	s.logger.Debug("message appended",
		zap.String("document_id", documentID),
		zap.String("message_id", out.ID))
	return out.toMessage(), nil
}

// Get returns one message or NOT_FOUND.
func (s *MessageStore) Get(ctx context.Context, id string) (types.Message, error) {
	var row messageRow
	if err := s.db(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return types.Message{}, notFoundOr(err, "message", id, "get message")
	}
	return row.toMessage(), nil
}

// ListByDocumentAscending returns all messages of a document, oldest first.
func (s *MessageStore) ListByDocumentAscending(ctx context.Context, documentID string) ([]types.Message, error) {
	var rows []messageRow
	if err := ascending(s.db(ctx).Where("document_id = ?", documentID)).Find(&rows).Error; err != nil {
		return nil, wrapDBError("list messages", err)
	}
	return toMessages(rows), nil
}

// ListRecent 返回最近 limit 条消息，仍按时间升序排列
func (s *MessageStore) ListRecent(ctx context.Context, documentID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return s.ListByDocumentAscending(ctx, documentID)
	}
	var rows []messageRow
	err := s.db(ctx).Where("document_id = ?", documentID).
		Order("updated_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapDBError("list recent messages", err)
	}
	slices.Reverse(rows)
	return toMessages(rows), nil
}

// DeleteByIDs 删除消息及其拥有的检查点，返回删除的消息数
func (s *MessageStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var err error
		deleted, err = deleteMessages(tx, ids)
		return err
	})
	if err != nil {
		return 0, wrapDBError("delete messages", err)
	}
	return deleted, nil
}

func deleteMessages(tx *gorm.DB, ids []string) (int64, error) {
	var owned []string
	err := tx.Model(&messageRow{}).
		Where("id IN ? AND checkpoint_id IS NOT NULL", ids).
		Pluck("checkpoint_id", &owned).Error
	if err != nil {
		return 0, err
	}

	res := tx.Where("id IN ?", ids).Delete(&messageRow{})
	if res.Error != nil {
		return 0, res.Error
	}
	if len(owned) > 0 {
		if err := tx.Where("id IN ?", owned).Delete(&checkpointRow{}).Error; err != nil {
			return 0, err
		}
	}
	return res.RowsAffected, nil
}
