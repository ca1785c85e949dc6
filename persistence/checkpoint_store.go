package persistence

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/types"
)

// DefaultMaxCheckpoints 每个文档保留的检查点上限
const DefaultMaxCheckpoints = 3

// CheckpointStore keeps a bounded, rotating snapshot history per document.
//
// 所有写操作在单个事务内完成，并先锁定所属文档行：
//   - Create：淘汰最旧 → 插入快照 → 关联消息
//   - Restore：删除后续消息及其检查点 → 回写内容
//   - Delete：清除消息引用 → 删除检查点
type CheckpointStore struct {
	base
	max int
}

// NewCheckpointStore creates a checkpoint store holding at most max snapshots per document.
func NewCheckpointStore(pool *database.PoolManager, max int, logger *zap.Logger, opts ...Option) *CheckpointStore {
	if max <= 0 {
		max = DefaultMaxCheckpoints
	}
	return &CheckpointStore{base: newBase(pool, logger, "checkpoint_store", opts), max: max}
}

// Max returns the per-document cap.
func (s *CheckpointStore) Max() int { return s.max }

// Create 为消息所在文档的当前内容创建快照并关联到该消息。
// 消息已关联检查点时直接返回该检查点。
func (s *CheckpointStore) Create(ctx context.Context, messageID string) (types.Checkpoint, error) {
	var (
		out     checkpointRow
		evicted []string
	)
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		evicted = evicted[:0]

		var documentID string
		if err := tx.Model(&messageRow{}).Select("document_id").Where("id = ?", messageID).Take(&documentID).Error; err != nil {
			return notFoundOr(err, "message", messageID, "create checkpoint")
		}

		var doc documentRow
		if err := lockDocument(tx, documentID, &doc); err != nil {
			return notFoundOr(err, "document", documentID, "create checkpoint")
		}

		// 持锁后重读：并发的创建可能已关联检查点，或 Restore 已删除该消息
		var msg messageRow
		if err := forUpdate(tx).Where("id = ?", messageID).Take(&msg).Error; err != nil {
			return notFoundOr(err, "message", messageID, "create checkpoint")
		}
		if msg.CheckpointID != nil {
			return tx.Where("id = ?", *msg.CheckpointID).Take(&out).Error
		}

		var existing []checkpointRow
		err := forUpdate(tx).Select("id", "created_at").
			Where("document_id = ?", doc.ID).
			Order("created_at ASC").Order("id ASC").
			Find(&existing).Error
		if err != nil {
			return err
		}

		var last checkpointRow
		if len(existing) > 0 {
			last = existing[len(existing)-1]
		}

		// 先淘汰到 max-1，再插入
		for len(existing) >= s.max {
			victim := existing[0]
			existing = existing[1:]
			if err := tx.Model(&messageRow{}).
				Where("checkpoint_id = ?", victim.ID).
				Update("checkpoint_id", nil).Error; err != nil {
				return err
			}
			if err := tx.Where("id = ?", victim.ID).Delete(&checkpointRow{}).Error; err != nil {
				return err
			}
			evicted = append(evicted, victim.ID)
		}

		now := strictlyAfter(s.timestamp(), last.CreatedAt)
		out = checkpointRow{
			ID:         s.newID(now),
			DocumentID: doc.ID,
			Content:    doc.Content,
			CreatedAt:  now,
		}
		if err := tx.Create(&out).Error; err != nil {
			return err
		}
		return tx.Model(&messageRow{}).
			Where("id = ?", msg.ID).
			Update("checkpoint_id", out.ID).Error
	})
	if err != nil {
		return types.Checkpoint{}, wrapDBError("create checkpoint", err)
	}

	s.logger.Info("checkpoint created",
		zap.String("checkpoint_id", out.ID),
		zap.String("document_id", out.DocumentID),
		zap.String("message_id", messageID),
		zap.Strings("evicted", evicted))
	return out.toCheckpoint(), nil
}

// Get returns one checkpoint or NOT_FOUND.
func (s *CheckpointStore) Get(ctx context.Context, id string) (types.Checkpoint, error) {
	var row checkpointRow
	if err := s.db(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return types.Checkpoint{}, notFoundOr(err, "checkpoint", id, "get checkpoint")
	}
	return row.toCheckpoint(), nil
}

// ListByDocument returns a document's checkpoints, oldest first.
func (s *CheckpointStore) ListByDocument(ctx context.Context, documentID string) ([]types.Checkpoint, error) {
	var rows []checkpointRow
	err := s.db(ctx).Where("document_id = ?", documentID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapDBError("list checkpoints", err)
	}
	out := make([]types.Checkpoint, len(rows))
	for i, r := range rows {
		out[i] = r.toCheckpoint()
	}
	return out, nil
}

// Restore 把文档内容回滚到检查点快照，并删除创建该检查点的消息之后的所有消息
// （连同它们拥有的检查点）。检查点、文档或其所属消息缺失时返回 NOT_FOUND。
func (s *CheckpointStore) Restore(ctx context.Context, id string) (types.DocumentView, error) {
	var (
		view    types.DocumentView
		removed int64
	)
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var documentID string
		if err := tx.Model(&checkpointRow{}).Select("document_id").Where("id = ?", id).Take(&documentID).Error; err != nil {
			return notFoundOr(err, "checkpoint", id, "restore checkpoint")
		}

		var doc documentRow
		if err := lockDocument(tx, documentID, &doc); err != nil {
			return notFoundOr(err, "document", documentID, "restore checkpoint")
		}

		// 持锁后重读：加锁前检查点可能已被淘汰或删除
		var cp checkpointRow
		if err := forUpdate(tx).Where("id = ?", id).Take(&cp).Error; err != nil {
			return notFoundOr(err, "checkpoint", id, "restore checkpoint")
		}

		var owner messageRow
		if err := forUpdate(tx).Where("checkpoint_id = ?", cp.ID).Take(&owner).Error; err != nil {
			return notFoundOr(err, "message for checkpoint", cp.ID, "restore checkpoint")
		}

		var later []string
		err := forUpdate(tx).Model(&messageRow{}).
			Where("document_id = ? AND updated_at > ?", cp.DocumentID, owner.UpdatedAt).
			Pluck("id", &later).Error
		if err != nil {
			return err
		}
		if len(later) > 0 {
			if removed, err = deleteMessages(tx, later); err != nil {
				return err
			}
		}

		err = tx.Model(&documentRow{}).Where("id = ?", cp.DocumentID).
			Updates(map[string]any{"content": cp.Content, "updated_at": s.timestamp()}).Error
		if err != nil {
			return err
		}

		view, err = loadView(tx, cp.DocumentID)
		return err
	})
	if err != nil {
		return types.DocumentView{}, wrapDBError("restore checkpoint", err)
	}

	s.logger.Info("checkpoint restored",
		zap.String("checkpoint_id", id),
		zap.String("document_id", view.Document.ID),
		zap.Int64("messages_removed", removed))
	return view, nil
}

// Delete 删除检查点；引用它的消息保留，仅清除引用。
func (s *CheckpointStore) Delete(ctx context.Context, id string) error {
	err := s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var documentID string
		if err := tx.Model(&checkpointRow{}).Select("document_id").Where("id = ?", id).Take(&documentID).Error; err != nil {
			return notFoundOr(err, "checkpoint", id, "delete checkpoint")
		}
		var doc documentRow
		if err := lockDocument(tx, documentID, &doc); err != nil {
			return notFoundOr(err, "document", documentID, "delete checkpoint")
		}

		if err := tx.Model(&messageRow{}).
			Where("checkpoint_id = ?", id).
			Update("checkpoint_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&checkpointRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewNotFoundError("checkpoint", id)
		}
		return nil
	})
	if err != nil {
		return wrapDBError("delete checkpoint", err)
	}

	s.logger.Info("checkpoint deleted", zap.String("checkpoint_id", id))
	return nil
}
