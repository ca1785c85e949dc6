package persistence

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/types"
)

// Clock 返回当前时间；测试中注入固定时钟
type Clock func() time.Time

// IDGenerator 生成实体主键
type IDGenerator func(t time.Time) string

// Option configures a store.
type Option func(*base)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(b *base) {
		if c != nil {
			b.now = c
		}
	}
}

// WithIDGenerator overrides ID generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(b *base) {
		if g != nil {
			b.newID = g
		}
	}
}

type base struct {
	pool   *database.PoolManager
	logger *zap.Logger
	now    Clock
	newID  IDGenerator
}

func newBase(pool *database.PoolManager, logger *zap.Logger, component string, opts []Option) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := base{
		pool:   pool,
		logger: logger.With(zap.String("component", component)),
		now:    time.Now,
		newID:  NewID,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) db(ctx context.Context) *gorm.DB {
	return b.pool.DB().WithContext(ctx)
}

func (b *base) timestamp() time.Time {
	return normalize(b.now())
}

// NewID 返回按时间排序的 ULID
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// DeriveID 由种子确定性地派生 ULID：同一种子、同一时刻得到同一 ID。
// 工作流重放时据此让创建类活动幂等。
func DeriveID(seed string, t time.Time) string {
	sum := sha256.Sum256([]byte(seed))
	var id ulid.ULID
	if err := id.SetTime(ulid.Timestamp(t)); err != nil {
		// 超出 ULID 时间范围时退化为零时间戳
		_ = id.SetTime(0)
	}
	copy(id[6:], sum[:10])
	return id.String()
}

// normalize 统一为 UTC 微秒精度：三种方言都能无损往返，且去掉单调时钟读数。
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// strictlyAfter 返回不早于 now 且严格晚于 last 的时间戳
func strictlyAfter(now, last time.Time) time.Time {
	if last.IsZero() || now.After(last) {
		return now
	}
	return normalize(last).Add(time.Microsecond)
}

// forUpdate 加行锁读取（SELECT ... FOR UPDATE）。sqlite 方言忽略该子句，
// 其写事务本身串行。
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// lockDocument 锁定文档行。同一文档上的消息与检查点写事务都先取得该锁，
// 因此检查点上限与消息时间序在并发写入下依然成立；加锁之后的读取
// 也使用 forUpdate，读到的是最新提交的数据。
func lockDocument(tx *gorm.DB, id string, dest *documentRow) error {
	return forUpdate(tx).Where("id = ?", id).Take(dest).Error
}

func notFoundOr(err error, entity, id, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NewNotFoundError(entity, id)
	}
	return wrapDBError(op, err)
}

// wrapDBError 把驱动错误归类为可重试的基础设施错误；已分类的错误与取消原样返回。
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewTransientError(op, err)
}

// Stores bundles every store over one pool.
type Stores struct {
	Documents   *DocumentStore
	Messages    *MessageStore
	Checkpoints *CheckpointStore
	Executions  *ExecutionStore
}

// NewStores creates all stores sharing the given options.
func NewStores(pool *database.PoolManager, maxCheckpoints int, logger *zap.Logger, opts ...Option) *Stores {
	return &Stores{
		Documents:   NewDocumentStore(pool, logger, opts...),
		Messages:    NewMessageStore(pool, logger, opts...),
		Checkpoints: NewCheckpointStore(pool, maxCheckpoints, logger, opts...),
		Executions:  NewExecutionStore(pool, logger, opts...),
	}
}
