package testutil

import (
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/internal/migration"
)

// NewSQLitePool 打开独立的内存 SQLite 库并执行全部迁移。
// 单连接：连接关闭即丢库，因此迁移器不调用 Close。
func NewSQLitePool(t testing.TB) *database.PoolManager {
	t.Helper()

	pool, err := database.Open(config.DatabaseConfig{Driver: "sqlite", Name: "file::memory:"}, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	sqlDB, err := pool.DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	m, err := migration.NewMigratorWithDB(migration.DatabaseTypeSQLite, sqlDB)
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	if err := m.Up(TestContextTB(t)); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return pool
}
