package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inkflow/config"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"POSTGRES", DatabaseTypePostgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	assert.Equal(t,
		"postgres://u:p@db:5432/inkflow?sslmode=disable",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "inkflow", "u", "p", "disable"))
	assert.Equal(t,
		"postgres://u:p@db:5432/inkflow?sslmode=require",
		BuildDatabaseURL(DatabaseTypePostgres, "db", 5432, "inkflow", "u", "p", ""))
	assert.Equal(t,
		"u:p@tcp(db:3306)/inkflow?parseTime=true&multiStatements=true",
		BuildDatabaseURL(DatabaseTypeMySQL, "db", 3306, "inkflow", "u", "p", ""))
	assert.Equal(t,
		"file:/tmp/x.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		BuildDatabaseURL(DatabaseTypeSQLite, "", 0, "/tmp/x.db", "", "", ""))
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.ErrorContains(t, err, "database URL is required")

	_, err = NewMigratorFromConfig(config.DatabaseConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "invalid database type")
}

func TestAvailableMigrations_SortedPerDialect(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		files, err := availableMigrations(dbType)
		require.NoError(t, err, dbType)
		require.Len(t, files, 2, dbType)
		assert.Equal(t, uint(1), files[0].version)
		assert.Equal(t, "init_schema", files[0].name)
		assert.Equal(t, "workflow_executions", files[1].name)
	}
}

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "inkflow.db")
	m, err := NewMigratorFromConfig(config.DatabaseConfig{Driver: "sqlite", Name: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dbPath
}

func TestMigrator_SQLite_Integration(t *testing.T) {
	m, dbPath := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	// 重复执行无变化
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, 2, info.AppliedMigrations)
	assert.Equal(t, 0, info.PendingMigrations)

	db, err := sql.Open("sqlite", BuildDatabaseURL(DatabaseTypeSQLite, "", 0, dbPath, "", "", ""))
	require.NoError(t, err)
	defer db.Close()
	for _, table := range []string{"documents", "messages", "checkpoints", "workflow_executions"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)
}

func TestCLI_Output(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	ctx := context.Background()

	var buf bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&buf)

	require.NoError(t, cli.RunVersion(ctx))
	assert.Contains(t, buf.String(), "No migrations applied yet")

	buf.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, buf.String(), "Current version: 2")

	buf.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Contains(t, buf.String(), "init_schema")
	assert.Contains(t, buf.String(), "Applied: 2, Pending: 0")

	buf.Reset()
	require.NoError(t, cli.RunSteps(ctx, -2))
	assert.Contains(t, buf.String(), "Rolling back 2 migration(s)")
}

func TestNewMigratorWithDB_SharedMemory(t *testing.T) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	m, err := NewMigratorWithDB(DatabaseTypeSQLite, db)
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))

	// 同一连接上可见迁移结果
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n))
	assert.Zero(t, n)

	_, err = NewMigratorWithDB(DatabaseTypeSQLite, nil)
	assert.Error(t, err)
}
