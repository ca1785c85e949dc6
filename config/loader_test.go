// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// 活动策略默认值
	assert.Equal(t, 90*time.Second, cfg.Workflow.ActivityTimeout)
	assert.Equal(t, 5*time.Second, cfg.Workflow.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Workflow.Retry.Multiplier)
	assert.Equal(t, 3, cfg.Workflow.Retry.MaxAttempts)
	assert.Equal(t, 10, cfg.Workflow.HistoryLimit)
	assert.Equal(t, 3, cfg.Checkpoint.MaxPerDocument)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvPrefix("INKFLOW_TEST_NONE").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "inkflow.yaml")
	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
database:
  driver: sqlite
  name: inkflow.db
workflow:
  max_search_calls: 5
  retry:
    max_attempts: 4
    initial_delay: 1s
checkpoint:
  max_per_document: 3
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).WithEnvPrefix("INKFLOW_TEST_NONE").Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "inkflow.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Database.DSN())
	assert.Equal(t, 5, cfg.Workflow.MaxSearchCalls)
	assert.Equal(t, 4, cfg.Workflow.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Workflow.Retry.InitialDelay)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 2.0, cfg.Workflow.Retry.Multiplier)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "inkflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\n"), 0o644))

	t.Setenv("INKFLOW_SERVER_HTTP_PORT", "9999")
	t.Setenv("INKFLOW_WORKFLOW_ACTIVITY_TIMEOUT", "45s")
	t.Setenv("INKFLOW_WORKFLOW_RETRY_MULTIPLIER", "3")
	t.Setenv("INKFLOW_WORKFLOW_JOURNAL_BACKEND", "redis")
	t.Setenv("INKFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/inkflow.log")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 45*time.Second, cfg.Workflow.ActivityTimeout)
	assert.Equal(t, 3.0, cfg.Workflow.Retry.Multiplier)
	assert.Equal(t, "redis", cfg.Workflow.JournalBackend)
	assert.Equal(t, []string{"stdout", "/var/log/inkflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("INKFLOW_SERVER_HTTP_PORT", "not-a-number")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INKFLOW_SERVER_HTTP_PORT")
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		WithEnvPrefix("INKFLOW_TEST_NONE").
		Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Workflow, cfg.Workflow)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().
		WithEnvPrefix("INKFLOW_TEST_NONE").
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.NoError(t, err)

	t.Setenv("INKFLOW_TEST_BAD_CHECKPOINT_MAX_PER_DOCUMENT", "0")
	_, err = NewLoader().
		WithEnvPrefix("INKFLOW_TEST_BAD").
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_per_document")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "unsupported database driver"},
		{"zero attempts", func(c *Config) { c.Workflow.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"bad journal", func(c *Config) { c.Workflow.JournalBackend = "disk" }, "journal backend"},
		{"zero timeout", func(c *Config) { c.Workflow.ActivityTimeout = 0 }, "activity_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true", my.DSN())

	assert.Equal(t, "", (&DatabaseConfig{Driver: "oracle"}).DSN())

	lite := &DatabaseConfig{Driver: "sqlite", Name: "file::memory:?cache=shared"}
	assert.Equal(t, "file::memory:?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", lite.DSN())
	pinned := &DatabaseConfig{Driver: "sqlite", Name: "x.db?_pragma=foreign_keys(0)"}
	assert.Equal(t, "x.db?_pragma=foreign_keys(0)", pinned.DSN())
}
