package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/migration"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"inkflow"}, args...))
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "inkflow "+Version)
	assert.Contains(t, out, "Git Commit: "+GitCommit)
}

func TestHealthCommand(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ready", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		out, err := runApp(t, "health", "--addr", srv.URL)
		require.NoError(t, err)
		assert.Equal(t, "OK\n", out)
	})

	t.Run("not ready", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := runApp(t, "health", "--addr", srv.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
	})
}

func TestMigrateCommands(t *testing.T) {
	dbURL := migration.BuildDatabaseURL(migration.DatabaseTypeSQLite, "", 0,
		filepath.Join(t.TempDir(), "inkflow.db"), "", "", "")
	flags := []string{"--db-type", "sqlite", "--db-url", dbURL}

	out, err := runApp(t, append([]string{"migrate", "up"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")

	out, err = runApp(t, append([]string{"migrate", "status"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Applied: 2")

	out, err = runApp(t, append([]string{"migrate", "down"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 1")

	// 位置参数须在 flag 之后
	_, err = runApp(t, append(append([]string{"migrate", "down"}, flags...), "zero")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid step count")
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "debug", Format: "json", OutputPaths: []string{"stderr"}})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(-1))

	logger = initLogger(config.LogConfig{Level: "bogus"})
	assert.False(t, logger.Core().Enabled(-1))
}
