package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/data/tasks.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.MaxActiveTasks)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.SSEInitialRetry)
	assert.Equal(t, 30*time.Second, cfg.SSEMaxRetry)
	assert.Equal(t, 10, cfg.SSEMaxAttempts)
	assert.True(t, cfg.AutoAdvance)
	assert.Empty(t, cfg.SandboxManagerURL)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_ACTIVE_TASKS", "5")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("AUTO_ADVANCE", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.MaxActiveTasks)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.False(t, cfg.AutoAdvance)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks_db_path: /tmp/tasks.db
sandbox_manager_url: http://manager:7000
sse_max_attempts: 4
port: 7000
`), 0o644))
	t.Setenv(FileEnv, path)
	t.Setenv("PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tasks.db", cfg.DBPath)
	assert.Equal(t, "http://manager:7000", cfg.SandboxManagerURL)
	assert.Equal(t, 4, cfg.SSEMaxAttempts)
	assert.Equal(t, 7100, cfg.Port, "environment wins over the file")

	t.Run("missing file", func(t *testing.T) {
		t.Setenv(FileEnv, filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	v := viper.New()
	v.Set("PORT", 9191)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Port)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"empty db path", map[string]string{"TASKS_DB_PATH": " "}},
		{"zero capacity", map[string]string{"MAX_ACTIVE_TASKS": "0"}},
		{"negative poll interval", map[string]string{"POLL_INTERVAL": "-1s"}},
		{"zero attempts", map[string]string{"SSE_MAX_ATTEMPTS": "0"}},
		{"initial above max", map[string]string{"SSE_INITIAL_RETRY": "1m", "SSE_MAX_RETRY": "30s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
