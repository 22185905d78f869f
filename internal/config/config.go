package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileEnv names the optional YAML file whose keys are the lower-cased
// environment variable names below.
const FileEnv = "TASKD_CONFIG"

type Config struct {
	Port     int
	DBPath   string
	LogLevel string
	// Tasks
	MaxActiveTasks int
	// Sandboxes
	SandboxDirectory  string
	SandboxManagerURL string
	// Agent runtime
	PollInterval         time.Duration
	OpencodeTimeout      time.Duration
	TodoFetchConcurrency int
	// Live updates
	SSEInitialRetry time.Duration
	SSEMaxRetry     time.Duration
	SSEMaxAttempts  int
	// Auto-advance
	AutoAdvance          bool
	AutoAdvanceIdleTicks int
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("TASKS_DB_PATH", "/data/tasks.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_ACTIVE_TASKS", 3)
	v.SetDefault("SANDBOX_DIRECTORY", "/data/sandboxes.yaml")
	v.SetDefault("SANDBOX_MANAGER_URL", "")
	v.SetDefault("POLL_INTERVAL", "2s")
	v.SetDefault("OPENCODE_TIMEOUT", "10s")
	v.SetDefault("TODO_FETCH_CONCURRENCY", 8)
	v.SetDefault("SSE_INITIAL_RETRY", "3s")
	v.SetDefault("SSE_MAX_RETRY", "30s")
	v.SetDefault("SSE_MAX_ATTEMPTS", 10)
	v.SetDefault("AUTO_ADVANCE", true)
	v.SetDefault("AUTO_ADVANCE_IDLE_TICKS", 2)
}

// Load reads configuration from the environment and the optional file.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom resolves configuration through v, which may already carry bound
// command-line flags. Flags win over the environment, which wins over the
// file.
func LoadFrom(v *viper.Viper) (*Config, error) {
	defaults(v)
	v.AutomaticEnv()

	if path := v.GetString(FileEnv); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:                 v.GetInt("PORT"),
		DBPath:               v.GetString("TASKS_DB_PATH"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		MaxActiveTasks:       v.GetInt("MAX_ACTIVE_TASKS"),
		SandboxDirectory:     v.GetString("SANDBOX_DIRECTORY"),
		SandboxManagerURL:    v.GetString("SANDBOX_MANAGER_URL"),
		PollInterval:         v.GetDuration("POLL_INTERVAL"),
		OpencodeTimeout:      v.GetDuration("OPENCODE_TIMEOUT"),
		TodoFetchConcurrency: v.GetInt("TODO_FETCH_CONCURRENCY"),
		SSEInitialRetry:      v.GetDuration("SSE_INITIAL_RETRY"),
		SSEMaxRetry:          v.GetDuration("SSE_MAX_RETRY"),
		SSEMaxAttempts:       v.GetInt("SSE_MAX_ATTEMPTS"),
		AutoAdvance:          v.GetBool("AUTO_ADVANCE"),
		AutoAdvanceIdleTicks: v.GetInt("AUTO_ADVANCE_IDLE_TICKS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("TASKS_DB_PATH must not be empty")
	}
	if strings.TrimSpace(c.SandboxDirectory) == "" {
		return errors.New("SANDBOX_DIRECTORY must not be empty")
	}
	if c.MaxActiveTasks < 1 {
		return fmt.Errorf("MAX_ACTIVE_TASKS must be positive, got %d", c.MaxActiveTasks)
	}
	if c.TodoFetchConcurrency < 1 {
		return fmt.Errorf("TODO_FETCH_CONCURRENCY must be positive, got %d", c.TodoFetchConcurrency)
	}
	if c.SSEMaxAttempts < 1 {
		return fmt.Errorf("SSE_MAX_ATTEMPTS must be positive, got %d", c.SSEMaxAttempts)
	}
	if c.AutoAdvanceIdleTicks < 1 {
		return fmt.Errorf("AUTO_ADVANCE_IDLE_TICKS must be positive, got %d", c.AutoAdvanceIdleTicks)
	}
	for name, d := range map[string]time.Duration{
		"POLL_INTERVAL":     c.PollInterval,
		"OPENCODE_TIMEOUT":  c.OpencodeTimeout,
		"SSE_INITIAL_RETRY": c.SSEInitialRetry,
		"SSE_MAX_RETRY":     c.SSEMaxRetry,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.SSEInitialRetry > c.SSEMaxRetry {
		return fmt.Errorf("SSE_INITIAL_RETRY (%s) must not exceed SSE_MAX_RETRY (%s)", c.SSEInitialRetry, c.SSEMaxRetry)
	}
	return nil
}
