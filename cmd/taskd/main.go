package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frak-id/atelier-sub002/internal/config"
)

var version = "dev"

// settings collects flag bindings; config.LoadFrom layers env and file
// values underneath.
var settings = viper.New()

var rootCmd = &cobra.Command{
	Use:           "taskd",
	Short:         "Task board for agent sessions running in sandboxes",
	Long:          `taskd tracks tasks through draft, queue, in progress, review and completion, and reports the live progress of the agent sessions working on them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("db", "", "path to the tasks database (TASKS_DB_PATH)")
	flags.String("log-level", "", "log level: debug, info, warn, error (LOG_LEVEL)")
	flags.String("config", "", "optional YAML config file ("+config.FileEnv+")")
	_ = settings.BindPFlag("TASKS_DB_PATH", flags.Lookup("db"))
	_ = settings.BindPFlag("LOG_LEVEL", flags.Lookup("log-level"))
	_ = settings.BindPFlag(config.FileEnv, flags.Lookup("config"))

	rootCmd.AddCommand(serveCmd, mcpCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "taskd: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration and installs the default logger. MCP
// speaks on stdout, so its logs go to stderr.
func loadConfig(logOut *os.File) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFrom(settings)
	if err != nil {
		return nil, nil, err
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
