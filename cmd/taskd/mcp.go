package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frak-id/atelier-sub002/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the task tools over MCP on stdio",
	Long: `Serve list_tasks, get_task, get_task_progress, create_task, start_task and reset_task
to an MCP client over stdio. Progress is read from the sandbox runtimes directly
and shares the database with a running server.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(svc.tasks, svc.progress, svc.controller, version, logger)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
