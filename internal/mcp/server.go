// Package mcp exposes the task board as MCP tools so coding agents can read
// progress and drive tasks through their lifecycle.
package mcp

import (
	"context"
	"log/slog"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/progress"
	"github.com/frak-id/atelier-sub002/internal/sandboxes"
)

// TaskService is the subset of the task lifecycle the tools drive.
type TaskService interface {
	List(ctx context.Context, workspaceID string) ([]*models.Task, error)
	Get(ctx context.Context, id string) (*models.Task, error)
	Create(ctx context.Context, req *models.CreateTaskRequest) (*models.Task, error)
	Start(ctx context.Context, id string) (*models.Task, error)
	ResetToDraft(ctx context.Context, id string) (*models.Task, string, error)
}

// ProgressService computes a task's live progress.
type ProgressService interface {
	ForTask(ctx context.Context, task *models.Task) *progress.TaskProgress
}

// Server wraps the task services and exposes them as MCP tools.
type Server struct {
	server     *gomcp.Server
	tasks      TaskService
	progress   ProgressService
	controller sandboxes.Controller
	logger     *slog.Logger
}

func NewServer(taskSvc TaskService, progressSvc ProgressService, controller sandboxes.Controller, version string, logger *slog.Logger) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		tasks:      taskSvc,
		progress:   progressSvc,
		controller: controller,
		logger:     logger.With("component", "mcp"),
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "taskd", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server, for in-memory transports in tests.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}
