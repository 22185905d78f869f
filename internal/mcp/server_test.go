package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frak-id/atelier-sub002/internal/hierarchy"
	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/progress"
	"github.com/frak-id/atelier-sub002/internal/store"
	"github.com/frak-id/atelier-sub002/internal/tasks"
)

type fakeProgress struct{}

func (fakeProgress) ForTask(_ context.Context, task *models.Task) *progress.TaskProgress {
	root := models.Session{ID: "ses_root", Title: "root"}
	child := models.Session{ID: "ses_child", ParentID: "ses_root"}
	return &progress.TaskProgress{
		TaskID:    task.ID,
		Hierarchy: []*hierarchy.Node{{Session: root, Children: []*hierarchy.Node{{Session: child}}}},
		SessionInteractions: []models.Interaction{
			{SessionID: "ses_root", Status: models.SessionStatusIdle},
			{SessionID: "ses_child", Status: models.SessionStatusBusy, PendingQuestions: []models.QuestionRequest{{ID: "q1"}}},
		},
		AggregatedInteraction: models.AggregatedInteractionState{Status: models.SessionStatusBusy},
		NeedsAttention:        true,
		HasBusySessions:       true,
		TodoProgress:          models.TodoProgress{Completed: 1, Total: 2, Pending: 1},
		RootSessionCount:      1,
		TotalSessionCount:     2,
		Unavailable:           []string{},
	}
}

type fakeController struct {
	calls []string
	err   error
}

func (c *fakeController) Apply(_ context.Context, sandboxID string, action models.SandboxAction) error {
	c.calls = append(c.calls, string(action)+":"+sandboxID)
	return c.err
}

func setupServer(t *testing.T) (*Server, *tasks.Service, *fakeController) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := tasks.NewService(store.NewTaskStore(db), 1, logger)
	ctrl := &fakeController{}
	return NewServer(svc, fakeProgress{}, ctrl, "test", logger), svc, ctrl
}

// callTool connects an in-memory client to the server and calls a tool.
func callTool(t *testing.T, srv *Server, name string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	t1, t2 := gomcp.NewInMemoryTransports()
	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	defer session.Close()

	result, err := session.CallTool(ctx, &gomcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	return result
}

func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decodeResult[T any](t *testing.T, result *gomcp.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, extractText(result))

	var out T
	data := []byte(extractText(result))
	if result.StructuredContent != nil {
		var err error
		data, err = json.Marshal(result.StructuredContent)
		require.NoError(t, err)
	}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestCreateAndGetTask(t *testing.T) {
	srv, _, _ := setupServer(t)

	created := decodeResult[taskOutput](t, callTool(t, srv, "create_task", map[string]any{
		"workspace_id": "ws_1",
		"title":        "Add login",
		"description":  "OAuth flow",
	}))
	assert.Equal(t, "draft", created.Status)
	assert.NotEmpty(t, created.ID)

	got := decodeResult[taskOutput](t, callTool(t, srv, "get_task", map[string]any{"task_id": created.ID}))
	assert.Equal(t, "Add login", got.Title)
	assert.Equal(t, "OAuth flow", got.Description)

	result := callTool(t, srv, "get_task", map[string]any{"task_id": "task_missing"})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(result), "not found")
}

func TestListTasks(t *testing.T) {
	srv, svc, _ := setupServer(t)
	ctx := context.Background()
	for _, ws := range []string{"ws_1", "ws_1", "ws_2"} {
		_, err := svc.Create(ctx, &models.CreateTaskRequest{WorkspaceID: ws, Title: "t", Description: "d"})
		require.NoError(t, err)
	}

	all := decodeResult[listTasksOutput](t, callTool(t, srv, "list_tasks", map[string]any{}))
	assert.Equal(t, 3, all.Count)

	ws1 := decodeResult[listTasksOutput](t, callTool(t, srv, "list_tasks", map[string]any{"workspace_id": "ws_1"}))
	assert.Equal(t, 2, ws1.Count)

	queued := decodeResult[listTasksOutput](t, callTool(t, srv, "list_tasks", map[string]any{"status": "queue"}))
	assert.Equal(t, 0, queued.Count)

	result := callTool(t, srv, "list_tasks", map[string]any{"status": "archived"})
	assert.True(t, result.IsError)
}

func TestStartTaskAdmission(t *testing.T) {
	srv, svc, _ := setupServer(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, &models.CreateTaskRequest{WorkspaceID: "ws_1", Title: "one", Description: "d"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, first.ID)
	require.NoError(t, err)
	_, err = svc.MoveToInProgress(ctx, first.ID, &models.AdvanceTaskRequest{SandboxID: "sbx_1", SessionID: "ses_1"})
	require.NoError(t, err)

	second, err := svc.Create(ctx, &models.CreateTaskRequest{WorkspaceID: "ws_1", Title: "two", Description: "d"})
	require.NoError(t, err)

	result := callTool(t, srv, "start_task", map[string]any{"task_id": second.ID})
	require.True(t, result.IsError)
	assert.Contains(t, extractText(result), "max 1")

	other, err := svc.Create(ctx, &models.CreateTaskRequest{WorkspaceID: "ws_2", Title: "three", Description: "d"})
	require.NoError(t, err)
	started := decodeResult[taskOutput](t, callTool(t, srv, "start_task", map[string]any{"task_id": other.ID}))
	assert.Equal(t, "queue", started.Status)
}

func TestGetTaskProgress(t *testing.T) {
	srv, svc, _ := setupServer(t)
	task, err := svc.Create(context.Background(), &models.CreateTaskRequest{WorkspaceID: "ws_1", Title: "t", Description: "d"})
	require.NoError(t, err)

	out := decodeResult[progressOutput](t, callTool(t, srv, "get_task_progress", map[string]any{"task_id": task.ID}))
	assert.Equal(t, "busy", out.Status)
	assert.True(t, out.NeedsAttention)
	require.Len(t, out.Sessions, 2)
	assert.Equal(t, "ses_root", out.Sessions[0].ID)
	assert.Equal(t, "ses_root", out.Sessions[1].ParentID)
	assert.Equal(t, 1, out.Sessions[1].PendingQuestions)
	assert.Equal(t, 2, out.Todos.Total)
}

func TestResetTask(t *testing.T) {
	srv, svc, ctrl := setupServer(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, &models.CreateTaskRequest{WorkspaceID: "ws_1", Title: "t", Description: "d"})
	require.NoError(t, err)
	_, err = svc.Start(ctx, task.ID)
	require.NoError(t, err)
	_, err = svc.MoveToInProgress(ctx, task.ID, &models.AdvanceTaskRequest{SandboxID: "sbx_1", SessionID: "ses_1"})
	require.NoError(t, err)

	ctrl.err = errors.New("manager unreachable")
	out := decodeResult[resetTaskOutput](t, callTool(t, srv, "reset_task", map[string]any{
		"task_id":        task.ID,
		"sandbox_action": "destroy",
	}))
	assert.Equal(t, "draft", out.Task.Status)
	assert.Empty(t, out.Task.SandboxID)
	assert.Equal(t, "sbx_1", out.SandboxID)
	assert.Equal(t, "manager unreachable", out.SandboxActionError)
	assert.Equal(t, []string{"destroy:sbx_1"}, ctrl.calls)

	result := callTool(t, srv, "reset_task", map[string]any{"task_id": task.ID})
	assert.True(t, result.IsError, "a draft cannot be reset")

	result = callTool(t, srv, "reset_task", map[string]any{"task_id": task.ID, "sandbox_action": "explode"})
	assert.True(t, result.IsError)
}
