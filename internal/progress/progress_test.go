package progress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/snapshot"
	"github.com/frak-id/atelier-sub002/internal/tasks"
)

func taskWithSessions(ids ...string) *models.Task {
	t := &models.Task{
		ID:          "task_1",
		WorkspaceID: "ws",
		Status:      models.TaskStatusInProgress,
		Data:        models.TaskData{SandboxID: "sbx_1"},
	}
	for i, id := range ids {
		t.Data.Sessions = append(t.Data.Sessions, models.TaskSession{ID: id, Order: i})
	}
	return t
}

func TestComputeScenarios(t *testing.T) {
	t.Run("idle root with busy child", func(t *testing.T) {
		snap := &snapshot.Snapshot{
			Sessions: []models.Session{{ID: "s1"}, {ID: "s2", ParentID: "s1"}, {ID: "unrelated"}},
			Statuses: map[string]models.RawStatus{"s1": models.RawStatusIdle, "s2": models.RawStatusBusy},
		}
		p := Compute(taskWithSessions("s1"), snap)

		assert.Equal(t, models.SessionStatusBusy, p.AggregatedInteraction.Status)
		assert.True(t, p.HasBusySessions)
		assert.Equal(t, 0, p.CompletedSubsessionCount)
		assert.Equal(t, 2, p.TotalSessionCount)
		assert.Equal(t, 1, p.SubsessionCount)
		assert.Equal(t, 0, p.ProgressPercent)
		require.Len(t, p.Hierarchy, 1)
		assert.Len(t, p.Hierarchy[0].Children, 1)
		assert.False(t, p.AllIdle())
	})

	t.Run("permission on child", func(t *testing.T) {
		snap := &snapshot.Snapshot{
			Sessions:    []models.Session{{ID: "s1"}, {ID: "s2", ParentID: "s1"}},
			Statuses:    map[string]models.RawStatus{"s1": models.RawStatusBusy},
			Permissions: []models.PermissionRequest{{ID: "p1", SessionID: "s2"}},
		}
		p := Compute(taskWithSessions("s1"), snap)
		assert.True(t, p.NeedsAttention)
		require.Len(t, p.AggregatedInteraction.PendingPermissions, 1)
		assert.Equal(t, "p1", p.AggregatedInteraction.PendingPermissions[0].ID)
	})

	t.Run("todo progress across the tree", func(t *testing.T) {
		snap := &snapshot.Snapshot{
			Sessions: []models.Session{{ID: "s1"}, {ID: "s2", ParentID: "s1"}},
			Statuses: map[string]models.RawStatus{"s1": models.RawStatusIdle, "s2": models.RawStatusIdle},
			Todos: map[string][]models.Todo{
				"s1": {{ID: "a", Status: models.TodoStatusCompleted}, {ID: "b", Status: models.TodoStatusCancelled}},
				"s2": {{ID: "c", Status: models.TodoStatusCompleted}, {ID: "d", Status: models.TodoStatusPending}},
			},
		}
		p := Compute(taskWithSessions("s1"), snap)
		assert.Equal(t, models.TodoProgress{Completed: 2, Pending: 1, Total: 3}, p.TodoProgress)
		assert.Equal(t, 1, p.CompletedSubsessionCount)
		assert.Equal(t, 50, p.ProgressPercent)
		assert.True(t, p.AllIdle())
	})

	t.Run("recompute is identical", func(t *testing.T) {
		snap := &snapshot.Snapshot{
			Sessions:  []models.Session{{ID: "s1"}, {ID: "s2", ParentID: "s1"}},
			Statuses:  map[string]models.RawStatus{"s1": models.RawStatusRetry},
			Questions: []models.QuestionRequest{{ID: "q1", SessionID: "s1"}},
		}
		task := taskWithSessions("s1")
		assert.Equal(t, Compute(task, snap), Compute(task, snap))
	})
}

type staticSource struct {
	sessions []models.Session
	statuses map[string]models.RawStatus
	todos    map[string][]models.Todo

	mu       sync.Mutex
	todoHits map[string]int
}

func (s *staticSource) hits(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.todoHits[id]
}

func (s *staticSource) ListSessions(context.Context) ([]models.Session, error) { return s.sessions, nil }
func (s *staticSource) SessionStatuses(context.Context) (map[string]models.RawStatus, error) {
	return s.statuses, nil
}
func (s *staticSource) ListPermissions(context.Context) ([]models.PermissionRequest, error) {
	return nil, errors.New("permissions endpoint down")
}
func (s *staticSource) ListQuestions(context.Context) ([]models.QuestionRequest, error) {
	return []models.QuestionRequest{}, nil
}
func (s *staticSource) ListTodos(_ context.Context, id string) ([]models.Todo, error) {
	s.mu.Lock()
	s.todoHits[id]++
	s.mu.Unlock()
	return s.todos[id], nil
}

type lookup map[string]models.Sandbox

func (l lookup) Get(id string) (models.Sandbox, bool) {
	sb, ok := l[id]
	return sb, ok
}

func TestService(t *testing.T) {
	src := &staticSource{
		sessions: []models.Session{{ID: "s1"}, {ID: "s2", ParentID: "s1"}, {ID: "other"}},
		statuses: map[string]models.RawStatus{"s1": models.RawStatusBusy, "other": models.RawStatusIdle},
		todos:    map[string][]models.Todo{"s2": {{ID: "t", Status: models.TodoStatusInProgress}}},
		todoHits: map[string]int{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := snapshot.NewCache(time.Minute, 4, func(string) snapshot.Source { return src }, logger)
	dir := lookup{
		"sbx_1":   {ID: "sbx_1", Status: models.SandboxStatusRunning, OpencodeURL: "http://sbx1"},
		"sbx_off": {ID: "sbx_off", Status: models.SandboxStatusStopped, OpencodeURL: "http://off"},
	}
	svc := NewService(dir, cache)
	ctx := context.Background()

	t.Run("task progress loads only the task's todos", func(t *testing.T) {
		p := svc.ForTask(ctx, taskWithSessions("s1"))
		assert.Equal(t, 2, p.TotalSessionCount)
		assert.Equal(t, models.TodoProgress{InProgress: 1, Total: 1}, p.TodoProgress)
		assert.Equal(t, []string{snapshot.SlicePermissions}, p.Unavailable)
		assert.Equal(t, 0, src.hits("other"))
		assert.Equal(t, 1, src.hits("s2"))
	})

	t.Run("task without sandbox", func(t *testing.T) {
		task := taskWithSessions()
		task.Data.SandboxID = ""
		p := svc.ForTask(ctx, task)
		assert.Equal(t, 0, p.TotalSessionCount)
		assert.Equal(t, models.SessionStatusUnknown, p.AggregatedInteraction.Status)
	})

	t.Run("stopped sandbox", func(t *testing.T) {
		task := taskWithSessions("s1")
		task.Data.SandboxID = "sbx_off"
		p := svc.ForTask(ctx, task)
		assert.Equal(t, []string{SourceSandbox}, p.Unavailable)
	})

	t.Run("sandbox forest", func(t *testing.T) {
		out, err := svc.ForSandbox(ctx, "sbx_1")
		require.NoError(t, err)
		assert.Len(t, out.Hierarchy, 2)
		assert.Len(t, out.SessionInteractions, 3)

		_, err = svc.ForSandbox(ctx, "sbx_missing")
		var nf *tasks.NotFoundError
		assert.ErrorAs(t, err, &nf)
	})
}
