package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/frak-id/atelier-sub002/internal/hierarchy"
	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/progress"
)

// --- Tool input/output types ---

type taskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier, e.g. task_1a2b3c4d5e6f"`
}

type taskOutput struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Description string   `json:"description"`
	Order       int      `json:"order"`
	BaseBranch  string   `json:"base_branch,omitempty"`
	SandboxID   string   `json:"sandbox_id,omitempty"`
	BranchName  string   `json:"branch_name,omitempty"`
	Sessions    []string `json:"sessions"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type listTasksInput struct {
	WorkspaceID string `json:"workspace_id,omitempty" jsonschema:"only list tasks of this workspace"`
	Status      string `json:"status,omitempty" jsonschema:"filter by status (draft, queue, in_progress, pending_review, completed)"`
}

type listTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type createTaskInput struct {
	WorkspaceID string `json:"workspace_id" jsonschema:"the workspace that owns the task"`
	Title       string `json:"title" jsonschema:"short task title"`
	Description string `json:"description" jsonschema:"what the agent should do"`
	Context     string `json:"context,omitempty" jsonschema:"extra context handed to the agent"`
	BaseBranch  string `json:"base_branch,omitempty" jsonschema:"branch to start from"`
}

type resetTaskInput struct {
	TaskID        string `json:"task_id" jsonschema:"the task identifier"`
	SandboxAction string `json:"sandbox_action,omitempty" jsonschema:"what to do with the attached sandbox: detach (default), stop or destroy"`
}

type resetTaskOutput struct {
	Task               taskOutput `json:"task"`
	SandboxID          string     `json:"sandbox_id,omitempty"`
	SandboxAction      string     `json:"sandbox_action"`
	SandboxActionError string     `json:"sandbox_action_error,omitempty"`
}

type sessionOutput struct {
	ID                 string `json:"id"`
	ParentID           string `json:"parent_id,omitempty"`
	Title              string `json:"title,omitempty"`
	Status             string `json:"status"`
	PendingPermissions int    `json:"pending_permissions"`
	PendingQuestions   int    `json:"pending_questions"`
}

type progressOutput struct {
	TaskID                   string              `json:"task_id"`
	Status                   string              `json:"status"`
	NeedsAttention           bool                `json:"needs_attention"`
	HasBusySessions          bool                `json:"has_busy_sessions"`
	Todos                    models.TodoProgress `json:"todos"`
	RootSessionCount         int                 `json:"root_session_count"`
	TotalSessionCount        int                 `json:"total_session_count"`
	CompletedSubsessionCount int                 `json:"completed_subsession_count"`
	ProgressPercent          int                 `json:"progress_percent"`
	Sessions                 []sessionOutput     `json:"sessions"`
	Unavailable              []string            `json:"unavailable"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks, optionally filtered by workspace and status. Tasks are ordered by status column, then position.",
	}, s.handleListTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Get a task by ID, including its sandbox, branch and attached sessions.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name: "get_task_progress",
		Description: "Get the live progress of a task: every session in its tree with status and pending " +
			"permissions or questions, todo counts and completed sub-sessions.",
	}, s.handleGetTaskProgress)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_task",
		Description: "Create a draft task in a workspace.",
	}, s.handleCreateTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name: "start_task",
		Description: "Move a draft task to the queue. Fails when the workspace already has the maximum " +
			"number of in-progress and pending-review tasks.",
	}, s.handleStartTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "reset_task",
		Description: "Return a task to draft, clearing its sandbox, branch and sessions. Optionally stop or destroy the sandbox.",
	}, s.handleResetTask)
}

// --- Tool handlers ---

func (s *Server) handleListTasks(ctx context.Context, _ *gomcp.CallToolRequest, input listTasksInput) (*gomcp.CallToolResult, listTasksOutput, error) {
	status := models.TaskStatus(input.Status)
	if status != "" && !status.IsValid() {
		return errorResult(fmt.Sprintf("invalid status %q: must be one of draft, queue, in_progress, pending_review, completed", input.Status)), listTasksOutput{}, nil
	}

	list, err := s.tasks.List(ctx, input.WorkspaceID)
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), listTasksOutput{}, nil
	}

	out := listTasksOutput{Tasks: []taskOutput{}}
	for _, t := range list {
		if status != "" && t.Status != status {
			continue
		}
		out.Tasks = append(out.Tasks, taskToOutput(t))
	}
	out.Count = len(out.Tasks)
	return nil, out, nil
}

func (s *Server) handleGetTask(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	task, err := s.tasks.Get(ctx, input.TaskID)
	if err != nil {
		return errorResult(err.Error()), taskOutput{}, nil
	}
	return nil, taskToOutput(task), nil
}

func (s *Server) handleGetTaskProgress(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, progressOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), progressOutput{}, nil
	}

	task, err := s.tasks.Get(ctx, input.TaskID)
	if err != nil {
		return errorResult(err.Error()), progressOutput{}, nil
	}
	return nil, progressToOutput(s.progress.ForTask(ctx, task)), nil
}

func (s *Server) handleCreateTask(ctx context.Context, _ *gomcp.CallToolRequest, input createTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	task, err := s.tasks.Create(ctx, &models.CreateTaskRequest{
		WorkspaceID: input.WorkspaceID,
		Title:       input.Title,
		Description: input.Description,
		Context:     input.Context,
		BaseBranch:  input.BaseBranch,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("creating task: %s", err)), taskOutput{}, nil
	}
	return nil, taskToOutput(task), nil
}

func (s *Server) handleStartTask(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	task, err := s.tasks.Start(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("starting task %s: %s", input.TaskID, err)), taskOutput{}, nil
	}
	return nil, taskToOutput(task), nil
}

func (s *Server) handleResetTask(ctx context.Context, _ *gomcp.CallToolRequest, input resetTaskInput) (*gomcp.CallToolResult, resetTaskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), resetTaskOutput{}, nil
	}
	action := models.SandboxAction(input.SandboxAction)
	if action == "" {
		action = models.SandboxActionDetach
	}
	if !action.IsValid() {
		return errorResult(fmt.Sprintf("invalid sandbox_action %q: must be detach, stop or destroy", input.SandboxAction)), resetTaskOutput{}, nil
	}

	task, sandboxID, err := s.tasks.ResetToDraft(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("resetting task %s: %s", input.TaskID, err)), resetTaskOutput{}, nil
	}

	out := resetTaskOutput{
		Task:          taskToOutput(task),
		SandboxID:     sandboxID,
		SandboxAction: string(action),
	}
	if sandboxID != "" && action != models.SandboxActionDetach {
		if err := s.controller.Apply(ctx, sandboxID, action); err != nil {
			s.logger.Error("sandbox action failed", "task", task.ID, "sandbox", sandboxID, "action", string(action), "error", err)
			out.SandboxActionError = err.Error()
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func taskToOutput(t *models.Task) taskOutput {
	return taskOutput{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		Title:       t.Title,
		Status:      string(t.Status),
		Description: t.Data.Description,
		Order:       t.Data.Order,
		BaseBranch:  t.Data.BaseBranch,
		SandboxID:   t.Data.SandboxID,
		BranchName:  t.Data.BranchName,
		Sessions:    t.SessionIDs(),
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

// progressToOutput flattens the session tree; parent ids keep the shape.
func progressToOutput(p *progress.TaskProgress) progressOutput {
	byID := make(map[string]models.Interaction, len(p.SessionInteractions))
	for _, it := range p.SessionInteractions {
		byID[it.SessionID] = it
	}

	out := progressOutput{
		TaskID:                   p.TaskID,
		Status:                   string(p.AggregatedInteraction.Status),
		NeedsAttention:           p.NeedsAttention,
		HasBusySessions:          p.HasBusySessions,
		Todos:                    p.TodoProgress,
		RootSessionCount:         p.RootSessionCount,
		TotalSessionCount:        p.TotalSessionCount,
		CompletedSubsessionCount: p.CompletedSubsessionCount,
		ProgressPercent:          p.ProgressPercent,
		Sessions:                 []sessionOutput{},
		Unavailable:              append([]string{}, p.Unavailable...),
	}
	for _, sess := range hierarchy.Flatten(p.Hierarchy) {
		it := byID[sess.ID]
		status := it.Status
		if status == "" {
			status = models.SessionStatusUnknown
		}
		out.Sessions = append(out.Sessions, sessionOutput{
			ID:                 sess.ID,
			ParentID:           sess.ParentID,
			Title:              strings.TrimSpace(sess.Title),
			Status:             string(status),
			PendingPermissions: len(it.PendingPermissions),
			PendingQuestions:   len(it.PendingQuestions),
		})
	}
	return out
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
