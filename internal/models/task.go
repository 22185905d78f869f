package models

import "time"

// TaskStatus represents a column of the task board.
type TaskStatus string

const (
	TaskStatusDraft         TaskStatus = "draft"
	TaskStatusQueue         TaskStatus = "queue"
	TaskStatusInProgress    TaskStatus = "in_progress"
	TaskStatusPendingReview TaskStatus = "pending_review"
	TaskStatusCompleted     TaskStatus = "completed"
)

// TaskStatuses lists every status in board order.
var TaskStatuses = []TaskStatus{
	TaskStatusDraft,
	TaskStatusQueue,
	TaskStatusInProgress,
	TaskStatusPendingReview,
	TaskStatusCompleted,
}

func (s TaskStatus) IsValid() bool {
	for _, v := range TaskStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ActiveTaskStatuses are the statuses counted against a workspace's
// admission limit.
var ActiveTaskStatuses = []TaskStatus{TaskStatusInProgress, TaskStatusPendingReview}

// TaskSession references a root agent session owned by a task.
type TaskSession struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"templateId,omitempty"`
	Order      int        `json:"order"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
}

// TaskData holds the mutable payload of a task. Execution fields are only
// populated once the task has been handed to a sandbox.
type TaskData struct {
	Description       string        `json:"description"`
	Context           string        `json:"context,omitempty"`
	Order             int           `json:"order"`
	BaseBranch        string        `json:"baseBranch,omitempty"`
	SandboxID         string        `json:"sandboxId,omitempty"`
	OpencodeSessionID string        `json:"opencodeSessionId,omitempty"`
	BranchName        string        `json:"branchName,omitempty"`
	Sessions          []TaskSession `json:"sessions"`
	StartedAt         *time.Time    `json:"startedAt,omitempty"`
	CompletedAt       *time.Time    `json:"completedAt,omitempty"`
}

// Task is a unit of work owned by a workspace.
type Task struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	Data        TaskData   `json:"data"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// SessionIDs returns the ids of the task's root sessions in attachment order.
func (t *Task) SessionIDs() []string {
	ids := make([]string, 0, len(t.Data.Sessions))
	for _, s := range t.Data.Sessions {
		ids = append(ids, s.ID)
	}
	return ids
}

// --- Request / Response types ---

// CreateTaskRequest is the payload for POST /tasks.
type CreateTaskRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
	BaseBranch  string `json:"baseBranch,omitempty"`
}

// UpdateTaskRequest is the payload for PATCH /tasks/{id}.
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Context     *string `json:"context,omitempty"`
}

// AdvanceTaskRequest is the payload for POST /tasks/{id}/advance-to-in-progress.
type AdvanceTaskRequest struct {
	SandboxID  string `json:"sandboxId"`
	SessionID  string `json:"sessionId"`
	TemplateID string `json:"templateId,omitempty"`
	BranchName string `json:"branchName,omitempty"`
}

// AddSessionRequest is the payload for POST /tasks/{id}/sessions.
type AddSessionRequest struct {
	SessionID  string `json:"sessionId"`
	TemplateID string `json:"templateId,omitempty"`
}

// ResetTaskRequest is the payload for POST /tasks/{id}/reset.
type ResetTaskRequest struct {
	SandboxAction SandboxAction `json:"sandboxAction,omitempty"`
}

// ReorderTaskRequest is the payload for POST /tasks/{id}/reorder.
type ReorderTaskRequest struct {
	Order *int `json:"order"`
}
