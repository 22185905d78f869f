package models

import "time"

// Session is an agent-runtime session inside a sandbox. Sessions are owned by
// the runtime; this service only references them.
type Session struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId,omitempty"`
	Title     string    `json:"title"`
	Directory string    `json:"directory"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RawStatus is the execution status as reported by the agent runtime.
type RawStatus string

const (
	RawStatusIdle  RawStatus = "idle"
	RawStatusBusy  RawStatus = "busy"
	RawStatusRetry RawStatus = "retry"
)

// SessionStatus is the normalized execution status of a session.
type SessionStatus string

const (
	SessionStatusIdle    SessionStatus = "idle"
	SessionStatusBusy    SessionStatus = "busy"
	SessionStatusWaiting SessionStatus = "waiting"
	SessionStatusUnknown SessionStatus = "unknown"
)

// PermissionRequest is a pending tool permission awaiting a human reply.
type PermissionRequest struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionId"`
	Permission string `json:"permission"`
}

// QuestionOption is one selectable answer of a question prompt.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// QuestionPrompt is a single question asked by the agent.
type QuestionPrompt struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options,omitempty"`
	MultiSelect bool             `json:"multiSelect,omitempty"`
}

// QuestionRequest is a pending set of questions awaiting a human reply.
type QuestionRequest struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	Prompts   []QuestionPrompt `json:"prompts"`
}

// TodoStatus is the state of a checklist item.
type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
	TodoStatusCancelled  TodoStatus = "cancelled"
)

// Todo is a checklist item owned by a session.
type Todo struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// Interaction is the derived per-session view of execution status and
// pending human input.
type Interaction struct {
	SessionID          string              `json:"sessionId"`
	Status             SessionStatus       `json:"status"`
	PendingPermissions []PermissionRequest `json:"pendingPermissions"`
	PendingQuestions   []QuestionRequest   `json:"pendingQuestions"`
	Todos              []Todo              `json:"todos"`
}

// NeedsAttention reports whether the session is blocked on a human.
func (i Interaction) NeedsAttention() bool {
	return len(i.PendingPermissions)+len(i.PendingQuestions) > 0
}

// AggregatedInteractionState reduces the interactions of a set of sessions.
type AggregatedInteractionState struct {
	Status             SessionStatus       `json:"status"`
	PendingPermissions []PermissionRequest `json:"pendingPermissions"`
	PendingQuestions   []QuestionRequest   `json:"pendingQuestions"`
}

// TodoProgress counts checklist items across a set of sessions. Cancelled
// items are excluded from Total.
type TodoProgress struct {
	Completed  int `json:"completed"`
	InProgress int `json:"inProgress"`
	Pending    int `json:"pending"`
	Total      int `json:"total"`
}
