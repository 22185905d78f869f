package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/store"
)

// DefaultMaxActiveTasks caps in_progress + pending_review tasks per workspace.
const DefaultMaxActiveTasks = 3

// Service owns the task lifecycle. Every transition re-reads the row inside
// a write transaction, so two racing transitions on the same task cannot
// both succeed.
type Service struct {
	store     *store.TaskStore
	maxActive int
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(taskStore *store.TaskStore, maxActive int, logger *slog.Logger) *Service {
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveTasks
	}
	return &Service{
		store:     taskStore,
		maxActive: maxActive,
		logger:    logger.With("component", "task-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// MaxActive returns the per-workspace admission limit.
func (s *Service) MaxActive() int {
	return s.maxActive
}

// List returns the tasks of a workspace, or every task when workspaceID is empty.
func (s *Service) List(ctx context.Context, workspaceID string) ([]*models.Task, error) {
	list, err := s.store.List(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*models.Task{}
	}
	return list, nil
}

// ListByStatus returns every task in the given status.
func (s *Service) ListByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	return s.store.ListByStatus(ctx, status)
}

// Get returns a task or a *NotFoundError.
func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &NotFoundError{Kind: "Task", ID: id}
	}
	return t, nil
}

// Create inserts a new draft task at the end of the workspace's draft column.
func (s *Service) Create(ctx context.Context, req *models.CreateTaskRequest) (*models.Task, error) {
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return nil, &ValidationError{Message: "workspaceId is required"}
	}

	now := s.now()
	task := &models.Task{
		ID:          newTaskID(),
		WorkspaceID: req.WorkspaceID,
		Title:       req.Title,
		Status:      models.TaskStatusDraft,
		Data: models.TaskData{
			Description: req.Description,
			Context:     req.Context,
			BaseBranch:  req.BaseBranch,
			Sessions:    []models.TaskSession{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.InsertNext(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.Info("task created", "task", task.ID, "workspace", task.WorkspaceID, "order", task.Data.Order)
	return task, nil
}

// Update edits the prompt fields of a draft task. Started tasks are
// immutable so the prompt sent to the agent stays stable.
func (s *Service) Update(ctx context.Context, id string, req *models.UpdateTaskRequest) (*models.Task, error) {
	return s.mutate(ctx, id, func(_ *store.TaskTx, t *models.Task) error {
		if t.Status != models.TaskStatusDraft {
			return &InvalidStateError{TaskID: id, Status: t.Status, Op: "edit"}
		}
		if req.Title != nil {
			t.Title = *req.Title
		}
		if req.Description != nil {
			t.Data.Description = *req.Description
		}
		if req.Context != nil {
			t.Data.Context = *req.Context
		}
		return nil
	})
}

// Start moves a draft task into the queue, subject to the workspace's
// admission limit. The count and the write share one transaction.
func (s *Service) Start(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.mutate(ctx, id, func(tx *store.TaskTx, t *models.Task) error {
		if t.Status != models.TaskStatusDraft {
			return &InvalidStateError{TaskID: id, Status: t.Status, Op: "start"}
		}
		if strings.TrimSpace(t.Title) == "" || strings.TrimSpace(t.Data.Description) == "" {
			return &ValidationError{Message: "task must have a title and description"}
		}

		active, err := tx.CountByStatuses(ctx, t.WorkspaceID, models.ActiveTaskStatuses)
		if err != nil {
			return err
		}
		if active >= s.maxActive {
			return &AdmissionError{WorkspaceID: t.WorkspaceID, Active: active, Max: s.maxActive}
		}

		return moveTo(ctx, tx, t, models.TaskStatusQueue)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task started", "task", id, "title", task.Title)
	return task, nil
}

// MoveToInProgress hands a queued task to the sandbox that will execute it.
// It is called once a sandbox and the initial session exist.
func (s *Service) MoveToInProgress(ctx context.Context, id string, req *models.AdvanceTaskRequest) (*models.Task, error) {
	if strings.TrimSpace(req.SandboxID) == "" || strings.TrimSpace(req.SessionID) == "" {
		return nil, &ValidationError{Message: "sandboxId and sessionId are required"}
	}

	task, err := s.mutate(ctx, id, func(tx *store.TaskTx, t *models.Task) error {
		if t.Status != models.TaskStatusQueue {
			return &InvalidStateError{TaskID: id, Status: t.Status, Op: "advance"}
		}

		now := s.now()
		t.Data.SandboxID = req.SandboxID
		t.Data.OpencodeSessionID = req.SessionID
		t.Data.StartedAt = &now
		if req.BranchName != "" {
			t.Data.BranchName = req.BranchName
		}
		if !hasSession(t, req.SessionID) {
			t.Data.Sessions = append(t.Data.Sessions, models.TaskSession{
				ID:         req.SessionID,
				TemplateID: req.TemplateID,
				Order:      len(t.Data.Sessions),
				StartedAt:  &now,
			})
		}

		return moveTo(ctx, tx, t, models.TaskStatusInProgress)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task in progress", "task", id, "sandbox", req.SandboxID, "session", req.SessionID)
	return task, nil
}

// AddSession attaches another root session to an in-progress task.
func (s *Service) AddSession(ctx context.Context, id string, req *models.AddSessionRequest) (*models.Task, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, &ValidationError{Message: "sessionId is required"}
	}

	return s.mutate(ctx, id, func(_ *store.TaskTx, t *models.Task) error {
		if t.Status != models.TaskStatusInProgress {
			return &InvalidStateError{TaskID: id, Status: t.Status, Op: "add session to"}
		}
		if hasSession(t, req.SessionID) {
			return nil
		}
		now := s.now()
		t.Data.Sessions = append(t.Data.Sessions, models.TaskSession{
			ID:         req.SessionID,
			TemplateID: req.TemplateID,
			Order:      len(t.Data.Sessions),
			StartedAt:  &now,
		})
		s.logger.Info("session added to task", "task", id, "session", req.SessionID)
		return nil
	})
}

// MoveToReview marks an in-progress task as waiting for human review.
func (s *Service) MoveToReview(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, func(tx *store.TaskTx, t *models.Task) error {
		if t.Status != models.TaskStatusInProgress {
			return &InvalidStateError{TaskID: id, Status: t.Status, Op: "move to review"}
		}
		return moveTo(ctx, tx, t, models.TaskStatusPendingReview)
	})
}

// Complete closes a reviewed task.
func (s *Service) Complete(ctx context.Context, id string) (*models.Task, error) {
	return s.mutate(ctx, id, func(tx *store.TaskTx, t *models.Task) error {
		if t.Status != models.TaskStatusPendingReview {
			return &InvalidStateError{TaskID: id, Status: t.Status, Op: "complete"}
		}
		now := s.now()
		t.Data.CompletedAt = &now
		return moveTo(ctx, tx, t, models.TaskStatusCompleted)
	})
}

// ResetToDraft returns a task to the draft column and clears every
// execution-derived field. It also returns the sandbox id the task was
// attached to, so the caller can decide the sandbox's fate.
func (s *Service) ResetToDraft(ctx context.Context, id string) (*models.Task, string, error) {
	var sandboxID string
	task, err := s.mutate(ctx, id, func(tx *store.TaskTx, t *models.Task) error {
		if t.Status == models.TaskStatusDraft {
			return &InvalidStateError{TaskID: id, Status: t.Status, Op: "reset"}
		}
		sandboxID = t.Data.SandboxID
		t.Data = models.TaskData{
			Description: t.Data.Description,
			Context:     t.Data.Context,
			BaseBranch:  t.Data.BaseBranch,
			Sessions:    []models.TaskSession{},
		}
		return moveTo(ctx, tx, t, models.TaskStatusDraft)
	})
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("task reset to draft", "task", id, "sandbox", sandboxID)
	return task, sandboxID, nil
}

// Reorder sets the task's position within its current column.
func (s *Service) Reorder(ctx context.Context, id string, order int) (*models.Task, error) {
	if order < 0 {
		return nil, &ValidationError{Message: "order must be >= 0"}
	}
	return s.mutate(ctx, id, func(_ *store.TaskTx, t *models.Task) error {
		t.Data.Order = order
		return nil
	})
}

// Delete removes a task in any status and returns the deleted record.
func (s *Service) Delete(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, &NotFoundError{Kind: "Task", ID: id}
	}

	s.logger.Info("task deleted", "task", id, "sandbox", task.Data.SandboxID)
	return task, nil
}

func (s *Service) mutate(ctx context.Context, id string, fn store.MutateFunc) (*models.Task, error) {
	t, err := s.store.Mutate(ctx, id, fn)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Kind: "Task", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// moveTo changes the task's status and appends it to the target column.
func moveTo(ctx context.Context, tx *store.TaskTx, t *models.Task, status models.TaskStatus) error {
	order, err := tx.NextOrder(ctx, t.WorkspaceID, status)
	if err != nil {
		return err
	}
	t.Status = status
	t.Data.Order = order
	return nil
}

func hasSession(t *models.Task, sessionID string) bool {
	for _, s := range t.Data.Sessions {
		if s.ID == sessionID {
			return true
		}
	}
	return false
}

func newTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
