package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/progress"
	"github.com/frak-id/atelier-sub002/internal/sandboxes"
	"github.com/frak-id/atelier-sub002/internal/tasks"
)

// sandboxActionErrorHeader reports a sandbox side-channel failure on an
// otherwise successful task write.
const sandboxActionErrorHeader = "X-Sandbox-Action-Error"

type TaskHandler struct {
	svc        *tasks.Service
	progress   *progress.Service
	controller sandboxes.Controller
	logger     *slog.Logger
}

func NewTaskHandler(svc *tasks.Service, prog *progress.Service, controller sandboxes.Controller, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, progress: prog, controller: controller, logger: logger}
}

// List handles GET /tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), r.URL.Query().Get("workspaceId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Create handles POST /tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := h.svc.Create(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// Get handles GET /tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Update handles PATCH /tasks/{id}
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), &req)
	h.respond(w, task, err)
}

// Start handles POST /tasks/{id}/start
func (h *TaskHandler) Start(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Start(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, task, err)
}

// Advance handles POST /tasks/{id}/advance-to-in-progress
func (h *TaskHandler) Advance(w http.ResponseWriter, r *http.Request) {
	var req models.AdvanceTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := h.svc.MoveToInProgress(r.Context(), chi.URLParam(r, "id"), &req)
	h.respond(w, task, err)
}

// AddSession handles POST /tasks/{id}/sessions
func (h *TaskHandler) AddSession(w http.ResponseWriter, r *http.Request) {
	var req models.AddSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	task, err := h.svc.AddSession(r.Context(), chi.URLParam(r, "id"), &req)
	h.respond(w, task, err)
}

// MoveToReview handles POST /tasks/{id}/move-to-review
func (h *TaskHandler) MoveToReview(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.MoveToReview(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, task, err)
}

// Complete handles POST /tasks/{id}/complete
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Complete(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, task, err)
}

// Reset handles POST /tasks/{id}/reset
func (h *TaskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req models.ResetTaskRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	action := req.SandboxAction
	if action == "" {
		action = models.SandboxActionDetach
	}
	if !action.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid sandboxAction: must be detach, stop, or destroy")
		return
	}

	task, sandboxID, err := h.svc.ResetToDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.applySandboxAction(r.Context(), w, task.ID, sandboxID, action)
	writeJSON(w, http.StatusOK, task)
}

// Reorder handles POST /tasks/{id}/reorder
func (h *TaskHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req models.ReorderTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Order == nil {
		writeError(w, http.StatusBadRequest, "order is required")
		return
	}

	task, err := h.svc.Reorder(r.Context(), chi.URLParam(r, "id"), *req.Order)
	h.respond(w, task, err)
}

// Delete handles DELETE /tasks/{id}
//
// The sandbox is destroyed unless the caller passes keepSandbox=true (stop)
// or an explicit sandboxAction.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := models.SandboxAction(q.Get("sandboxAction"))
	if action == "" {
		action = models.SandboxActionDestroy
		if keep, _ := strconv.ParseBool(q.Get("keepSandbox")); keep {
			action = models.SandboxActionStop
		}
	}
	if !action.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid sandboxAction: must be detach, stop, or destroy")
		return
	}

	task, err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.applySandboxAction(r.Context(), w, task.ID, task.Data.SandboxID, action)
	w.WriteHeader(http.StatusNoContent)
}

// Progress handles GET /tasks/{id}/progress
func (h *TaskHandler) Progress(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.progress.ForTask(r.Context(), task))
}

func (h *TaskHandler) respond(w http.ResponseWriter, task *models.Task, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// applySandboxAction runs after the task write has committed. A failure is
// reported to the caller but never undoes the task change.
func (h *TaskHandler) applySandboxAction(ctx context.Context, w http.ResponseWriter, taskID, sandboxID string, action models.SandboxAction) {
	if sandboxID == "" || action == models.SandboxActionDetach {
		return
	}
	if err := h.controller.Apply(ctx, sandboxID, action); err != nil {
		h.logger.Error("sandbox action failed",
			"task", taskID,
			"sandbox", sandboxID,
			"action", string(action),
			"error", err,
		)
		w.Header().Set(sandboxActionErrorHeader, err.Error())
	}
}
