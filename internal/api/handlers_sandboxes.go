package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/frak-id/atelier-sub002/internal/live"
	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/progress"
)

// SandboxLister is the read side of the sandbox directory.
type SandboxLister interface {
	List() []models.Sandbox
}

// SubscriptionLister reports the live event subscriptions.
type SubscriptionLister interface {
	Count() int
	Statuses() []live.SubscriptionStatus
}

type SandboxHandler struct {
	directory SandboxLister
	subs      SubscriptionLister
	progress  *progress.Service
}

func NewSandboxHandler(directory SandboxLister, subs SubscriptionLister, prog *progress.Service) *SandboxHandler {
	return &SandboxHandler{directory: directory, subs: subs, progress: prog}
}

// List handles GET /sandboxes
func (h *SandboxHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.directory.List()
	if list == nil {
		list = []models.Sandbox{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sandboxes":     list,
		"subscriptions": h.subs.Statuses(),
	})
}

// Sessions handles GET /sandboxes/{id}/sessions
func (h *SandboxHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	out, err := h.progress.ForSandbox(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
