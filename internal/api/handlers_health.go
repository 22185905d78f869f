package api

import (
	"net/http"

	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/store"
)

type HealthHandler struct {
	db        *store.DB
	directory SandboxLister
	subs      SubscriptionLister
}

func NewHealthHandler(db *store.DB, directory SandboxLister, subs SubscriptionLister) *HealthHandler {
	return &HealthHandler{db: db, directory: directory, subs: subs}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:        "ok",
		Sandboxes:     len(h.directory.List()),
		Subscriptions: h.subs.Count(),
	}

	// Check DB
	count, err := h.db.TaskCount(r.Context())
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.TaskCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
