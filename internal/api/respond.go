package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/frak-id/atelier-sub002/internal/tasks"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the task error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		verr *tasks.ValidationError
		serr *tasks.InvalidStateError
		aerr *tasks.AdmissionError
		nerr *tasks.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &aerr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       aerr.Error(),
			"activeCount": aerr.Active,
			"maxActive":   aerr.Max,
		})
	case errors.As(err, &serr):
		writeError(w, http.StatusConflict, serr.Error())
	case errors.As(err, &nerr):
		writeError(w, http.StatusNotFound, nerr.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
