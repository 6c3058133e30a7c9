package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"forgescan/scan-engine/internal/orchestrator"
	"forgescan/scan-engine/internal/sandbox"
	"forgescan/scan-engine/internal/store"
)

// writeError maps err to a status code. Internal errors are logged and
// answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		status, msg = http.StatusNotFound, "scan not found"
	case errors.Is(err, sandbox.ErrConcurrencyLimit):
		// only reached when a service executes without WaitForSlot
		status, msg = http.StatusTooManyRequests, "concurrency limit reached"
	default:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
