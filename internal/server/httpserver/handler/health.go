package handler

import (
	"net/http"
	"time"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady handles GET /ready. It fails when the dump directory cannot
// be listed.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.backend.Dumps(); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	mode := "read_write"
	if h.backend.ReadOnly() {
		mode = "read_only"
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"mode":   mode,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
