package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/telemetry/logger"
)

const octetStream = "application/octet-stream"

// handleListRedoLogs handles GET /v1/redo.
func (h *Handler) handleListRedoLogs(w http.ResponseWriter, r *http.Request) {
	hashes, err := h.backend.RedoLogs()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if hashes == nil {
		hashes = []domain.BlockHash{}
	}
	h.writeJSON(w, r, http.StatusOK, hashes)
}

// handleHasRedoLog handles HEAD /v1/redo/{hash}.
func (h *Handler) handleHasRedoLog(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.parseHash(w, r)
	if !ok {
		return
	}
	if !h.backend.HasRedoLog(hash) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleGetRedoLog handles GET /v1/redo/{hash}. The body is the encoded log.
func (h *Handler) handleGetRedoLog(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.parseHash(w, r)
	if !ok {
		return
	}
	data, err := h.backend.RawRedoLog(hash)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", octetStream)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.L(r.Context()).Debug("write redo log response", "hash", hash.Short(), "error", err)
	}
}

// handlePutRedoLog handles PUT /v1/redo/{hash}. The body must be an encoded
// log; it is validated before it is stored.
func (h *Handler) handlePutRedoLog(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.parseHash(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRedoLogSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, CodeBadBody, "redo log too large")
			return
		}
		h.writeError(w, r, http.StatusBadRequest, CodeBadBody, "read body: "+err.Error())
		return
	}
	if err := h.backend.AddRawRedoLog(hash, data); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, map[string]any{"hash": hash, "bytes": len(data)})
}
