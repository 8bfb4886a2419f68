package handler

import (
	"encoding/hex"
	"net/http"

	"github.com/yndnr/chainstate-go/internal/telemetry/logger"
)

// handleListDumps handles GET /v1/dumps.
func (h *Handler) handleListDumps(w http.ResponseWriter, r *http.Request) {
	dumps, err := h.backend.Dumps()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	out := make([]DumpResponse, 0, len(dumps))
	for _, d := range dumps {
		out = append(out, DumpResponse{Hash: d.Hash, Size: d.Size, Refs: d.Refs, CreatedAt: d.CreatedAt})
	}
	h.writeJSON(w, r, http.StatusOK, out)
}

// handleRecycle handles POST /v1/dumps/recycle.
func (h *Handler) handleRecycle(w http.ResponseWriter, r *http.Request) {
	n, err := h.backend.RecycleSnapshot(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	logger.L(r.Context()).Info("dumps recycled via api", "removed", n)
	h.writeJSON(w, r, http.StatusOK, RecycleResponse{Removed: n})
}

// handleListViews handles GET /v1/views.
func (h *Handler) handleListViews(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.backend.Views())
}

// handleDigest handles GET /v1/snapshots/{hash}/digest. The snapshot is
// reconstructed if needed and released before returning.
func (h *Handler) handleDigest(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.parseHash(w, r)
	if !ok {
		return
	}
	view, err := h.backend.GetSnapshotView(r.Context(), hash)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer func() {
		if err := h.backend.ReleaseSnapshotView(hash); err != nil {
			logger.L(r.Context()).Warn("release snapshot view", "hash", hash.Short(), "error", err)
		}
	}()

	digest, err := view.Digest()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, DigestResponse{Hash: hash, Digest: hex.EncodeToString(digest)})
}
