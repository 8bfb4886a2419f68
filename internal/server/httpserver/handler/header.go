package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// handleGetHeader handles GET /v1/headers/{hash}.
func (h *Handler) handleGetHeader(w http.ResponseWriter, r *http.Request) {
	if h.headers == nil {
		h.writeError(w, r, http.StatusNotImplemented, CodeNoHeaders, "header index not configured")
		return
	}
	hash, ok := h.parseHash(w, r)
	if !ok {
		return
	}
	header, err := h.headers.GetHeader(r.Context(), hash)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, header)
}

// handleHasHeader handles HEAD /v1/headers/{hash}.
func (h *Handler) handleHasHeader(w http.ResponseWriter, r *http.Request) {
	if h.headers == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	hash, ok := h.parseHash(w, r)
	if !ok {
		return
	}
	found, err := h.headers.Has(r.Context(), hash)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleAncestors handles GET /v1/headers/{hash}/ancestors?limit=n. The
// first header is hash itself.
func (h *Handler) handleAncestors(w http.ResponseWriter, r *http.Request) {
	if h.headers == nil {
		h.writeError(w, r, http.StatusNotImplemented, CodeNoHeaders, "header index not configured")
		return
	}
	hash, ok := h.parseHash(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.handleServiceError(w, r, domain.ErrInvalidParam.WithDetails("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	headers, err := h.headers.Ancestors(r.Context(), hash, limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, headers)
}

// handlePutHeader handles PUT /v1/headers/{hash}.
func (h *Handler) handlePutHeader(w http.ResponseWriter, r *http.Request) {
	if h.headers == nil {
		h.writeError(w, r, http.StatusNotImplemented, CodeNoHeaders, "header index not configured")
		return
	}
	hash, ok := h.parseHash(w, r)
	if !ok {
		return
	}
	var req PutHeaderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, CodeBadBody, "invalid JSON: "+err.Error())
		return
	}
	header := domainHeader(hash, req)
	if err := h.headers.PutHeader(r.Context(), header); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, header)
}

func domainHeader(hash domain.BlockHash, req PutHeaderRequest) domain.Header {
	return domain.Header{Hash: hash, PreBlockHash: req.PreBlockHash, Number: req.Number}
}
