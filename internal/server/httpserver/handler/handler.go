package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage"
	"github.com/yndnr/chainstate-go/internal/storage/snapshot"
	"github.com/yndnr/chainstate-go/internal/storage/state"
	"github.com/yndnr/chainstate-go/internal/telemetry/logger"
)

// MaxRedoLogSize bounds the body of PUT /v1/redo/{hash}.
const MaxRedoLogSize = 256 << 20

// Backend is the storage surface served over HTTP. *storage.Manager
// implements it.
type Backend interface {
	ReadOnly() bool
	Dumps() ([]snapshot.DumpInfo, error)
	Views() []storage.ViewInfo
	RecycleSnapshot(ctx context.Context) (int, error)
	GetSnapshotView(ctx context.Context, hash domain.BlockHash) (state.Storage, error)
	ReleaseSnapshotView(hash domain.BlockHash) error
	RedoLogs() ([]domain.BlockHash, error)
	HasRedoLog(hash domain.BlockHash) bool
	RawRedoLog(hash domain.BlockHash) ([]byte, error)
	AddRawRedoLog(hash domain.BlockHash, data []byte) error
}

// Headers is the header index served over HTTP. *chain.Store implements it.
type Headers interface {
	GetHeader(ctx context.Context, hash domain.BlockHash) (domain.Header, error)
	Has(ctx context.Context, hash domain.BlockHash) (bool, error)
	PutHeader(ctx context.Context, h domain.Header) error
	Ancestors(ctx context.Context, hash domain.BlockHash, limit int) ([]domain.Header, error)
}

var (
	_ Backend = (*storage.Manager)(nil)
)

// Handler routes API requests.
type Handler struct {
	backend Backend
	headers Headers
	mux     *http.ServeMux
}

// New creates a Handler. headers may be nil, in which case the header
// endpoints answer 501. Handlers log through the request context logger.
func New(backend Backend, headers Headers) *Handler {
	h := &Handler{
		backend: backend,
		headers: headers,
		mux:     http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /v1/dumps", h.handleListDumps)
	h.mux.HandleFunc("POST /v1/dumps/recycle", h.handleRecycle)
	h.mux.HandleFunc("GET /v1/views", h.handleListViews)
	h.mux.HandleFunc("GET /v1/snapshots/{hash}/digest", h.handleDigest)

	h.mux.HandleFunc("GET /v1/redo", h.handleListRedoLogs)
	h.mux.HandleFunc("GET /v1/redo/{hash}", h.handleGetRedoLog)
	h.mux.HandleFunc("HEAD /v1/redo/{hash}", h.handleHasRedoLog)
	h.mux.HandleFunc("PUT /v1/redo/{hash}", h.handlePutRedoLog)

	h.mux.HandleFunc("GET /v1/headers/{hash}", h.handleGetHeader)
	h.mux.HandleFunc("HEAD /v1/headers/{hash}", h.handleHasHeader)
	h.mux.HandleFunc("GET /v1/headers/{hash}/ancestors", h.handleAncestors)
	h.mux.HandleFunc("PUT /v1/headers/{hash}", h.handlePutHeader)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		logger.L(r.Context()).Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := getRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, nil))
}

// handleServiceError converts storage errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		h.writeError(w, r, kindToHTTPStatus(de.Kind), de.Code, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, err.Error())
		return
	}
	logger.L(r.Context()).Error("internal error", "path", r.URL.Path, "error", err)
	h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// parseHash reads the {hash} path value, writing a 400 on failure.
func (h *Handler) parseHash(w http.ResponseWriter, r *http.Request) (domain.BlockHash, bool) {
	hash, err := domain.ParseBlockHash(strings.ToLower(r.PathValue("hash")))
	if err != nil {
		h.handleServiceError(w, r, err)
		return hash, false
	}
	return hash, true
}

func kindToHTTPStatus(k domain.Kind) int {
	switch k {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidParam:
		return http.StatusBadRequest
	case domain.KindInvalidChain:
		return http.StatusUnprocessableEntity
	case domain.KindNotSupported:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func getRequestID(w http.ResponseWriter, r *http.Request) string {
	if id := logger.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	if id := w.Header().Get("X-Request-ID"); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}
