package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/chainstate-go/internal/server/httpserver/handler"
	"github.com/yndnr/chainstate-go/internal/telemetry/metric"
	"github.com/yndnr/chainstate-go/internal/telemetry/tracer"
)

// DefaultRateLimit is the per-IP request rate of DefaultRouterConfig.
const DefaultRateLimit = 200

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Backend serves dumps, views and redo logs.
	Backend handler.Backend

	// Headers serves the header index. Optional.
	Headers handler.Headers

	// Metrics serves GET /metrics. Defaults to the global registry.
	Metrics http.Handler

	Logger *slog.Logger
	Tracer *tracer.Provider

	// RateLimit is the per-IP limit in requests per second. Zero disables it.
	RateLimit int

	// AdminAllowList restricts admin routes to these IPs and CIDR blocks.
	AdminAllowList []string

	// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP
	// headers name the client. Empty means the peer is always the client.
	TrustedProxies []string
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Logger:    slog.Default(),
		RateLimit: DefaultRateLimit,
	}
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.Tracer
	if tp == nil {
		tp = tracer.New("")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = metric.Handler()
	}

	h := handler.New(cfg.Backend, cfg.Headers)

	base := []Middleware{RequestID(), ContextLogger(logger), Recover()}
	common := append(append([]Middleware{}, base...), RealIP(cfg.TrustedProxies, logger))
	if cfg.RateLimit > 0 {
		common = append(common, RateLimit(cfg.RateLimit))
	}
	api := append(append([]Middleware{}, common...), Trace(tp), AccessLog())
	admin := append(append([]Middleware{}, api...), NetworkACL(cfg.AdminAllowList, logger))

	apiHandler := Chain(h, api...)
	adminHandler := Chain(h, admin...)

	mux := http.NewServeMux()

	mux.Handle("GET /health", Chain(h, base...))
	mux.Handle("GET /ready", Chain(h, base...))
	mux.Handle("GET /metrics", Chain(metrics, common...))

	mux.Handle("GET /v1/dumps", apiHandler)
	mux.Handle("GET /v1/views", apiHandler)
	mux.Handle("GET /v1/snapshots/{hash}/digest", apiHandler)
	mux.Handle("GET /v1/redo", apiHandler)
	mux.Handle("GET /v1/redo/{hash}", apiHandler)
	mux.Handle("HEAD /v1/redo/{hash}", apiHandler)
	mux.Handle("GET /v1/headers/{hash}", apiHandler)
	mux.Handle("HEAD /v1/headers/{hash}", apiHandler)
	mux.Handle("GET /v1/headers/{hash}/ancestors", apiHandler)

	mux.Handle("POST /v1/dumps/recycle", adminHandler)
	mux.Handle("PUT /v1/redo/{hash}", adminHandler)
	mux.Handle("PUT /v1/headers/{hash}", adminHandler)

	return mux
}
