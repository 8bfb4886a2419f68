package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainstate"

// Reconstruction results.
const (
	ResultHit    = "hit"
	ResultBuilt  = "built"
	ResultFailed = "failed"
)

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	Reconstructions        *prometheus.CounterVec
	ReconstructionDuration prometheus.Histogram
	ReplayedLogs           prometheus.Counter
	RedoLogsAdded          prometheus.Counter

	DumpsCreated  prometheus.Counter
	DumpsRecycled prometheus.Counter

	ViewsOpen prometheus.Gauge
	ViewWaits prometheus.Counter
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// NewRegistry creates a registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		Reconstructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_reconstructions_total",
			Help:      "Snapshot lookups by result (hit, built, failed).",
		}, []string{"result"}),
		ReconstructionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_reconstruction_duration_seconds",
			Help:      "Time spent rebuilding a snapshot from redo logs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		ReplayedLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redo_logs_replayed_total",
			Help:      "Redo logs applied during reconstruction.",
		}),
		RedoLogsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redo_logs_added_total",
			Help:      "Redo logs persisted.",
		}),
		DumpsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dumps_created_total",
			Help:      "Dump files created.",
		}),
		DumpsRecycled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dumps_recycled_total",
			Help:      "Dump files removed by recycle.",
		}),
		ViewsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_views_open",
			Help:      "Snapshot views currently held by callers.",
		}),
		ViewWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_view_waits_total",
			Help:      "View requests that waited on an in-flight build.",
		}),
	}

	reg.MustRegister(
		r.Reconstructions,
		r.ReconstructionDuration,
		r.ReplayedLogs,
		r.RedoLogsAdded,
		r.DumpsCreated,
		r.DumpsRecycled,
		r.ViewsOpen,
		r.ViewWaits,
	)
	return r
}

// Register adds an extra collector, such as a StatsCollector.
func (r *Registry) Register(c prometheus.Collector) error {
	return r.registry.Register(c)
}

// Registerer returns the underlying registerer, for components that
// register their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Handler returns an HTTP handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// RecordReconstruction counts one snapshot lookup.
// Nil-safe so components can run without metrics.
func (r *Registry) RecordReconstruction(result string) {
	if r == nil {
		return
	}
	r.Reconstructions.WithLabelValues(result).Inc()
}

// ObserveReconstruction records a rebuild that replayed logs.
func (r *Registry) ObserveReconstruction(seconds float64, logs int) {
	if r == nil {
		return
	}
	r.ReconstructionDuration.Observe(seconds)
	r.ReplayedLogs.Add(float64(logs))
}

// IncRedoLogsAdded counts a persisted redo log.
func (r *Registry) IncRedoLogsAdded() {
	if r == nil {
		return
	}
	r.RedoLogsAdded.Inc()
}

// IncDumpsCreated counts a new dump.
func (r *Registry) IncDumpsCreated() {
	if r == nil {
		return
	}
	r.DumpsCreated.Inc()
}

// AddDumpsRecycled counts dumps removed by one recycle pass.
func (r *Registry) AddDumpsRecycled(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.DumpsRecycled.Add(float64(n))
}

// IncViewsOpen tracks a view handed to a caller.
func (r *Registry) IncViewsOpen() {
	if r == nil {
		return
	}
	r.ViewsOpen.Inc()
}

// DecViewsOpen tracks a released view.
func (r *Registry) DecViewsOpen() {
	if r == nil {
		return
	}
	r.ViewsOpen.Dec()
}

// IncViewWaits counts a caller that joined an in-flight build.
func (r *Registry) IncViewWaits() {
	if r == nil {
		return
	}
	r.ViewWaits.Inc()
}
