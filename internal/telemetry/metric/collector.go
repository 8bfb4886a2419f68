package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time view of the snapshot store.
type Stats struct {
	Dumps        int
	PinnedDumps  int
	References   int
	RedoLogs     int
	RedoLogBytes int64
}

// StatsSource provides Stats at scrape time.
type StatsSource interface {
	MetricStats() Stats
}

// StatsCollector exports a StatsSource as gauges.
type StatsCollector struct {
	source StatsSource

	dumps        *prometheus.Desc
	pinned       *prometheus.Desc
	references   *prometheus.Desc
	redoLogs     *prometheus.Desc
	redoLogBytes *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source StatsSource) *StatsCollector {
	return &StatsCollector{
		source: source,
		dumps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dumps"),
			"Dump files on disk.", nil, nil),
		pinned: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dumps_pinned"),
			"Dumps with a non-zero reference count.", nil, nil),
		references: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "snapshot_references"),
			"Sum of dump reference counts.", nil, nil),
		redoLogs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "redo_logs"),
			"Redo logs on disk.", nil, nil),
		redoLogBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "redo_log_bytes"),
			"Total size of redo logs on disk.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dumps
	ch <- c.pinned
	ch <- c.references
	ch <- c.redoLogs
	ch <- c.redoLogBytes
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.MetricStats()
	ch <- prometheus.MustNewConstMetric(c.dumps, prometheus.GaugeValue, float64(s.Dumps))
	ch <- prometheus.MustNewConstMetric(c.pinned, prometheus.GaugeValue, float64(s.PinnedDumps))
	ch <- prometheus.MustNewConstMetric(c.references, prometheus.GaugeValue, float64(s.References))
	ch <- prometheus.MustNewConstMetric(c.redoLogs, prometheus.GaugeValue, float64(s.RedoLogs))
	ch <- prometheus.MustNewConstMetric(c.redoLogBytes, prometheus.GaugeValue, float64(s.RedoLogBytes))
}
