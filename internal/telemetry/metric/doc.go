// Package metric provides Prometheus metrics for chainstate.
//
// The Registry owns one prometheus.Registry with the Go and process
// collectors plus the snapshot metrics:
//
//   - reconstructions by result and their duration
//   - redo logs replayed and stored
//   - dumps created and recycled
//   - snapshot views open and callers that waited on an in-flight build
//
// StatsCollector exports point-in-time figures (dump count, pinned
// references, redo log bytes) read from a StatsSource at scrape time.
//
// Metrics are exposed at /metrics in Prometheus format.
package metric
