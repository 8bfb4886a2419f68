// Package httpserver serves the chainstate HTTP API and Prometheus metrics.
//
// Routes:
//
//	GET  /health, /ready
//	GET  /metrics
//	GET  /v1/dumps                    list dumps and their references
//	POST /v1/dumps/recycle            remove unreferenced dumps (admin)
//	GET  /v1/views                    list open snapshot views
//	GET  /v1/snapshots/{hash}/digest  reconstruct a block state and digest it
//	GET  /v1/redo                     list stored redo logs
//	GET  /v1/redo/{hash}              fetch an encoded redo log
//	PUT  /v1/redo/{hash}              store a redo log from a peer (admin)
//	GET  /v1/headers/{hash}           read a block header
//	PUT  /v1/headers/{hash}           store a block header (admin)
//
// Admin routes are subject to the configured network allowlist.
package httpserver
