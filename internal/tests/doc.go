// Package tests holds cross-package scenarios for chainstate: a chain of
// blocks committed through the storage manager on the bolt engine with a
// real header index, restarts, and redo log exchange between two nodes over
// the HTTP API.
//
// Run with:
//
//	go test ./internal/tests/...
//
// Long scenarios are skipped with -short.
package tests
