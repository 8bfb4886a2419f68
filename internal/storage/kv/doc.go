// Package kv provides embedded key-value engines for auxiliary indexes.
//
// Two engines are available behind the Engine interface:
//
//   - badger: Badger v3 with a background value-log GC loop and optional
//     Prometheus gauges
//   - leveldb: goleveldb, compacted on demand
//
// The header index of the chain package is the main user.
package kv
