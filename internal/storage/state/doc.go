// Package state defines the Storage capability: a single-file transactional
// container of named databases holding string, hash and list values.
//
// Engines (boltstate, memory) provide the Backend primitives; the generic
// table in this package implements the Database command set on top of them
// so every engine shares one set of semantics. A Recorder wraps any Storage
// and appends each successful mutation to a redo.Log; Replay drives a log
// back through a Storage.
package state
