// Package memory provides an in-memory state.Storage persisted to one file.
//
// The whole state lives in maps. Every commit, explicit or the implicit one
// of a mutation outside a transaction, flushes it to disk as a checksummed
// file:
//
//	magic "CSTATE01" | header len (4) | header JSON | data len (8) | data | sha256 (32)
//
// The file is written to a temp path and renamed into place, so a crash
// leaves either the old or the new state. Transactions keep an undo journal
// of the keys they touch.
package memory
