// Package storage is the entry point for block state.
//
// Manager hands out read-only snapshot views of any known block, creates
// named scratch storages for executing the next block, and turns a finished
// scratch storage into the dump and redo log of its block. It sits on top
// of the snapshot package, which owns dumps, redo logs and reconstruction.
//
// Concurrent requests for the same view share one reconstruction: the first
// caller registers a pending view and every later caller waits on it. All
// waiters receive the same Storage or the same error. Views are reference
// counted and closed when the last reference is released.
//
// Directory layout under Config.Root:
//
//	dump/      one dump per block (see package snapshot)
//	log/       one redo log per block
//	scratch/   named storages from CreateStorage
package storage
