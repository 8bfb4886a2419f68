// Package redo records and replays the mutations that turn a parent block's
// state into its child's.
//
// A Log is a list of Records in application order, including transaction
// markers. Logs are encoded as a magic header, a record count, length and
// CRC framed records and a SHA-256 trailer. The Store keeps one encoded log
// per block under log/<hash>.redo.
package redo
