// Package dump manages full state copies, one file per block under
// dump/<hash>. It only knows about files; reference counting lives in the
// snapshot package.
package dump
