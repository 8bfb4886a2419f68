package state

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Storage is a transactional state container backed by exactly one file.
//
// Lifecycle: construct, Init, use, Uninit, optionally Remove. A Storage
// accepts one writer at a time; readers may share a Storage that has no
// open transaction.
type Storage interface {
	// Init opens the backing file, creating it unless read-only.
	Init(ctx context.Context) error
	// Uninit closes the backing file. It is safe to call more than once.
	Uninit() error
	// Path returns the backing file path.
	Path() string
	// ReadOnly reports whether mutations are rejected.
	ReadOnly() bool

	// Database returns the named database, creating it on first use.
	Database(name string) (Database, error)

	Begin() error
	Commit() error
	Rollback() error
	InTransaction() bool

	// Redo decodes an encoded redo log and replays it in order.
	Redo(ctx context.Context, data []byte) error
	// Digest returns a content hash over every database, key and value.
	Digest() ([]byte, error)
	// WriteTo writes a consistent copy of the backing file to w.
	WriteTo(w io.Writer) (int64, error)

	// Reset drops all content but keeps the file.
	Reset() error
	// Remove uninitializes the storage and deletes its file.
	Remove() error
}

// Database is one named table namespace inside a Storage.
type Database interface {
	Name() string

	// Strings.
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Del(key string) error
	Has(key string) (bool, error)
	Type(key string) (ValueType, error)
	Keys() ([]string, error)

	// Hashes.
	HSet(key, field string, value []byte) error
	HMSet(key string, fields map[string][]byte) error
	HGet(key, field string) ([]byte, error)
	HGetAll(key string) (map[string][]byte, error)
	HDel(key string, fields ...string) (int64, error)
	HClean(key string) error

	// Lists.
	LSet(key string, index int64, value []byte) error
	LPush(key string, values ...[]byte) (int64, error)
	LPushX(key string, values ...[]byte) (int64, error)
	LPop(key string) ([]byte, error)
	RPush(key string, values ...[]byte) (int64, error)
	RPushX(key string, values ...[]byte) (int64, error)
	RPop(key string) ([]byte, error)
	LInsert(key string, before bool, pivot, value []byte) (int64, error)
	LRemove(key string, count int64, value []byte) (int64, error)
	LIndex(key string, index int64) ([]byte, error)
	LRange(key string, start, stop int64) ([][]byte, error)
	LLen(key string) (int64, error)
}

// Options configures a Storage at construction.
type Options struct {
	ReadOnly bool
	// Timeout bounds how long Init waits for the file lock.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Factory builds an uninitialized Storage for the file at path.
type Factory func(path string, opts Options) (Storage, error)

// Txn is the primitive surface an engine exposes for one read or write
// operation. Values returned by Get are owned by the caller.
type Txn interface {
	// Get returns (nil, nil) when the key is absent.
	Get(db, key string) (*Value, error)
	Put(db, key string, v *Value) error
	Delete(db, key string) error
	// Keys returns the keys of db in byte order.
	Keys(db string) ([]string, error)
	// Databases returns the database names in byte order.
	Databases() ([]string, error)
}

// Backend is implemented by engines. Update runs fn atomically, inside the
// open transaction if there is one.
type Backend interface {
	ReadOnly() bool
	View(fn func(Txn) error) error
	Update(fn func(Txn) error) error
}
