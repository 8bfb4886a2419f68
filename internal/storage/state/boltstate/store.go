// Package boltstate implements state.Storage on a bbolt file. Each database
// is a top-level bucket; each key holds a canonical state.Value encoding.
package boltstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/state"
)

// Engine is the configuration name of this engine.
const Engine = "bolt"

// DefaultTimeout bounds how long Init waits for the file lock.
const DefaultTimeout = time.Second

var (
	errNotOpen      = domain.ErrInvalidParam.WithDetails("boltstate: storage is not initialized")
	errTxOpen       = domain.ErrInvalidParam.WithDetails("boltstate: transaction already open")
	errNoTx         = domain.ErrInvalidParam.WithDetails("boltstate: no open transaction")
	errTxInProgress = domain.ErrInvalidParam.WithDetails("boltstate: operation not allowed inside a transaction")
)

// Store is a bbolt-backed Storage.
type Store struct {
	path   string
	opts   state.Options
	logger *slog.Logger

	mu sync.RWMutex
	db *bolt.DB
	tx *bolt.Tx
}

var (
	_ state.Storage = (*Store)(nil)
	_ state.Backend = (*Store)(nil)
)

// New returns an uninitialized Store for path. It matches state.Factory.
func New(path string, opts state.Options) (state.Storage, error) {
	if path == "" {
		return nil, domain.ErrInvalidParam.WithDetails("boltstate: path is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{path: path, opts: opts, logger: opts.Logger}, nil
}

// Init opens the bbolt file.
func (s *Store) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	if s.opts.ReadOnly {
		if _, err := os.Stat(s.path); err != nil {
			return domain.IOFailure("boltstate: open read-only", err)
		}
	}
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{
		Timeout:  s.opts.Timeout,
		ReadOnly: s.opts.ReadOnly,
	})
	if err != nil {
		return domain.IOFailure("boltstate: open", err)
	}
	s.db = db
	s.logger.Debug("bolt storage opened", "path", s.path, "read_only", s.opts.ReadOnly)
	return nil
}

// Uninit rolls back any open transaction and closes the file.
func (s *Store) Uninit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	if s.db == nil {
		return nil
	}
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return domain.IOFailure("boltstate: close", err)
	}
	return nil
}

// Path returns the bbolt file path.
func (s *Store) Path() string { return s.path }

// ReadOnly reports whether the file was opened read-only.
func (s *Store) ReadOnly() bool { return s.opts.ReadOnly }

// InTransaction reports whether Begin has been called without Commit or Rollback.
func (s *Store) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tx != nil
}

// Database returns the named database, creating its bucket unless read-only.
func (s *Store) Database(name string) (state.Database, error) {
	t, err := state.NewTable(name, s)
	if err != nil {
		return nil, err
	}
	if s.opts.ReadOnly {
		return t, nil
	}
	err = s.Update(func(tx state.Txn) error {
		_, err := tx.(txn).tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, domain.IOFailure("boltstate: create database", err)
	}
	return t, nil
}

// Begin opens the write transaction that subsequent mutations join.
func (s *Store) Begin() error {
	if s.opts.ReadOnly {
		return domain.ErrNotSupported.WithDetails("boltstate: storage is read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errNotOpen
	}
	if s.tx != nil {
		return errTxOpen
	}
	tx, err := s.db.Begin(true)
	if err != nil {
		return domain.IOFailure("boltstate: begin", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errNoTx
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return domain.IOFailure("boltstate: commit", err)
	}
	return nil
}

// Rollback discards the open transaction.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return errNoTx
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return domain.IOFailure("boltstate: rollback", err)
	}
	return nil
}

// View runs fn against the open transaction if there is one, otherwise
// against a read-only snapshot.
func (s *Store) View(fn func(state.Txn) error) error {
	s.mu.RLock()
	if s.tx == nil {
		defer s.mu.RUnlock()
		if s.db == nil {
			return errNotOpen
		}
		return s.db.View(func(tx *bolt.Tx) error { return fn(txn{tx: tx}) })
	}
	s.mu.RUnlock()

	// bbolt transactions are not safe for concurrent use.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errNotOpen
	}
	if s.tx != nil {
		return fn(txn{tx: s.tx})
	}
	return s.db.View(func(tx *bolt.Tx) error { return fn(txn{tx: tx}) })
}

// Update runs fn inside the open transaction, or in its own transaction.
// A failure inside an open transaction leaves it open for the caller to
// roll back.
func (s *Store) Update(fn func(state.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errNotOpen
	}
	if s.tx != nil {
		return fn(txn{tx: s.tx})
	}
	return s.db.Update(func(tx *bolt.Tx) error { return fn(txn{tx: tx}) })
}

// Redo replays an encoded redo log.
func (s *Store) Redo(ctx context.Context, data []byte) error {
	return state.RedoBytes(ctx, s, data)
}

// Digest hashes the committed and pending content.
func (s *Store) Digest() ([]byte, error) {
	return state.DigestOf(s)
}

// WriteTo writes a consistent copy of the committed file to w.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, errNotOpen
	}
	if s.tx != nil {
		return 0, errTxInProgress
	}
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	if err != nil {
		return n, domain.IOFailure("boltstate: copy", err)
	}
	return n, nil
}

// Reset deletes every bucket.
func (s *Store) Reset() error {
	if s.opts.ReadOnly {
		return domain.ErrNotSupported.WithDetails("boltstate: storage is read-only")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errNotOpen
	}
	if s.tx != nil {
		return errTxInProgress
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		var names [][]byte
		if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.IOFailure("boltstate: reset", err)
	}
	return nil
}

// Remove closes the file and deletes it.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.closeLocked(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.IOFailure("boltstate: remove", err)
	}
	s.logger.Debug("bolt storage removed", "path", s.path)
	return nil
}

// txn adapts a bolt transaction to state.Txn.
type txn struct {
	tx *bolt.Tx
}

func (t txn) Get(db, key string) (*state.Value, error) {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return nil, nil
	}
	raw := b.Get([]byte(key))
	if raw == nil {
		return nil, nil
	}
	return state.UnmarshalValue(raw)
}

func (t txn) Put(db, key string, v *state.Value) error {
	enc, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	b, err := t.tx.CreateBucketIfNotExists([]byte(db))
	if err != nil {
		return domain.IOFailure("boltstate: bucket", err)
	}
	if err := b.Put([]byte(key), enc); err != nil {
		return domain.IOFailure("boltstate: put", err)
	}
	return nil
}

func (t txn) Delete(db, key string) error {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return nil
	}
	if err := b.Delete([]byte(key)); err != nil {
		return domain.IOFailure("boltstate: delete", err)
	}
	return nil
}

func (t txn) Keys(db string) ([]string, error) {
	b := t.tx.Bucket([]byte(db))
	if b == nil {
		return nil, nil
	}
	var keys []string
	err := b.ForEach(func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	return keys, err
}

func (t txn) Databases() ([]string, error) {
	var names []string
	err := t.tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
		names = append(names, string(name))
		return nil
	})
	return names, err
}
