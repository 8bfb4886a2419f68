package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/state"
)

// Engine is the configuration name of this engine.
const Engine = "memory"

var (
	errNotOpen      = domain.ErrInvalidParam.WithDetails("memory: storage is not initialized")
	errTxOpen       = domain.ErrInvalidParam.WithDetails("memory: transaction already open")
	errNoTx         = domain.ErrInvalidParam.WithDetails("memory: no open transaction")
	errTxInProgress = domain.ErrInvalidParam.WithDetails("memory: operation not allowed inside a transaction")
	errReadOnly     = domain.ErrNotSupported.WithDetails("memory: storage is read-only")
)

type undoKey struct {
	db, key string
}

// Store is an in-memory Storage.
type Store struct {
	path   string
	opts   state.Options
	logger *slog.Logger

	mu    sync.RWMutex
	open  bool
	data  map[string]map[string]*state.Value
	undo  map[undoKey]*state.Value // nil outside a transaction
	dirty bool
}

var (
	_ state.Storage = (*Store)(nil)
	_ state.Backend = (*Store)(nil)
)

// New returns an uninitialized Store for path. It matches state.Factory.
func New(path string, opts state.Options) (state.Storage, error) {
	if path == "" {
		return nil, domain.ErrInvalidParam.WithDetails("memory: path is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{path: path, opts: opts, logger: opts.Logger}, nil
}

// Init loads the file at Path, creating an empty one if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}

	data, err := loadFile(s.path)
	switch {
	case err == nil:
		s.data = data
	case errors.Is(err, os.ErrNotExist) && !s.opts.ReadOnly:
		s.data = make(map[string]map[string]*state.Value)
		s.dirty = true
		if err := s.flushLocked(); err != nil {
			return err
		}
	default:
		return domain.IOFailure("memory: load", err)
	}

	s.open = true
	s.logger.Debug("memory storage opened", "path", s.path, "read_only", s.opts.ReadOnly)
	return nil
}

// Uninit flushes pending changes and drops the in-memory state. An open
// transaction is rolled back first.
func (s *Store) Uninit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	if s.undo != nil {
		s.rollbackLocked()
	}
	err := s.flushLocked()
	s.open = false
	s.data = nil
	return err
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ReadOnly reports whether mutations are rejected.
func (s *Store) ReadOnly() bool { return s.opts.ReadOnly }

// InTransaction reports whether a transaction is open.
func (s *Store) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.undo != nil
}

// Database returns the named database. Databases exist implicitly.
func (s *Store) Database(name string) (state.Database, error) {
	return state.NewTable(name, s)
}

// Begin starts recording undo information.
func (s *Store) Begin() error {
	if s.opts.ReadOnly {
		return errReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errNotOpen
	}
	if s.undo != nil {
		return errTxOpen
	}
	s.undo = make(map[undoKey]*state.Value)
	return nil
}

// Commit drops the undo journal and flushes the state to disk.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undo == nil {
		return errNoTx
	}
	s.undo = nil
	return s.flushLocked()
}

// Rollback restores every key touched since Begin.
func (s *Store) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undo == nil {
		return errNoTx
	}
	s.rollbackLocked()
	return nil
}

func (s *Store) rollbackLocked() {
	for k, prev := range s.undo {
		if prev == nil {
			s.deleteLocked(k.db, k.key)
		} else {
			s.putLocked(k.db, k.key, prev)
		}
	}
	s.undo = nil
}

// View runs fn under the read lock.
func (s *Store) View(fn func(state.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return errNotOpen
	}
	return fn(txn{s: s})
}

// Update runs fn under the write lock. Outside a transaction the changes
// are written to the file before Update returns, and undone if fn or the
// write fails.
func (s *Store) Update(fn func(state.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errNotOpen
	}
	if s.undo != nil {
		return fn(txn{s: s, write: true})
	}

	s.undo = make(map[undoKey]*state.Value)
	err := fn(txn{s: s, write: true})
	if err == nil {
		err = s.flushLocked()
	}
	if err != nil {
		s.rollbackLocked()
		return err
	}
	s.undo = nil
	return nil
}

// Redo replays an encoded redo log.
func (s *Store) Redo(ctx context.Context, data []byte) error {
	return state.RedoBytes(ctx, s, data)
}

// Digest hashes the current content.
func (s *Store) Digest() ([]byte, error) {
	return state.DigestOf(s)
}

// WriteTo writes the committed state in the file format.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return 0, errNotOpen
	}
	if s.undo != nil {
		return 0, errTxInProgress
	}
	n, err := encodeFile(w, s.data)
	if err != nil {
		return n, domain.IOFailure("memory: copy", err)
	}
	return n, nil
}

// Reset drops every database.
func (s *Store) Reset() error {
	if s.opts.ReadOnly {
		return errReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return errNotOpen
	}
	if s.undo != nil {
		return errTxInProgress
	}
	s.data = make(map[string]map[string]*state.Value)
	s.dirty = true
	return s.flushLocked()
}

// Remove drops the state and deletes the file.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.undo = nil
	s.data = nil
	s.dirty = false
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.IOFailure("memory: remove", err)
	}
	return nil
}

func (s *Store) flushLocked() error {
	if !s.dirty || s.opts.ReadOnly {
		return nil
	}
	if err := writeFile(s.path, s.data); err != nil {
		return domain.IOFailure("memory: flush", err)
	}
	s.dirty = false
	return nil
}

func (s *Store) putLocked(db, key string, v *state.Value) {
	table, ok := s.data[db]
	if !ok {
		table = make(map[string]*state.Value)
		s.data[db] = table
	}
	table[key] = v
	s.dirty = true
}

func (s *Store) deleteLocked(db, key string) {
	table, ok := s.data[db]
	if !ok {
		return
	}
	if _, ok := table[key]; !ok {
		return
	}
	delete(table, key)
	if len(table) == 0 {
		delete(s.data, db)
	}
	s.dirty = true
}

// journal saves the previous value of (db, key) the first time it is
// touched in the current transaction.
func (s *Store) journal(db, key string) {
	k := undoKey{db: db, key: key}
	if _, seen := s.undo[k]; seen {
		return
	}
	s.undo[k] = s.data[db][key].Clone()
}

// txn is the state.Txn view of a Store. The caller holds s.mu.
type txn struct {
	s     *Store
	write bool
}

func (t txn) Get(db, key string) (*state.Value, error) {
	return t.s.data[db][key].Clone(), nil
}

func (t txn) Put(db, key string, v *state.Value) error {
	if !t.write {
		return errReadOnly
	}
	t.s.journal(db, key)
	t.s.putLocked(db, key, v.Clone())
	return nil
}

func (t txn) Delete(db, key string) error {
	if !t.write {
		return errReadOnly
	}
	t.s.journal(db, key)
	t.s.deleteLocked(db, key)
	return nil
}

func (t txn) Keys(db string) ([]string, error) {
	return sortedKeys(t.s.data[db]), nil
}

func (t txn) Databases() ([]string, error) {
	return sortedKeys(t.s.data), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
