package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/dump"
	"github.com/yndnr/chainstate-go/internal/storage/redo"
	"github.com/yndnr/chainstate-go/internal/storage/snapshot"
	"github.com/yndnr/chainstate-go/internal/storage/state"
	"github.com/yndnr/chainstate-go/internal/telemetry/metric"
	"github.com/yndnr/chainstate-go/internal/telemetry/tracer"
)

// Default configuration values.
const (
	ScratchDir             = "scratch"
	DefaultRecycleInterval = 10 * time.Minute
	DefaultRecycleTimeout  = time.Minute
)

var scratchNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Config configures the storage manager.
type Config struct {
	// Root is the base directory for dumps, logs and scratch storages.
	Root string

	// ReadOnly serves existing dumps only. Directory creation, reconstruction
	// and every mutating call are rejected with domain.ErrNotSupported.
	ReadOnly bool

	// Engine selects the Storage implementation when Factory is nil.
	Engine string

	// Factory creates Storage instances. Overrides Engine.
	Factory state.Factory

	// BoltTimeout bounds how long bolt waits for a file lock.
	BoltTimeout time.Duration

	// Headers resolves parent links during reconstruction.
	Headers snapshot.HeaderIndex

	// RecordRedo wraps storages from CreateStorage in a redo recorder.
	RecordRedo bool

	// RecycleInterval runs Recycle periodically. Zero disables it.
	RecycleInterval time.Duration

	Logger  *slog.Logger
	Metrics *metric.Registry
	Tracer  *tracer.Provider
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig(root string) Config {
	return Config{
		Root:            root,
		RecordRedo:      true,
		RecycleInterval: DefaultRecycleInterval,
		Logger:          slog.Default(),
	}
}

// view is a pending or ready snapshot view shared by all its holders.
type view struct {
	refs    int
	done    chan struct{}
	storage state.Storage
	err     error
}

func (v *view) ready() bool {
	select {
	case <-v.done:
		return true
	default:
		return false
	}
}

// ViewInfo describes an open snapshot view.
type ViewInfo struct {
	Hash  domain.BlockHash `json:"hash"`
	Refs  int              `json:"refs"`
	Ready bool             `json:"ready"`
}

// Manager is the storage façade.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metric.Registry
	snapshots *snapshot.Manager

	mu     sync.Mutex
	views  map[domain.BlockHash]*view
	closed bool
	builds sync.WaitGroup

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates a storage manager and starts the recycle loop when
// cfg.RecycleInterval is positive.
func New(cfg Config) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage: root is required")
	}
	if cfg.Headers == nil {
		return nil, fmt.Errorf("storage: header index is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Factory == nil {
		factory, err := NewFactory(cfg.Engine, cfg.BoltTimeout)
		if err != nil {
			return nil, err
		}
		cfg.Factory = factory
	}

	snapshots, err := snapshot.NewManager(snapshot.Config{
		Root:     cfg.Root,
		ReadOnly: cfg.ReadOnly,
		Factory:  cfg.Factory,
		Headers:  cfg.Headers,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Tracer:   cfg.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create snapshot manager: %w", err)
	}

	if !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Join(cfg.Root, ScratchDir), dump.DefaultDirPerm); err != nil {
			return nil, domain.IOFailure("storage: create scratch dir", err)
		}
	}

	if cfg.Metrics != nil {
		if err := cfg.Metrics.Register(metric.NewCollector(snapshots)); err != nil {
			cfg.Logger.Debug("stats collector not registered", "error", err)
		}
	}

	m := &Manager{
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		snapshots: snapshots,
		views:     make(map[domain.BlockHash]*view),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if cfg.RecycleInterval > 0 && !cfg.ReadOnly {
		go m.recycleLoop()
	} else {
		close(m.doneCh)
	}

	return m, nil
}

// Snapshots returns the underlying snapshot manager.
func (m *Manager) Snapshots() *snapshot.Manager {
	return m.snapshots
}

// Root returns the storage root.
func (m *Manager) Root() string {
	return m.cfg.Root
}

// ReadOnly reports whether the manager rejects writes.
func (m *Manager) ReadOnly() bool {
	return m.cfg.ReadOnly
}

// GetSnapshotView returns a read-only Storage holding the state after block
// hash and takes one reference on it. Callers must release it with
// ReleaseSnapshotView. If ctx ends while waiting, only this caller's
// reference is dropped; the shared build continues for the other waiters.
func (m *Manager) GetSnapshotView(ctx context.Context, hash domain.BlockHash) (state.Storage, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, domain.ErrNotSupported.WithDetails("storage: manager closed")
	}
	v, ok := m.views[hash]
	if ok {
		v.refs++
		if !v.ready() {
			m.metrics.IncViewWaits()
		}
	} else {
		v = &view{refs: 1, done: make(chan struct{})}
		m.views[hash] = v
		m.builds.Add(1)
		go m.build(context.WithoutCancel(ctx), hash, v)
	}
	m.mu.Unlock()

	select {
	case <-v.done:
		if v.err != nil {
			return nil, v.err
		}
		return v.storage, nil
	case <-ctx.Done():
		m.drop(hash, v)
		return nil, ctx.Err()
	}
}

// build materializes the dump of hash and opens it as the view storage.
func (m *Manager) build(ctx context.Context, hash domain.BlockHash, v *view) {
	defer m.builds.Done()

	d, err := m.snapshots.GetSnapshot(ctx, hash)
	var s state.Storage
	if err == nil {
		s, err = m.openView(ctx, d)
		if err != nil {
			if rerr := m.snapshots.ReleaseSnapshot(hash); rerr != nil {
				m.logger.Warn("release dump after failed open", "hash", hash.Short(), "error", rerr)
			}
		}
	}

	var orphan state.Storage
	m.mu.Lock()
	if err != nil {
		v.err = err
		if m.views[hash] == v {
			delete(m.views, hash)
		}
	} else {
		v.storage = s
		if v.refs == 0 {
			// Every waiter gave up.
			if m.views[hash] == v {
				delete(m.views, hash)
			}
			orphan = s
		} else {
			m.metrics.IncViewsOpen()
		}
	}
	close(v.done)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("snapshot view failed", "hash", hash.Short(), "error", err)
		return
	}
	if orphan != nil {
		m.closeView(hash, orphan)
	}
}

func (m *Manager) openView(ctx context.Context, d *dump.Dump) (state.Storage, error) {
	s, err := m.cfg.Factory(d.Path, state.Options{
		ReadOnly: true,
		Timeout:  m.cfg.BoltTimeout,
		Logger:   m.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// drop removes a reference taken by a caller that stopped waiting.
func (m *Manager) drop(hash domain.BlockHash, v *view) {
	m.mu.Lock()
	v.refs--
	closeNow := v.refs == 0 && v.ready() && v.err == nil
	if closeNow {
		if m.views[hash] == v {
			delete(m.views, hash)
		}
		m.metrics.DecViewsOpen()
	}
	m.mu.Unlock()

	if closeNow {
		m.closeView(hash, v.storage)
	}
}

func (m *Manager) closeView(hash domain.BlockHash, s state.Storage) {
	if err := s.Uninit(); err != nil {
		m.logger.Warn("close snapshot view", "hash", hash.Short(), "error", err)
	}
	if err := m.snapshots.ReleaseSnapshot(hash); err != nil {
		m.logger.Warn("release dump", "hash", hash.Short(), "error", err)
	}
}

// ReleaseSnapshotView drops one reference on the view of hash. The last
// release closes the view and releases its dump.
func (m *Manager) ReleaseSnapshotView(hash domain.BlockHash) error {
	m.mu.Lock()
	v, ok := m.views[hash]
	if !ok || v.refs == 0 {
		m.mu.Unlock()
		return domain.ErrInvalidParam.WithDetails("storage: no open view for " + hash.String())
	}
	v.refs--
	closeNow := v.refs == 0 && v.ready()
	if closeNow {
		delete(m.views, hash)
		m.metrics.DecViewsOpen()
	}
	m.mu.Unlock()

	if closeNow {
		m.closeView(hash, v.storage)
	}
	return nil
}

// Views lists open and pending views sorted by hash.
func (m *Manager) Views() []ViewInfo {
	m.mu.Lock()
	out := make([]ViewInfo, 0, len(m.views))
	for h, v := range m.views {
		out = append(out, ViewInfo{Hash: h, Refs: v.refs, Ready: v.ready()})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Hash.String() < out[j].Hash.String() })
	return out
}

// CreateOption configures CreateStorage.
type CreateOption func(*createOptions)

type createOptions struct {
	fromBlock   *domain.BlockHash
	fromStorage state.Storage
	record      *bool
}

// FromBlock starts the new storage from the state after block hash.
func FromBlock(hash domain.BlockHash) CreateOption {
	return func(o *createOptions) {
		o.fromBlock = &hash
		o.fromStorage = nil
	}
}

// FromStorage starts the new storage as a copy of s.
func FromStorage(s state.Storage) CreateOption {
	return func(o *createOptions) {
		o.fromStorage = s
		o.fromBlock = nil
	}
}

// WithRecording overrides Config.RecordRedo for one storage.
func WithRecording(enabled bool) CreateOption {
	return func(o *createOptions) {
		o.record = &enabled
	}
}

// ScratchPath returns the path CreateStorage uses for name.
func (m *Manager) ScratchPath(name string) string {
	return filepath.Join(m.cfg.Root, ScratchDir, name)
}

// CreateStorage creates an initialized scratch storage called name. Any
// existing file with that name is removed first. Without options the
// storage starts empty.
func (m *Manager) CreateStorage(ctx context.Context, name string, opts ...CreateOption) (state.Storage, error) {
	if m.cfg.ReadOnly {
		return nil, domain.ErrNotSupported.WithDetails("storage: read-only")
	}
	if !scratchNamePattern.MatchString(name) {
		return nil, domain.ErrInvalidParam.WithDetails(fmt.Sprintf("storage: invalid storage name %q", name))
	}

	o := createOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	path := m.ScratchPath(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, domain.IOFailure("storage: remove stale storage", err)
	}

	switch {
	case o.fromBlock != nil:
		if err := m.copyFromBlock(ctx, *o.fromBlock, path); err != nil {
			return nil, err
		}
	case o.fromStorage != nil:
		if err := copyStorage(o.fromStorage, path); err != nil {
			return nil, err
		}
	}

	s, err := m.cfg.Factory(path, state.Options{Timeout: m.cfg.BoltTimeout, Logger: m.logger})
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	record := m.cfg.RecordRedo
	if o.record != nil {
		record = *o.record
	}
	if record {
		s = state.AttachLogger(s, redo.NewLog())
	}

	m.logger.Debug("scratch storage created", "name", name, "record_redo", record)
	return s, nil
}

func (m *Manager) copyFromBlock(ctx context.Context, hash domain.BlockHash, path string) error {
	v, err := m.GetSnapshotView(ctx, hash)
	if err != nil {
		return err
	}
	copyErr := copyStorage(v, path)
	if err := m.ReleaseSnapshotView(hash); err != nil && copyErr == nil {
		copyErr = err
	}
	return copyErr
}

func copyStorage(from state.Storage, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, dump.DefaultFilePerm)
	if err != nil {
		return domain.IOFailure("storage: create storage file", err)
	}
	if _, err := from.WriteTo(f); err != nil {
		f.Close()
		_ = os.Remove(path)
		return domain.IOFailure("storage: copy storage", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(path)
		return domain.IOFailure("storage: sync storage", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return domain.IOFailure("storage: close storage", err)
	}
	return nil
}

// CreateSnapshot stores from as the dump of hash. A redo log attached to
// from is finished and stored alongside. With removeSource, from is deleted
// once the dump exists.
func (m *Manager) CreateSnapshot(ctx context.Context, from state.Storage, hash domain.BlockHash, removeSource bool) (*dump.Dump, error) {
	if l, ok := state.LoggerOf(from); ok && !l.Finished() {
		if from.InTransaction() {
			return nil, domain.ErrInvalidParam.WithDetails("storage: snapshot of " + hash.Short() + " inside a transaction")
		}
		l.Finish()
	}

	d, err := m.snapshots.CreateSnapshot(ctx, from, hash)
	if err != nil {
		return nil, err
	}

	if removeSource {
		if err := from.Remove(); err != nil {
			return d, domain.IOFailure("storage: remove source", err)
		}
	}
	return d, nil
}

// RedoLog returns the stored redo log of hash.
func (m *Manager) RedoLog(hash domain.BlockHash) (*redo.Log, error) {
	return m.snapshots.RedoLog(hash)
}

// HasRedoLog reports whether a redo log is stored for hash.
func (m *Manager) HasRedoLog(hash domain.BlockHash) bool {
	return m.snapshots.HasRedoLog(hash)
}

// AddRedoLog stores a finished redo log for hash, e.g. one received from a
// peer.
func (m *Manager) AddRedoLog(hash domain.BlockHash, l *redo.Log) error {
	return m.snapshots.AddRedoLog(hash, l)
}

// RawRedoLog returns the encoded redo log of hash.
func (m *Manager) RawRedoLog(hash domain.BlockHash) ([]byte, error) {
	return m.snapshots.RawRedoLog(hash)
}

// AddRawRedoLog validates and stores an encoded redo log for hash.
func (m *Manager) AddRawRedoLog(hash domain.BlockHash, data []byte) error {
	return m.snapshots.AddRawRedoLog(hash, data)
}

// RedoLogs lists the hashes with a stored redo log.
func (m *Manager) RedoLogs() ([]domain.BlockHash, error) {
	return m.snapshots.RedoLogs()
}

// Dumps lists the tracked dumps with their reference counts.
func (m *Manager) Dumps() ([]snapshot.DumpInfo, error) {
	return m.snapshots.Dumps()
}

// RecycleSnapshot removes every unreferenced dump.
func (m *Manager) RecycleSnapshot(ctx context.Context) (int, error) {
	return m.snapshots.Recycle(ctx)
}

// recycleLoop runs periodic recycling.
func (m *Manager) recycleLoop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.RecycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), DefaultRecycleTimeout)
			if _, err := m.RecycleSnapshot(ctx); err != nil {
				m.logger.Error("auto recycle failed", "error", err)
			}
			cancel()

		case <-m.stopCh:
			return
		}
	}
}

// Close stops the recycle loop, waits for pending views and closes every
// open view.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.logger.Info("shutting down storage manager")

		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		close(m.stopCh)
		<-m.doneCh
		m.builds.Wait()

		m.mu.Lock()
		views := m.views
		m.views = make(map[domain.BlockHash]*view)
		m.mu.Unlock()

		for hash, v := range views {
			if v.err == nil && v.storage != nil {
				m.metrics.DecViewsOpen()
				m.closeView(hash, v.storage)
			}
		}
		m.logger.Info("storage manager shutdown complete")
	})
	return nil
}
