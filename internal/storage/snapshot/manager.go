package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/dump"
	"github.com/yndnr/chainstate-go/internal/storage/redo"
	"github.com/yndnr/chainstate-go/internal/storage/state"
	"github.com/yndnr/chainstate-go/internal/telemetry/metric"
	"github.com/yndnr/chainstate-go/internal/telemetry/tracer"
)

// Directory names under the storage root.
const (
	DumpDir = "dump"
	LogDir  = "log"
)

// HeaderIndex resolves block headers. It returns domain.ErrHeaderNotFound
// for unknown hashes.
type HeaderIndex interface {
	GetHeader(ctx context.Context, hash domain.BlockHash) (domain.Header, error)
}

// Config configures the snapshot manager.
type Config struct {
	// Root holds the dump and log directories.
	Root string

	// ReadOnly disables reconstruction and every write.
	ReadOnly bool

	// Factory opens dump files as Storage during reconstruction.
	Factory state.Factory

	// Headers is walked to find the reconstruction base.
	Headers HeaderIndex

	Logger  *slog.Logger
	Metrics *metric.Registry
	Tracer  *tracer.Provider
}

// DefaultConfig returns the default configuration for root.
func DefaultConfig(root string) Config {
	return Config{
		Root:   root,
		Logger: slog.Default(),
	}
}

// DumpInfo is a dump and its current reference count.
type DumpInfo struct {
	*dump.Dump
	Refs int `json:"refs"`
}

// Manager tracks dumps and their reference counts.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Registry
	tracer  *tracer.Provider

	dumps *dump.Manager
	logs  *redo.Store

	mu   sync.Mutex
	refs map[domain.BlockHash]int
}

// NewManager opens the dump and log directories under cfg.Root and indexes
// the dumps found there with a reference count of zero.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("snapshot: root is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("snapshot: factory is required")
	}
	if cfg.Headers == nil {
		return nil, fmt.Errorf("snapshot: header index is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracer.New("")
	}

	dumps, err := dump.NewManager(dump.Config{
		Dir:      filepath.Join(cfg.Root, DumpDir),
		ReadOnly: cfg.ReadOnly,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	logs, err := redo.NewStore(redo.StoreConfig{
		Dir:      filepath.Join(cfg.Root, LogDir),
		ReadOnly: cfg.ReadOnly,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	if err := dumps.CleanScratch(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if err := logs.CleanTemp(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	existing, err := dumps.List()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	refs := make(map[domain.BlockHash]int, len(existing))
	for _, d := range existing {
		refs[d.Hash] = 0
	}

	cfg.Logger.Info("snapshot manager ready",
		"root", cfg.Root,
		"dumps", len(refs),
		"read_only", cfg.ReadOnly,
	)

	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		dumps:   dumps,
		logs:    logs,
		refs:    refs,
	}, nil
}

// Root returns the storage root.
func (m *Manager) Root() string {
	return m.cfg.Root
}

// ReadOnly reports whether the manager rejects writes.
func (m *Manager) ReadOnly() bool {
	return m.cfg.ReadOnly
}

// Factory returns the storage factory used to open dumps.
func (m *Manager) Factory() state.Factory {
	return m.cfg.Factory
}

// DumpManager returns the underlying dump manager.
func (m *Manager) DumpManager() *dump.Manager {
	return m.dumps
}

// GetSnapshot returns the dump for hash and takes one reference on it,
// rebuilding the dump from the nearest ancestor dump when it is missing.
// Concurrent calls for the same hash may rebuild in parallel; the first to
// finish wins and the others discard their work.
func (m *Manager) GetSnapshot(ctx context.Context, hash domain.BlockHash) (*dump.Dump, error) {
	if d, ok, err := m.acquire(hash); ok || err != nil {
		if err == nil {
			m.metrics.RecordReconstruction(metric.ResultHit)
		}
		return d, err
	}

	if m.cfg.ReadOnly {
		return nil, domain.ErrNotSupported.WithDetails("snapshot: cannot rebuild " + hash.Short() + " in read-only mode")
	}

	d, err := m.reconstruct(ctx, hash)
	if err != nil {
		m.metrics.RecordReconstruction(metric.ResultFailed)
		return nil, err
	}
	m.metrics.RecordReconstruction(metric.ResultBuilt)
	return d, nil
}

// acquire takes a reference on an existing dump.
func (m *Manager) acquire(hash domain.BlockHash) (*dump.Dump, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[hash]; !ok {
		return nil, false, nil
	}
	d, err := m.dumps.Get(hash)
	if err != nil {
		if errors.Is(err, domain.ErrDumpNotFound) {
			// Removed behind our back; forget it and rebuild.
			delete(m.refs, hash)
			return nil, false, nil
		}
		return nil, false, err
	}
	m.refs[hash]++
	return d, true, nil
}

func (m *Manager) reconstruct(ctx context.Context, hash domain.BlockHash) (_ *dump.Dump, err error) {
	ctx, span := m.tracer.Start(ctx, "snapshot.reconstruct", attribute.String("block.hash", hash.String()))
	defer func() { tracer.End(span, err) }()

	start := time.Now()

	base, path, err := m.findBase(ctx, hash)
	if err != nil {
		return nil, err
	}
	pinned := true
	unpin := func() {
		if pinned {
			m.unpin(base)
			pinned = false
		}
	}
	defer unpin()

	span.SetAttributes(
		attribute.String("base.hash", base.String()),
		attribute.Int("redo.logs", len(path)),
	)
	m.logger.Debug("rebuilding snapshot",
		"hash", hash.Short(),
		"base", base.Short(),
		"logs", len(path),
	)

	scratch := m.dumps.ScratchPath()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(scratch)
		}
	}()

	if err := m.dumps.CopyTo(base, scratch); err != nil {
		return nil, err
	}
	unpin()

	if err := m.replay(ctx, scratch, path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[hash]; ok {
		// Another caller finished first.
		d, err := m.dumps.Get(hash)
		if err != nil {
			return nil, err
		}
		m.refs[hash]++
		return d, nil
	}
	d, err := m.dumps.Adopt(scratch, hash)
	if err != nil {
		return nil, err
	}
	keep = true
	m.refs[hash] = 1

	m.metrics.ObserveReconstruction(time.Since(start).Seconds(), len(path))
	m.logger.Info("snapshot rebuilt",
		"hash", hash.Short(),
		"base", base.Short(),
		"logs", len(path),
		"duration", time.Since(start),
	)
	return d, nil
}

// findBase walks parent links from hash until a block with a dump is found.
// It returns that block, pinned against recycling, and the walked hashes
// oldest first.
func (m *Manager) findBase(ctx context.Context, hash domain.BlockHash) (domain.BlockHash, []domain.BlockHash, error) {
	var walked []domain.BlockHash
	seen := make(map[domain.BlockHash]struct{})
	cur := hash

	for {
		if err := ctx.Err(); err != nil {
			return domain.ZeroHash, nil, err
		}
		if m.pin(cur) {
			break
		}
		if _, ok := seen[cur]; ok {
			return domain.ZeroHash, nil, domain.ErrInvalidChain.WithDetails("snapshot: header cycle at " + cur.String())
		}
		seen[cur] = struct{}{}

		header, err := m.cfg.Headers.GetHeader(ctx, cur)
		if err != nil {
			if errors.Is(err, domain.ErrHeaderNotFound) {
				return domain.ZeroHash, nil, domain.ErrInvalidChain.
					WithDetails("snapshot: no header for " + cur.String()).
					WithCause(err)
			}
			return domain.ZeroHash, nil, err
		}
		if header.Hash != cur {
			return domain.ZeroHash, nil, domain.ErrInvalidChain.
				WithDetails(fmt.Sprintf("snapshot: header for %s carries hash %s", cur, header.Hash))
		}
		walked = append(walked, cur)
		if header.IsGenesis() {
			return domain.ZeroHash, nil, domain.ErrInvalidChain.
				WithDetails("snapshot: no dump on the path from " + hash.String() + " to genesis")
		}
		cur = header.PreBlockHash
	}

	// Oldest first.
	for i, j := 0, len(walked)-1; i < j; i, j = i+1, j-1 {
		walked[i], walked[j] = walked[j], walked[i]
	}
	return cur, walked, nil
}

func (m *Manager) pin(hash domain.BlockHash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refs[hash]; !ok {
		return false
	}
	m.refs[hash]++
	return true
}

func (m *Manager) unpin(hash domain.BlockHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[hash] > 0 {
		m.refs[hash]--
	}
}

// replay opens the scratch file and applies the logs of path in order.
func (m *Manager) replay(ctx context.Context, scratch string, path []domain.BlockHash) error {
	s, err := m.cfg.Factory(scratch, state.Options{Logger: m.logger})
	if err != nil {
		return err
	}
	if err := s.Init(ctx); err != nil {
		return err
	}
	for _, h := range path {
		data, err := m.logs.GetRaw(h)
		if err != nil {
			_ = s.Uninit()
			return err
		}
		if err := s.Redo(ctx, data); err != nil {
			_ = s.Uninit()
			return fmt.Errorf("snapshot: replay %s: %w", h.Short(), err)
		}
	}
	if err := s.Uninit(); err != nil {
		return domain.IOFailure("snapshot: close scratch", err)
	}
	return nil
}

// CreateSnapshot writes a dump of from for hash. When from records a redo
// log, the log must be finished and is stored as hash's log. The reference
// count of hash is left unchanged.
func (m *Manager) CreateSnapshot(ctx context.Context, from state.Storage, hash domain.BlockHash) (_ *dump.Dump, err error) {
	if m.cfg.ReadOnly {
		return nil, domain.ErrNotSupported.WithDetails("snapshot: read-only")
	}
	ctx, span := m.tracer.Start(ctx, "snapshot.create", attribute.String("block.hash", hash.String()))
	defer func() { tracer.End(span, err) }()

	if l, ok := state.LoggerOf(from); ok {
		if !l.Finished() {
			return nil, domain.ErrInvalidParam.WithDetails("snapshot: redo log of " + hash.Short() + " is not finished")
		}
		if err := m.AddRedoLog(hash, l); err != nil {
			return nil, err
		}
	}

	scratch, err := m.dumps.Write(ctx, from)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.dumps.Adopt(scratch, hash)
	if err != nil {
		_ = os.Remove(scratch)
		return nil, err
	}
	if _, ok := m.refs[hash]; !ok {
		m.refs[hash] = 0
	}
	m.metrics.IncDumpsCreated()
	m.logger.Info("snapshot created", "hash", hash.Short(), "size", d.Size)
	return d, nil
}

// ReleaseSnapshot drops one reference on hash. The dump stays on disk until
// Recycle runs.
func (m *Manager) ReleaseSnapshot(hash domain.BlockHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.refs[hash]
	if !ok {
		return domain.ErrInvalidParam.WithDetails("snapshot: release of untracked dump " + hash.String())
	}
	if n == 0 {
		return domain.ErrInvalidParam.WithDetails("snapshot: release of unreferenced dump " + hash.String())
	}
	m.refs[hash] = n - 1
	return nil
}

// Recycle removes every dump whose reference count is zero and returns how
// many were removed.
func (m *Manager) Recycle(ctx context.Context) (int, error) {
	if m.cfg.ReadOnly {
		return 0, domain.ErrNotSupported.WithDetails("snapshot: read-only")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for hash, n := range m.refs {
		if n > 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			m.metrics.AddDumpsRecycled(removed)
			return removed, err
		}
		if err := m.dumps.Remove(hash); err != nil {
			m.metrics.AddDumpsRecycled(removed)
			return removed, err
		}
		delete(m.refs, hash)
		removed++
	}

	m.metrics.AddDumpsRecycled(removed)
	if removed > 0 {
		m.logger.Info("recycled dumps", "removed", removed, "remaining", len(m.refs))
	}
	return removed, nil
}

// RefCount returns the reference count of hash and whether it is tracked.
func (m *Manager) RefCount(hash domain.BlockHash) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.refs[hash]
	return n, ok
}

// HasSnapshot reports whether a dump for hash is tracked.
func (m *Manager) HasSnapshot(hash domain.BlockHash) bool {
	_, ok := m.RefCount(hash)
	return ok
}

// Dumps lists tracked dumps sorted by hash.
func (m *Manager) Dumps() ([]DumpInfo, error) {
	m.mu.Lock()
	hashes := make([]domain.BlockHash, 0, len(m.refs))
	counts := make(map[domain.BlockHash]int, len(m.refs))
	for h, n := range m.refs {
		hashes = append(hashes, h)
		counts[h] = n
	}
	m.mu.Unlock()

	sort.Slice(hashes, func(i, j int) bool { return hashes[i].String() < hashes[j].String() })
	out := make([]DumpInfo, 0, len(hashes))
	for _, h := range hashes {
		d, err := m.dumps.Get(h)
		if err != nil {
			if errors.Is(err, domain.ErrDumpNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, DumpInfo{Dump: d, Refs: counts[h]})
	}
	return out, nil
}

// RedoLog returns the stored redo log of hash.
func (m *Manager) RedoLog(hash domain.BlockHash) (*redo.Log, error) {
	return m.logs.Get(hash)
}

// RawRedoLog returns the encoded redo log of hash.
func (m *Manager) RawRedoLog(hash domain.BlockHash) ([]byte, error) {
	return m.logs.GetRaw(hash)
}

// HasRedoLog reports whether a redo log is stored for hash.
func (m *Manager) HasRedoLog(hash domain.BlockHash) bool {
	return m.logs.Has(hash)
}

// AddRedoLog stores a finished log for hash.
func (m *Manager) AddRedoLog(hash domain.BlockHash, l *redo.Log) error {
	if err := m.logs.Put(hash, l); err != nil {
		return err
	}
	m.metrics.IncRedoLogsAdded()
	return nil
}

// AddRawRedoLog stores an encoded log for hash after validating it.
func (m *Manager) AddRawRedoLog(hash domain.BlockHash, data []byte) error {
	if err := m.logs.PutRaw(hash, data); err != nil {
		return err
	}
	m.metrics.IncRedoLogsAdded()
	return nil
}

// RedoLogs lists the hashes with a stored redo log.
func (m *Manager) RedoLogs() ([]domain.BlockHash, error) {
	return m.logs.List()
}

// MetricStats implements metric.StatsSource.
func (m *Manager) MetricStats() metric.Stats {
	m.mu.Lock()
	s := metric.Stats{Dumps: len(m.refs)}
	for _, n := range m.refs {
		if n > 0 {
			s.PinnedDumps++
			s.References += n
		}
	}
	m.mu.Unlock()

	if count, size, err := m.logs.Stats(); err == nil {
		s.RedoLogs = count
		s.RedoLogBytes = size
	}
	return s
}
