package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/redo"
	"github.com/yndnr/chainstate-go/internal/storage/state"
	"github.com/yndnr/chainstate-go/internal/storage/state/boltstate"
	"github.com/yndnr/chainstate-go/internal/telemetry/metric"
)

type memHeaders struct {
	mu      sync.Mutex
	headers map[domain.BlockHash]domain.Header
}

func newMemHeaders() *memHeaders {
	return &memHeaders{headers: make(map[domain.BlockHash]domain.Header)}
}

func (h *memHeaders) put(hdr domain.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.headers[hdr.Hash] = hdr
}

func (h *memHeaders) GetHeader(_ context.Context, hash domain.BlockHash) (domain.Header, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hdr, ok := h.headers[hash]
	if !ok {
		return domain.Header{}, domain.ErrHeaderNotFound.WithDetails(hash.String())
	}
	return hdr, nil
}

func blockHash(name string) domain.BlockHash {
	var h domain.BlockHash
	copy(h[:], name)
	return h
}

// fixture builds chains on a bolt-backed manager.
type fixture struct {
	t       *testing.T
	root    string
	headers *memHeaders
	metrics *metric.Registry
	m       *Manager
	digests map[domain.BlockHash][]byte
	work    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		root:    t.TempDir(),
		headers: newMemHeaders(),
		metrics: metric.NewRegistry(),
		digests: make(map[domain.BlockHash][]byte),
	}
	f.m = f.open(false)
	return f
}

func (f *fixture) open(readOnly bool) *Manager {
	f.t.Helper()
	m, err := NewManager(Config{
		Root:     f.root,
		ReadOnly: readOnly,
		Factory:  boltstate.New,
		Headers:  f.headers,
		Metrics:  f.metrics,
	})
	if err != nil {
		f.t.Fatalf("NewManager: %v", err)
	}
	return m
}

func (f *fixture) workPath() string {
	f.work++
	dir := filepath.Join(f.root, "work")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		f.t.Fatalf("MkdirAll: %v", err)
	}
	return filepath.Join(dir, fmt.Sprintf("w%d", f.work))
}

func (f *fixture) genesis(hash domain.BlockHash) {
	f.t.Helper()
	s, err := boltstate.New(f.workPath(), state.Options{})
	if err != nil {
		f.t.Fatalf("New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		f.t.Fatalf("Init: %v", err)
	}
	defer s.Remove()

	db, _ := s.Database("accounts")
	if err := db.Set("genesis", []byte("1000")); err != nil {
		f.t.Fatalf("Set: %v", err)
	}
	f.record(s, hash)
	if _, err := f.m.CreateSnapshot(context.Background(), s, hash); err != nil {
		f.t.Fatalf("CreateSnapshot(genesis): %v", err)
	}
	f.headers.put(domain.Header{Hash: hash})
}

// extend builds block hash on top of parent's dump and records its digest.
func (f *fixture) extend(parent, hash domain.BlockHash, number uint64, mutate func(db state.Database) error) {
	f.t.Helper()
	ctx := context.Background()

	d, err := f.m.GetSnapshot(ctx, parent)
	if err != nil {
		f.t.Fatalf("GetSnapshot(parent): %v", err)
	}
	work := f.workPath()
	if err := f.m.DumpManager().CopyTo(d.Hash, work); err != nil {
		f.t.Fatalf("CopyTo: %v", err)
	}
	if err := f.m.ReleaseSnapshot(parent); err != nil {
		f.t.Fatalf("ReleaseSnapshot(parent): %v", err)
	}

	inner, err := boltstate.New(work, state.Options{})
	if err != nil {
		f.t.Fatalf("New: %v", err)
	}
	if err := inner.Init(ctx); err != nil {
		f.t.Fatalf("Init: %v", err)
	}
	defer inner.Remove()

	log := redo.NewLog()
	s := state.AttachLogger(inner, log)
	if err := s.Begin(); err != nil {
		f.t.Fatalf("Begin: %v", err)
	}
	db, err := s.Database("accounts")
	if err != nil {
		f.t.Fatalf("Database: %v", err)
	}
	if err := mutate(db); err != nil {
		f.t.Fatalf("mutate: %v", err)
	}
	if err := s.Commit(); err != nil {
		f.t.Fatalf("Commit: %v", err)
	}
	log.Finish()

	f.record(s, hash)
	if _, err := f.m.CreateSnapshot(ctx, s, hash); err != nil {
		f.t.Fatalf("CreateSnapshot: %v", err)
	}
	f.headers.put(domain.Header{Hash: hash, PreBlockHash: parent, Number: number})
}

func (f *fixture) record(s state.Storage, hash domain.BlockHash) {
	f.t.Helper()
	digest, err := s.Digest()
	if err != nil {
		f.t.Fatalf("Digest: %v", err)
	}
	f.digests[hash] = digest
}

// dumpDigest opens hash's dump read-only and digests it.
func (f *fixture) dumpDigest(m *Manager, hash domain.BlockHash) []byte {
	f.t.Helper()
	s, err := boltstate.New(m.DumpManager().Path(hash), state.Options{ReadOnly: true})
	if err != nil {
		f.t.Fatalf("New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		f.t.Fatalf("Init(%s): %v", hash.Short(), err)
	}
	defer s.Uninit()
	digest, err := s.Digest()
	if err != nil {
		f.t.Fatalf("Digest: %v", err)
	}
	return digest
}

func setBalance(key, value string) func(db state.Database) error {
	return func(db state.Database) error {
		return db.Set(key, []byte(value))
	}
}

var (
	hashG = blockHash("G")
	hashA = blockHash("A")
	hashB = blockHash("B")
	hashC = blockHash("C")
)

// buildChain creates G -> A -> B -> C, each with a dump and redo log.
func buildChain(f *fixture) {
	f.genesis(hashG)
	f.extend(hashG, hashA, 1, setBalance("alice", "100"))
	f.extend(hashA, hashB, 2, func(db state.Database) error {
		if _, err := db.RPush("history", []byte("b1"), []byte("b2")); err != nil {
			return err
		}
		return db.HSet("meta", "height", []byte("2"))
	})
	f.extend(hashB, hashC, 3, func(db state.Database) error {
		if err := db.Del("alice"); err != nil {
			return err
		}
		_, err := db.LPush("history", []byte("c1"))
		return err
	})
}

func TestNewManager_RequiresFields(t *testing.T) {
	headers := newMemHeaders()
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no root", Config{Factory: boltstate.New, Headers: headers}},
		{"no factory", Config{Root: t.TempDir(), Headers: headers}},
		{"no headers", Config{Root: t.TempDir(), Factory: boltstate.New}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.cfg); err == nil {
				t.Fatal("NewManager() error = nil, want error")
			}
		})
	}
}

func TestCreateSnapshot_RefsStartAtZero(t *testing.T) {
	f := newFixture(t)
	buildChain(f)

	for _, h := range []domain.BlockHash{hashG, hashA, hashB, hashC} {
		n, ok := f.m.RefCount(h)
		if !ok || n != 0 {
			t.Errorf("RefCount(%s) = %d, %v, want 0, true", h.Short(), n, ok)
		}
	}
	for _, h := range []domain.BlockHash{hashA, hashB, hashC} {
		if !f.m.HasRedoLog(h) {
			t.Errorf("HasRedoLog(%s) = false, want true", h.Short())
		}
	}
	if f.m.HasRedoLog(hashG) {
		t.Error("genesis was created without a logger and must have no redo log")
	}
}

func TestCreateSnapshot_UnfinishedLog(t *testing.T) {
	f := newFixture(t)
	inner, err := boltstate.New(f.workPath(), state.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := inner.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer inner.Remove()

	s := state.AttachLogger(inner, redo.NewLog())
	_, err = f.m.CreateSnapshot(context.Background(), s, hashA)
	if !errors.Is(err, domain.ErrInvalidParam) {
		t.Fatalf("CreateSnapshot() error = %v, want ErrInvalidParam", err)
	}
	if f.m.HasSnapshot(hashA) {
		t.Error("dump registered despite error")
	}
}

func TestGetSnapshot_FastPath(t *testing.T) {
	f := newFixture(t)
	buildChain(f)

	for i := 0; i < 3; i++ {
		if _, err := f.m.GetSnapshot(context.Background(), hashB); err != nil {
			t.Fatalf("GetSnapshot: %v", err)
		}
	}
	if n, _ := f.m.RefCount(hashB); n != 3 {
		t.Fatalf("RefCount = %d, want 3", n)
	}
}

// Chain G->A->B->C where only G and A keep their dumps. C is rebuilt from A.
func TestGetSnapshot_NearestAncestor(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	ctx := context.Background()

	for _, h := range []domain.BlockHash{hashG, hashA} {
		if _, err := f.m.GetSnapshot(ctx, h); err != nil {
			t.Fatalf("GetSnapshot(%s): %v", h.Short(), err)
		}
	}
	removed, err := f.m.Recycle(ctx)
	if err != nil {
		t.Fatalf("Recycle: %v", err)
	}
	if removed != 2 {
		t.Fatalf("Recycle removed %d, want 2", removed)
	}

	base, path, err := f.m.findBase(ctx, hashC)
	if err != nil {
		t.Fatalf("findBase: %v", err)
	}
	f.m.unpin(base)
	if base != hashA {
		t.Fatalf("base = %s, want %s", base.Short(), hashA.Short())
	}
	if len(path) != 2 || path[0] != hashB || path[1] != hashC {
		t.Fatalf("path = %v, want [B C]", path)
	}

	d, err := f.m.GetSnapshot(ctx, hashC)
	if err != nil {
		t.Fatalf("GetSnapshot(C): %v", err)
	}
	if !d.Exists() {
		t.Fatal("rebuilt dump missing on disk")
	}
	if got := f.dumpDigest(f.m, hashC); string(got) != string(f.digests[hashC]) {
		t.Fatalf("digest mismatch for C: %x != %x", got, f.digests[hashC])
	}
	if n, _ := f.m.RefCount(hashC); n != 1 {
		t.Fatalf("RefCount(C) = %d, want 1", n)
	}
	if f.m.HasSnapshot(hashB) {
		t.Error("intermediate block B must not get a dump")
	}
	if n, _ := f.m.RefCount(hashA); n != 1 {
		t.Errorf("RefCount(A) = %d, want 1 after rebuild", n)
	}
}

func TestGetSnapshot_UnknownHeader(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	unknown := blockHash("X")

	_, err := f.m.GetSnapshot(context.Background(), unknown)
	if !errors.Is(err, domain.ErrInvalidChain) {
		t.Fatalf("GetSnapshot() error = %v, want ErrInvalidChain", err)
	}
	if !errors.Is(err, domain.ErrHeaderNotFound) {
		t.Errorf("error %v does not wrap ErrHeaderNotFound", err)
	}
	if _, err := os.Stat(f.m.DumpManager().Path(unknown)); !os.IsNotExist(err) {
		t.Errorf("dump file for unknown block exists: %v", err)
	}
	assertScratchEmpty(t, f.m)
}

func TestGetSnapshot_MissingRedoLog(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	hashD := blockHash("D")
	f.headers.put(domain.Header{Hash: hashD, PreBlockHash: hashC, Number: 4})

	_, err := f.m.GetSnapshot(context.Background(), hashD)
	if !errors.Is(err, domain.ErrRedoLogNotFound) {
		t.Fatalf("GetSnapshot() error = %v, want ErrRedoLogNotFound", err)
	}
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("kind = %v, want NotFound", domain.KindOf(err))
	}
	if f.m.HasSnapshot(hashD) {
		t.Error("failed rebuild registered a dump")
	}
	if n, _ := f.m.RefCount(hashC); n != 0 {
		t.Errorf("base left pinned: RefCount(C) = %d", n)
	}
	assertScratchEmpty(t, f.m)
}

func TestGetSnapshot_NoDumpOnPath(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	if _, err := f.m.Recycle(context.Background()); err != nil {
		t.Fatalf("Recycle: %v", err)
	}

	_, err := f.m.GetSnapshot(context.Background(), hashC)
	if !errors.Is(err, domain.ErrInvalidChain) {
		t.Fatalf("GetSnapshot() error = %v, want ErrInvalidChain", err)
	}
}

func TestGetSnapshot_Concurrent(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	ctx := context.Background()
	if _, err := f.m.GetSnapshot(ctx, hashA); err != nil {
		t.Fatalf("GetSnapshot(A): %v", err)
	}
	if _, err := f.m.Recycle(ctx); err != nil {
		t.Fatalf("Recycle: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.GetSnapshot(ctx, hashC)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("GetSnapshot: %v", err)
		}
	}

	if n, _ := f.m.RefCount(hashC); n != workers {
		t.Fatalf("RefCount(C) = %d, want %d", n, workers)
	}
	if got := f.dumpDigest(f.m, hashC); string(got) != string(f.digests[hashC]) {
		t.Fatal("digest mismatch after concurrent rebuild")
	}
	assertScratchEmpty(t, f.m)
}

func TestReleaseSnapshot(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	ctx := context.Background()

	if err := f.m.ReleaseSnapshot(blockHash("nope")); !errors.Is(err, domain.ErrInvalidParam) {
		t.Errorf("release untracked = %v, want ErrInvalidParam", err)
	}
	if err := f.m.ReleaseSnapshot(hashA); !errors.Is(err, domain.ErrInvalidParam) {
		t.Errorf("release at zero = %v, want ErrInvalidParam", err)
	}

	d, err := f.m.GetSnapshot(ctx, hashA)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if err := f.m.ReleaseSnapshot(hashA); err != nil {
		t.Fatalf("ReleaseSnapshot: %v", err)
	}
	if !d.Exists() {
		t.Fatal("release deleted the dump")
	}
}

func TestRecycle_Safety(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	ctx := context.Background()

	pinned := []domain.BlockHash{hashG, hashB}
	for _, h := range pinned {
		if _, err := f.m.GetSnapshot(ctx, h); err != nil {
			t.Fatalf("GetSnapshot(%s): %v", h.Short(), err)
		}
	}
	if _, err := f.m.Recycle(ctx); err != nil {
		t.Fatalf("Recycle: %v", err)
	}

	for _, h := range []domain.BlockHash{hashA, hashC} {
		if _, err := os.Stat(f.m.DumpManager().Path(h)); !os.IsNotExist(err) {
			t.Errorf("dump %s survived recycle", h.Short())
		}
	}
	for _, h := range pinned {
		if _, err := os.Stat(f.m.DumpManager().Path(h)); err != nil {
			t.Errorf("pinned dump %s removed: %v", h.Short(), err)
		}
	}

	for _, h := range []domain.BlockHash{hashA, hashC} {
		if _, err := f.m.GetSnapshot(ctx, h); err != nil {
			t.Fatalf("GetSnapshot(%s) after recycle: %v", h.Short(), err)
		}
		if got := f.dumpDigest(f.m, h); string(got) != string(f.digests[h]) {
			t.Errorf("digest of rebuilt %s differs", h.Short())
		}
	}
}

func TestReconstruction_Deterministic(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	ctx := context.Background()
	if _, err := f.m.GetSnapshot(ctx, hashG); err != nil {
		t.Fatalf("GetSnapshot(G): %v", err)
	}

	var first []byte
	for i := 0; i < 2; i++ {
		if _, err := f.m.Recycle(ctx); err != nil {
			t.Fatalf("Recycle: %v", err)
		}
		if _, err := f.m.GetSnapshot(ctx, hashC); err != nil {
			t.Fatalf("GetSnapshot(C): %v", err)
		}
		got := f.dumpDigest(f.m, hashC)
		if first == nil {
			first = got
		} else if string(first) != string(got) {
			t.Fatal("two rebuilds of C disagree")
		}
		if err := f.m.ReleaseSnapshot(hashC); err != nil {
			t.Fatalf("ReleaseSnapshot: %v", err)
		}
	}
}

func TestReopen_IndexesExistingDumps(t *testing.T) {
	f := newFixture(t)
	buildChain(f)

	scratch := filepath.Join(f.root, DumpDir, ".tmp", "leftover")
	if err := os.WriteFile(scratch, []byte("partial"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := f.open(false)
	dumps, err := m.Dumps()
	if err != nil {
		t.Fatalf("Dumps: %v", err)
	}
	if len(dumps) != 4 {
		t.Fatalf("len(Dumps()) = %d, want 4", len(dumps))
	}
	for _, d := range dumps {
		if d.Refs != 0 {
			t.Errorf("Refs(%s) = %d, want 0", d.Hash.Short(), d.Refs)
		}
	}
	assertScratchEmpty(t, m)
}

func TestReadOnly(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	ctx := context.Background()
	if _, err := f.m.GetSnapshot(ctx, hashA); err != nil {
		t.Fatalf("GetSnapshot(A): %v", err)
	}
	if _, err := f.m.Recycle(ctx); err != nil {
		t.Fatalf("Recycle: %v", err)
	}

	ro := f.open(true)
	if _, err := ro.GetSnapshot(ctx, hashA); err != nil {
		t.Fatalf("GetSnapshot(existing) in read-only: %v", err)
	}
	if _, err := ro.GetSnapshot(ctx, hashC); !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("GetSnapshot(missing) = %v, want ErrNotSupported", err)
	}
	if _, err := ro.Recycle(ctx); !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("Recycle() = %v, want ErrNotSupported", err)
	}
	if err := ro.AddRawRedoLog(hashC, nil); !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("AddRawRedoLog() = %v, want ErrNotSupported", err)
	}
}

func TestRedoLogPassThrough(t *testing.T) {
	f := newFixture(t)
	buildChain(f)

	l, err := f.m.RedoLog(hashB)
	if err != nil {
		t.Fatalf("RedoLog: %v", err)
	}
	if !l.Finished() || l.Len() == 0 {
		t.Fatalf("RedoLog(B) finished=%v len=%d", l.Finished(), l.Len())
	}
	raw, err := f.m.RawRedoLog(hashB)
	if err != nil {
		t.Fatalf("RawRedoLog: %v", err)
	}

	other := blockHash("copy")
	if err := f.m.AddRawRedoLog(other, raw); err != nil {
		t.Fatalf("AddRawRedoLog: %v", err)
	}
	if !f.m.HasRedoLog(other) {
		t.Fatal("HasRedoLog = false after AddRawRedoLog")
	}
	if _, err := f.m.RedoLog(blockHash("none")); !errors.Is(err, domain.ErrRedoLogNotFound) {
		t.Fatalf("RedoLog(missing) = %v, want ErrRedoLogNotFound", err)
	}

	hashes, err := f.m.RedoLogs()
	if err != nil {
		t.Fatalf("RedoLogs: %v", err)
	}
	if len(hashes) != 4 {
		t.Fatalf("len(RedoLogs()) = %d, want 4", len(hashes))
	}
}

func TestMetricStats(t *testing.T) {
	f := newFixture(t)
	buildChain(f)
	if _, err := f.m.GetSnapshot(context.Background(), hashA); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if _, err := f.m.GetSnapshot(context.Background(), hashA); err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}

	s := f.m.MetricStats()
	if s.Dumps != 4 || s.PinnedDumps != 1 || s.References != 2 || s.RedoLogs != 3 {
		t.Fatalf("MetricStats() = %+v", s)
	}
	if s.RedoLogBytes <= 0 {
		t.Errorf("RedoLogBytes = %d, want > 0", s.RedoLogBytes)
	}
}

func assertScratchEmpty(t *testing.T, m *Manager) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(m.DumpManager().Dir(), ".tmp"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch dir has %d leftover files", len(entries))
	}
}
