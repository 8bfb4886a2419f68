package tests

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/yndnr/chainstate-go/internal/chain"
	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage"
	"github.com/yndnr/chainstate-go/internal/storage/kv"
	"github.com/yndnr/chainstate-go/internal/storage/state/boltstate"
	"github.com/yndnr/chainstate-go/internal/telemetry/metric"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// node is one chainstate instance: a bolt-backed storage manager and a
// leveldb header index under the same directory.
type node struct {
	dir     string
	headers *chain.Store
	mgr     *storage.Manager
	metrics *metric.Registry
}

func openNode(t *testing.T, dir string, readOnly bool) *node {
	t.Helper()

	chainCfg := chain.DefaultConfig(filepath.Join(dir, "headers"))
	chainCfg.KV.Engine = kv.EngineLevelDB
	chainCfg.Logger = quiet
	headers, err := chain.Open(chainCfg)
	if err != nil {
		t.Fatalf("chain.Open: %v", err)
	}

	n := &node{dir: dir, headers: headers, metrics: metric.NewRegistry()}
	cfg := storage.DefaultConfig(filepath.Join(dir, "state"))
	cfg.Engine = boltstate.Engine
	cfg.ReadOnly = readOnly
	cfg.Headers = headers
	cfg.RecycleInterval = 0
	cfg.Logger = quiet
	cfg.Metrics = n.metrics
	n.mgr, err = storage.New(cfg)
	if err != nil {
		headers.Close()
		t.Fatalf("storage.New: %v", err)
	}
	return n
}

func (n *node) close(t *testing.T) {
	t.Helper()
	if err := n.mgr.Close(); err != nil {
		t.Errorf("storage Close: %v", err)
	}
	if err := n.headers.Close(); err != nil {
		t.Errorf("headers Close: %v", err)
	}
}

func blockHash(name string) domain.BlockHash {
	var h domain.BlockHash
	copy(h[:], name)
	return h
}

// block describes the mutations of one block.
type block struct {
	hash   domain.BlockHash
	parent domain.BlockHash
	number uint64
	apply  func(t *testing.T, db dbWriter)
}

// dbWriter is the part of state.Database the scenarios use.
type dbWriter interface {
	Set(key string, value []byte) error
	Del(key string) error
	HSet(key, field string, value []byte) error
	RPush(key string, values ...[]byte) (int64, error)
}

// commit builds b on top of its parent, records its header and stores its
// dump. It returns the digest of the committed state.
func (n *node) commit(t *testing.T, b block) []byte {
	t.Helper()
	ctx := context.Background()

	var opts []storage.CreateOption
	if !b.parent.IsZero() {
		opts = append(opts, storage.FromBlock(b.parent))
	}
	s, err := n.mgr.CreateStorage(ctx, "block-"+b.hash.Short(), opts...)
	if err != nil {
		t.Fatalf("CreateStorage(%s): %v", b.hash.Short(), err)
	}
	if err := s.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	db, err := s.Database("accounts")
	if err != nil {
		t.Fatalf("Database: %v", err)
	}
	b.apply(t, db)
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	digest, err := s.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	if err := n.headers.PutHeader(ctx, domain.Header{Hash: b.hash, PreBlockHash: b.parent, Number: b.number}); err != nil {
		t.Fatalf("PutHeader: %v", err)
	}
	if _, err := n.mgr.CreateSnapshot(ctx, s, b.hash, true); err != nil {
		t.Fatalf("CreateSnapshot(%s): %v", b.hash.Short(), err)
	}
	return digest
}

// digestOf opens a view of hash, digests it and releases it.
func (n *node) digestOf(t *testing.T, hash domain.BlockHash) []byte {
	t.Helper()
	v, err := n.mgr.GetSnapshotView(context.Background(), hash)
	if err != nil {
		t.Fatalf("GetSnapshotView(%s): %v", hash.Short(), err)
	}
	defer n.mgr.ReleaseSnapshotView(hash)
	d, err := v.Digest()
	if err != nil {
		t.Fatalf("Digest(%s): %v", hash.Short(), err)
	}
	return d
}

// chainOf returns a linear chain G, B1..Bn where every block touches
// strings, hashes and lists.
func chainOf(n int) []block {
	blocks := []block{{
		hash:  blockHash("G"),
		apply: func(t *testing.T, db dbWriter) { mustSet(t, db, "supply", "1000000") },
	}}
	for i := 1; i <= n; i++ {
		i := i
		blocks = append(blocks, block{
			hash:   blockHash(fmt.Sprintf("B%d", i)),
			parent: blocks[i-1].hash,
			number: uint64(i),
			apply: func(t *testing.T, db dbWriter) {
				mustSet(t, db, fmt.Sprintf("acct-%d", i), fmt.Sprintf("%d", i*10))
				if err := db.HSet("nonces", fmt.Sprintf("acct-%d", i), []byte{byte(i)}); err != nil {
					t.Fatalf("HSet: %v", err)
				}
				if _, err := db.RPush("blocks", []byte(fmt.Sprintf("B%d", i))); err != nil {
					t.Fatalf("RPush: %v", err)
				}
				if i > 2 {
					if err := db.Del(fmt.Sprintf("acct-%d", i-2)); err != nil {
						t.Fatalf("Del: %v", err)
					}
				}
			},
		})
	}
	return blocks
}

func mustSet(t *testing.T, db dbWriter, key, value string) {
	t.Helper()
	if err := db.Set(key, []byte(value)); err != nil {
		t.Fatalf("Set(%s): %v", key, err)
	}
}
