package benchmark

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/redo"
	"github.com/yndnr/chainstate-go/internal/storage/state"
)

// ChainLengths are the numbers of redo logs replayed per reconstruction.
var ChainLengths = []int{4, 16, 64}

// RecordCounts are the numbers of mutations per redo log.
var RecordCounts = []int{100, 1000, 10000}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// newKey returns a unique, sortable key.
func newKey() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, _ := ulid.New(ulid.Timestamp(time.Now()), entropy)
	return "acct-" + strings.ToLower(id.String())
}

func blockHash(i int) domain.BlockHash {
	var h domain.BlockHash
	copy(h[:], fmt.Sprintf("block-%08d", i))
	return h
}

// buildLog returns a finished redo log with n mutations inside one
// transaction.
func buildLog(b *testing.B, n int) *redo.Log {
	b.Helper()
	l := redo.NewLog()
	must := func(err error) {
		if err != nil {
			b.Fatalf("Append: %v", err)
		}
	}
	must(l.Append(redo.Record{Op: redo.OpBegin}))
	for i := 0; i < n; i++ {
		key := newKey()
		switch i % 3 {
		case 0:
			must(l.Append(redo.Record{Op: redo.OpSet, Database: "accounts", Key: key, Values: [][]byte{[]byte(fmt.Sprint(i))}}))
		case 1:
			must(l.Append(redo.Record{Op: redo.OpHSet, Database: "nonces", Key: "nonce", Fields: []string{key}, Values: [][]byte{{byte(i)}}}))
		default:
			must(l.Append(redo.Record{Op: redo.OpRPush, Database: "events", Key: "log", Values: [][]byte{[]byte(key)}}))
		}
	}
	must(l.Append(redo.Record{Op: redo.OpCommit}))
	l.Finish()
	return l
}

// fill writes n string keys into db "accounts" of s.
func fill(b *testing.B, s state.Storage, n int) {
	b.Helper()
	if err := s.Begin(); err != nil {
		b.Fatalf("Begin: %v", err)
	}
	db, err := s.Database("accounts")
	if err != nil {
		b.Fatalf("Database: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := db.Set(newKey(), []byte(fmt.Sprint(i))); err != nil {
			b.Fatalf("Set: %v", err)
		}
	}
	if err := s.Commit(); err != nil {
		b.Fatalf("Commit: %v", err)
	}
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

func runWithCounts(b *testing.B, label string, counts []int, fn func(b *testing.B, n int)) {
	for _, n := range counts {
		b.Run(fmt.Sprintf("%s_%d", label, n), func(b *testing.B) {
			fn(b, n)
		})
	}
}

var background = context.Background()
