package benchmark

import (
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/yndnr/chainstate-go/internal/storage/memory"
	"github.com/yndnr/chainstate-go/internal/storage/state"
	"github.com/yndnr/chainstate-go/internal/storage/state/boltstate"
)

var engines = []struct {
	name    string
	factory state.Factory
}{
	{boltstate.Engine, boltstate.New},
	{memory.Engine, memory.New},
}

func openFilled(b *testing.B, factory state.Factory, n int) state.Storage {
	b.Helper()
	s, err := factory(filepath.Join(b.TempDir(), "bench.state"), state.Options{Logger: quiet})
	if err != nil {
		b.Fatalf("factory: %v", err)
	}
	if err := s.Init(background); err != nil {
		b.Fatalf("Init: %v", err)
	}
	b.Cleanup(func() { _ = s.Remove() })
	fill(b, s, n)
	return s
}

// BenchmarkDigest benchmarks the content hash over a populated storage.
func BenchmarkDigest(b *testing.B) {
	for _, e := range engines {
		runWithCounts(b, e.name+"/keys", RecordCounts, func(b *testing.B, n int) {
			s := openFilled(b, e.factory, n)
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := s.Digest(); err != nil {
					b.Fatalf("Digest: %v", err)
				}
			}
		})
	}
}

// BenchmarkWriteTo benchmarks copying a storage, the step behind every dump.
func BenchmarkWriteTo(b *testing.B) {
	for _, e := range engines {
		runWithCounts(b, e.name+"/keys", RecordCounts, func(b *testing.B, n int) {
			s := openFilled(b, e.factory, n)
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				written, err := s.WriteTo(io.Discard)
				if err != nil {
					b.Fatalf("WriteTo: %v", err)
				}
				b.SetBytes(written)
			}
		})
	}
}

// BenchmarkCommit benchmarks one transaction of 100 sets.
func BenchmarkCommit(b *testing.B) {
	for _, e := range engines {
		b.Run(e.name, func(b *testing.B) {
			s := openFilled(b, e.factory, 0)
			db, err := s.Database("accounts")
			if err != nil {
				b.Fatalf("Database: %v", err)
			}
			b.ResetTimer()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := s.Begin(); err != nil {
					b.Fatalf("Begin: %v", err)
				}
				for j := 0; j < 100; j++ {
					if err := db.Set(fmt.Sprintf("k%d", j), []byte(fmt.Sprint(i))); err != nil {
						b.Fatalf("Set: %v", err)
					}
				}
				if err := s.Commit(); err != nil {
					b.Fatalf("Commit: %v", err)
				}
			}
		})
	}
}
