// Package benchmark provides performance benchmarks for chainstate.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Run only reconstruction at longer chain lengths:
//
//	go test -bench=BenchmarkReconstruct -benchmem -benchtime=10x ./internal/tests/benchmark/...
//
// Compare results:
//
//	benchstat old.txt new.txt
package benchmark
