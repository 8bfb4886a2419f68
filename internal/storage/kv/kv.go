package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Engine names.
const (
	EngineBadger  = "badger"
	EngineLevelDB = "leveldb"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// Engine is an embedded key-value store. Implementations are safe for
// concurrent use.
type Engine interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Has reports whether key exists.
	Has(ctx context.Context, key []byte) (bool, error)

	// Set stores a key-value pair.
	Set(ctx context.Context, key, value []byte) error

	// Delete removes a key.
	Delete(ctx context.Context, key []byte) error

	// Scan iterates over keys with a given prefix in key order.
	// Callback returns false to stop iteration.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error

	// GC reclaims space. Returns bytes reclaimed, approximately.
	GC(ctx context.Context) (uint64, error)

	// Stats returns storage statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close gracefully shuts down the engine.
	Close() error
}

// Stats contains storage engine statistics.
type Stats struct {
	// Engine is the engine name.
	Engine string

	// TotalSize is the total disk usage in bytes.
	TotalSize uint64

	// LSMSize is the LSM tree size (Badger).
	LSMSize uint64

	// ValueLogSize is the value log size (Badger).
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCBytesReclaimed is the total bytes reclaimed by GC.
	GCBytesReclaimed uint64
}

// Config configures an embedded KV engine.
type Config struct {
	// Engine specifies the engine type ("badger", "leveldb").
	// Default: "badger"
	Engine string

	// Dir is the storage directory.
	Dir string

	// InMemory keeps all data in memory; Dir is ignored.
	InMemory bool

	// Badger-specific configuration
	Badger BadgerConfig

	// LevelDB-specific configuration
	LevelDB LevelDBConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int

	// SyncWrites enables fsync after each write.
	// Default: true (headers are not rebuilt from elsewhere)
	SyncWrites bool
}

// LevelDBConfig contains goleveldb tuning parameters.
type LevelDBConfig struct {
	// BlockCacheSize is the block cache capacity in bytes.
	// Default: 8MB
	BlockCacheSize int

	// WriteBufferSize is the memtable size in bytes.
	// Default: 4MB
	WriteBufferSize int

	// NoSync disables fsync on writes.
	NoSync bool
}

// DefaultConfig returns the default KV configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Engine:  EngineBadger,
		Dir:     dir,
		Badger:  DefaultBadgerConfig(),
		LevelDB: DefaultLevelDBConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        16 << 20, // 16MB
		ValueLogFileSize: 256 << 20,
		NumMemtables:     2,
		SyncWrites:       true,
	}
}

// DefaultLevelDBConfig returns the default goleveldb configuration.
func DefaultLevelDBConfig() LevelDBConfig {
	return LevelDBConfig{
		BlockCacheSize:  8 << 20,
		WriteBufferSize: 4 << 20,
	}
}

// Open opens the engine named by cfg.Engine.
func Open(cfg Config, logger *slog.Logger) (Engine, error) {
	switch cfg.Engine {
	case "", EngineBadger:
		return NewBadgerEngine(cfg, logger)
	case EngineLevelDB:
		return NewLevelDBEngine(cfg, logger)
	default:
		return nil, fmt.Errorf("kv: unknown engine %q", cfg.Engine)
	}
}
