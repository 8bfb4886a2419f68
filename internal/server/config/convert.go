package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/yndnr/chainstate-go/internal/chain"
	"github.com/yndnr/chainstate-go/internal/storage"
	"github.com/yndnr/chainstate-go/internal/storage/kv"
	"github.com/yndnr/chainstate-go/internal/storage/snapshot"
	"github.com/yndnr/chainstate-go/internal/telemetry/metric"
	"github.com/yndnr/chainstate-go/internal/telemetry/tracer"
)

// HeadersDir returns the header index directory, defaulting to a
// subdirectory of the storage root.
func (c *ServerConfig) HeadersDir() string {
	if c.Headers.Dir != "" {
		return c.Headers.Dir
	}
	return filepath.Join(c.Storage.Root, DefaultHeadersDirName)
}

// ToChainConfig converts ServerConfig to chain.Config.
func ToChainConfig(cfg *ServerConfig, logger *slog.Logger) (chain.Config, error) {
	if cfg == nil {
		return chain.Config{}, fmt.Errorf("server config is nil")
	}
	kvCfg := kv.DefaultConfig(cfg.HeadersDir())
	if cfg.Headers.Engine != "" {
		kvCfg.Engine = cfg.Headers.Engine
	}
	kvCfg.InMemory = cfg.Headers.InMemory
	if cfg.Headers.Badger.GCInterval != "" {
		kvCfg.Badger.GCInterval = cfg.Headers.Badger.GCInterval
	}
	if cfg.Headers.Badger.GCThreshold > 0 {
		kvCfg.Badger.GCThreshold = cfg.Headers.Badger.GCThreshold
	}
	kvCfg.Badger.SyncWrites = cfg.Headers.Badger.SyncWrites

	return chain.Config{
		KV:        kvCfg,
		CacheSize: cfg.Headers.CacheSize,
		Logger:    logger,
	}, nil
}

// ToStorageConfig converts ServerConfig to storage.Config. headers resolves
// parent links during reconstruction.
func ToStorageConfig(cfg *ServerConfig, headers snapshot.HeaderIndex, logger *slog.Logger, metrics *metric.Registry) (storage.Config, error) {
	if cfg == nil {
		return storage.Config{}, fmt.Errorf("server config is nil")
	}
	if headers == nil {
		return storage.Config{}, fmt.Errorf("header index is nil")
	}

	out := storage.DefaultConfig(cfg.Storage.Root)
	out.ReadOnly = cfg.Storage.ReadOnly
	out.Engine = cfg.Storage.Engine
	out.BoltTimeout = cfg.Storage.BoltTimeout
	out.RecordRedo = cfg.Storage.RecordRedo
	out.RecycleInterval = cfg.Storage.RecycleInterval
	out.Headers = headers
	out.Logger = logger
	out.Metrics = metrics
	out.Tracer = tracer.New(cfg.Telemetry.ServiceName)
	return out, nil
}
