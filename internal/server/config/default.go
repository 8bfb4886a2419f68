package config

import (
	"time"

	"github.com/yndnr/chainstate-go/internal/storage"
	"github.com/yndnr/chainstate-go/internal/storage/kv"
	"github.com/yndnr/chainstate-go/internal/storage/state/boltstate"
	"github.com/yndnr/chainstate-go/internal/telemetry/tracer"
)

// Default configuration values.
const (
	DefaultHTTPAddr      = "127.0.0.1:5090"
	DefaultHTTPRateLimit = 200

	DefaultRoot            = "/var/lib/chainstate"
	DefaultEngine          = boltstate.Engine
	DefaultRecycleInterval = storage.DefaultRecycleInterval
	DefaultBoltTimeout     = 5 * time.Second

	DefaultHeadersEngine    = kv.EngineBadger
	DefaultHeadersDirName   = "headers"
	DefaultHeadersCacheSize = 4096

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	badger := kv.DefaultBadgerConfig()
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:           DefaultHTTPAddr,
				RateLimit:      DefaultHTTPRateLimit,
				AdminAllowList: []string{"127.0.0.1", "::1"},
			},
		},
		Storage: StorageSection{
			Root:            DefaultRoot,
			Engine:          DefaultEngine,
			RecordRedo:      true,
			RecycleInterval: DefaultRecycleInterval,
			BoltTimeout:     DefaultBoltTimeout,
		},
		Headers: HeadersSection{
			Engine:    DefaultHeadersEngine,
			CacheSize: DefaultHeadersCacheSize,
			Badger: BadgerSection{
				GCInterval:  badger.GCInterval,
				GCThreshold: badger.GCThreshold,
				SyncWrites:  badger.SyncWrites,
			},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Telemetry: TelemetrySection{
			ServiceName: tracer.DefaultServiceName,
		},
	}
}
