package config

import "time"

// ServerConfig is the root configuration for chainstate.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	Headers   HeadersSection   `koanf:"headers"`
	Log       LogSection       `koanf:"log"`
	Telemetry TelemetrySection `koanf:"telemetry"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `koanf:"addr"`

	// RateLimit is the per-IP limit in requests per second. Zero disables it.
	RateLimit int `koanf:"rate_limit"`

	// AdminAllowList restricts mutating routes to these IPs and CIDR blocks.
	AdminAllowList []string `koanf:"admin_allow_list"`

	// TrustedProxies are the reverse proxies, as IPs or CIDR blocks, whose
	// X-Forwarded-For and X-Real-IP headers are believed. Requests from any
	// other peer are attributed to the peer address.
	TrustedProxies []string `koanf:"trusted_proxies"`

	TLS TLSConfig `koanf:"tls"`
}

// TLSConfig enables HTTPS when CertFile and KeyFile are set. The key pair
// is reloaded when its files change.
type TLSConfig struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`

	// ClientCAFile requires clients to present a certificate signed by one
	// of its CAs.
	ClientCAFile string `koanf:"client_ca_file"`
}

// Enabled reports whether HTTPS is configured.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != ""
}

// StorageSection configures the snapshot storage.
type StorageSection struct {
	// Root holds the dump, log and scratch directories.
	Root string `koanf:"root"`

	// ReadOnly opens existing dumps without reconstruction or writes.
	ReadOnly bool `koanf:"read_only"`

	// Engine is the state storage engine ("bolt" or "memory").
	Engine string `koanf:"engine"`

	// RecordRedo attaches a redo log to scratch storages.
	RecordRedo bool `koanf:"record_redo"`

	// RecycleInterval is the period of the background recycler. Zero
	// disables it.
	RecycleInterval time.Duration `koanf:"recycle_interval"`

	// BoltTimeout bounds file lock waits of the bolt engine.
	BoltTimeout time.Duration `koanf:"bolt_timeout"`
}

// HeadersSection configures the block header index.
type HeadersSection struct {
	// Engine is the KV engine ("badger" or "leveldb").
	Engine string `koanf:"engine"`

	// Dir defaults to <storage.root>/headers.
	Dir string `koanf:"dir"`

	// InMemory keeps headers in memory only.
	InMemory bool `koanf:"in_memory"`

	// CacheSize is the number of headers cached in memory.
	CacheSize int `koanf:"cache_size"`

	Badger BadgerSection `koanf:"badger"`
}

// BadgerSection tunes the badger header engine.
type BadgerSection struct {
	GCInterval  string  `koanf:"gc_interval"`
	GCThreshold float64 `koanf:"gc_threshold"`
	SyncWrites  bool    `koanf:"sync_writes"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetrySection configures tracing.
type TelemetrySection struct {
	ServiceName string `koanf:"service_name"`
}
