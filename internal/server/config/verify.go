package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/yndnr/chainstate-go/internal/storage"
	"github.com/yndnr/chainstate-go/internal/storage/kv"
	"github.com/yndnr/chainstate-go/internal/telemetry/logger"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyHeaders(&cfg.Headers); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		return fmt.Errorf("server.http.addr: %w", err)
	}
	if cfg.HTTP.RateLimit < 0 {
		return errors.New("server.http.rate_limit must not be negative")
	}
	if err := verifyNetworks("server.http.admin_allow_list", cfg.HTTP.AdminAllowList); err != nil {
		return err
	}
	if err := verifyNetworks("server.http.trusted_proxies", cfg.HTTP.TrustedProxies); err != nil {
		return err
	}
	return verifyTLS(&cfg.HTTP.TLS)
}

func verifyNetworks(key string, entries []string) error {
	for _, entry := range entries {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("%s: %q is not an IP or CIDR", key, entry)
		}
	}
	return nil
}

func verifyTLS(cfg *TLSConfig) error {
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return errors.New("server.http.tls: cert_file and key_file must be set together")
	}
	if cfg.ClientCAFile != "" && cfg.CertFile == "" {
		return errors.New("server.http.tls.client_ca_file requires cert_file and key_file")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.Root == "" {
		return errors.New("storage.root is required")
	}
	if cfg.Engine != "" && !slices.Contains(storage.Engines, cfg.Engine) {
		return fmt.Errorf("storage.engine %q is not one of %s", cfg.Engine, strings.Join(storage.Engines, ", "))
	}
	if cfg.RecycleInterval < 0 {
		return errors.New("storage.recycle_interval must not be negative")
	}
	if cfg.BoltTimeout < 0 {
		return errors.New("storage.bolt_timeout must not be negative")
	}
	return nil
}

func verifyHeaders(cfg *HeadersSection) error {
	switch cfg.Engine {
	case "", kv.EngineBadger, kv.EngineLevelDB:
	default:
		return fmt.Errorf("headers.engine %q is not one of %s, %s", cfg.Engine, kv.EngineBadger, kv.EngineLevelDB)
	}
	if cfg.CacheSize < 0 {
		return errors.New("headers.cache_size must not be negative")
	}
	if cfg.Badger.GCInterval != "" {
		if _, err := time.ParseDuration(cfg.Badger.GCInterval); err != nil {
			return fmt.Errorf("headers.badger.gc_interval: %w", err)
		}
	}
	if cfg.Badger.GCThreshold < 0 || cfg.Badger.GCThreshold > 1 {
		return errors.New("headers.badger.gc_threshold must be between 0 and 1")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text", "console":
		return nil
	default:
		return fmt.Errorf("log.format %q is not one of json, text", cfg.Format)
	}
}
