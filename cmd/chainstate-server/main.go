package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/yndnr/chainstate-go/internal/chain"
	"github.com/yndnr/chainstate-go/internal/infra/buildinfo"
	"github.com/yndnr/chainstate-go/internal/infra/confloader"
	"github.com/yndnr/chainstate-go/internal/infra/shutdown"
	"github.com/yndnr/chainstate-go/internal/infra/tlsroots"
	"github.com/yndnr/chainstate-go/internal/server/config"
	"github.com/yndnr/chainstate-go/internal/server/httpserver"
	"github.com/yndnr/chainstate-go/internal/storage"
	"github.com/yndnr/chainstate-go/internal/storage/kv"
	"github.com/yndnr/chainstate-go/internal/telemetry/logger"
	"github.com/yndnr/chainstate-go/internal/telemetry/metric"
	"github.com/yndnr/chainstate-go/internal/telemetry/tracer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds command line overrides. Empty values leave the configuration
// untouched.
type flags struct {
	configFile  string
	root        string
	engine      string
	addr        string
	logLevel    string
	readOnly    bool
	showVersion bool
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.configFile, "config", "", "Path to configuration file")
	flag.StringVar(&f.root, "root", "", "Storage root directory")
	flag.StringVar(&f.engine, "engine", "", "State storage engine (bolt, memory)")
	flag.StringVar(&f.addr, "addr", "", "HTTP listen address")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&f.readOnly, "read-only", false, "Serve existing dumps without reconstruction")
	flag.BoolVar(&f.showVersion, "version", false, "Show version information")
	flag.Parse()
	return f
}

// overrides turns the flags that were set into koanf keys.
func (f *flags) overrides() map[string]any {
	out := make(map[string]any)
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("storage.root", f.root)
	set("storage.engine", f.engine)
	set("server.http.addr", f.addr)
	set("log.level", f.logLevel)
	if f.readOnly {
		out["storage.read_only"] = true
	}
	return out
}

func run() error {
	f := parseFlags()
	if f.showVersion {
		fmt.Printf("chainstate-server %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	info := buildinfo.Get()
	log.Info("starting chainstate-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", f.configFile,
		"root", cfg.Storage.Root,
		"engine", cfg.Storage.Engine,
		"read_only", cfg.Storage.ReadOnly)

	metrics := metric.Global()

	headers, err := initHeaders(cfg, log, metrics)
	if err != nil {
		return fmt.Errorf("init header index: %w", err)
	}

	storageCfg, err := config.ToStorageConfig(cfg, headers, log, metrics)
	if err != nil {
		headers.Close()
		return err
	}
	mgr, err := storage.New(storageCfg)
	if err != nil {
		headers.Close()
		return fmt.Errorf("init storage: %w", err)
	}

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Backend:        mgr,
		Headers:        headers,
		Metrics:        metrics.Handler(),
		Logger:         log,
		Tracer:         storageCfg.Tracer,
		RateLimit:      cfg.Server.HTTP.RateLimit,
		AdminAllowList: cfg.Server.HTTP.AdminAllowList,
		TrustedProxies: cfg.Server.HTTP.TrustedProxies,
	})

	shutdownHandler := shutdown.NewHandler(shutdownTimeout)

	// Hooks run in reverse: HTTP first, then storage, then headers.
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing header index")
		return headers.Close()
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing storage")
		return mgr.Close()
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		return storageCfg.Tracer.Shutdown(ctx)
	})

	if cfg.Server.HTTP.Addr != "" {
		httpServer := httpserver.New(cfg.Server.HTTP.Addr, router)
		if tlsCfg := cfg.Server.HTTP.TLS; tlsCfg.Enabled() {
			certs, err := enableTLS(httpServer, tlsCfg, log)
			if err != nil {
				shutdownHandler.Shutdown()
				return fmt.Errorf("init tls: %w", err)
			}
			shutdownHandler.OnShutdown(func(context.Context) error {
				certs.Stop()
				return nil
			})
		}
		if err := httpServer.Listen(); err != nil {
			shutdownHandler.Shutdown()
			return fmt.Errorf("listen: %w", err)
		}
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("shutting down HTTP server")
			return httpServer.Shutdown(ctx)
		})
		go func() {
			log.Info("HTTP server listening", "addr", httpServer.Addr(), "tls", httpServer.TLS())
			if err := httpServer.Serve(); err != nil {
				log.Error("HTTP server error", "error", err)
			}
		}()
	}

	if f.configFile != "" {
		stop, err := watchConfig(f, log)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown(func(context.Context) error { return stop() })
		}
	}

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig layers defaults, file, environment and flags, then verifies
// the result.
// enableTLS loads the server key pair, follows changes to its files and
// switches srv to HTTPS.
func enableTLS(srv *httpserver.Server, cfg config.TLSConfig, log *slog.Logger) (*tlsroots.Watcher, error) {
	certs, err := tlsroots.NewWatcher(tlsroots.WatcherConfig{
		CertFile:      cfg.CertFile,
		KeyFile:       cfg.KeyFile,
		ExpiryWarning: tlsroots.DefaultExpiryWarning,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	tlsConfig, err := tlsroots.ServerConfig(certs, cfg.ClientCAFile)
	if err != nil {
		return nil, err
	}
	if err := certs.Start(); err != nil {
		log.Warn("certificate reload disabled", "error", err)
	}
	srv.SetTLSConfig(tlsConfig)
	return certs, nil
}

func loadConfig(f *flags) (*config.ServerConfig, error) {
	cfg := config.Default()

	loader := confloader.NewLoader()
	if err := loader.LoadFile(f.configFile); err != nil {
		return nil, err
	}
	if err := loader.LoadEnv(); err != nil {
		return nil, err
	}
	if err := loader.LoadMap(f.overrides()); err != nil {
		return nil, err
	}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger builds the process logger and installs it as the default for
// both the logger package and slog.
func initLogger(cfg *config.ServerConfig) (*slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)

	sl := logger.Slog(log)
	slog.SetDefault(sl)
	return sl, nil
}

// initHeaders opens the header index and exports badger gauges when badger
// backs it.
func initHeaders(cfg *config.ServerConfig, log *slog.Logger, metrics *metric.Registry) (*chain.Store, error) {
	chainCfg, err := config.ToChainConfig(cfg, log.With("component", "headers"))
	if err != nil {
		return nil, err
	}
	store, err := chain.Open(chainCfg)
	if err != nil {
		return nil, err
	}
	if be, ok := store.Engine().(*kv.BadgerEngine); ok {
		be.RegisterMetrics(metrics.Registerer())
	}
	return store, nil
}

// watchConfig re-reads the config file on change and applies the log
// level. Other settings need a restart.
func watchConfig(f *flags, log *slog.Logger) (func() error, error) {
	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(f.configFile); err != nil {
		watcher.Stop()
		return nil, err
	}
	watcher.OnChange(func(path string) {
		cfg, err := loadConfig(f)
		if err != nil {
			log.Warn("config reload rejected", "path", path, "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("config reloaded", "path", path, "log_level", logger.GetLevel())
	})
	watcher.StartAsync()
	return watcher.Stop, nil
}
