package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Defaults for Watcher.
const (
	DefaultDebounce      = 500 * time.Millisecond
	DefaultExpiryWarning = 30 * 24 * time.Hour
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	CertFile string
	KeyFile  string

	// Debounce coalesces bursts of file events into one reload.
	Debounce time.Duration

	// ExpiryWarning logs a warning when a loaded certificate expires
	// within this window. Zero disables the check.
	ExpiryWarning time.Duration

	Logger *slog.Logger
}

// Watcher holds the server key pair and reloads it when the files change.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	timerMu sync.Mutex
	timer   *time.Timer

	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads the key pair once. Call Start to follow file changes.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("tlsroots: cert and key files are required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &Watcher{
		cfg:    cfg,
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := w.Reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Start watches the directories of the cert and key files. Watching the
// directories rather than the files survives editors and tools that
// replace a file by rename.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	dirs := []string{filepath.Dir(w.cfg.CertFile)}
	if d := filepath.Dir(w.cfg.KeyFile); d != dirs[0] {
		dirs = append(dirs, d)
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			fsw.Close()
			return fmt.Errorf("tlsroots: watch %s: %w", d, err)
		}
	}
	w.fsw = fsw

	go w.loop()
	w.logger.Info("certificate watcher started", "cert_file", w.cfg.CertFile, "key_file", w.cfg.KeyFile)
	return nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	certBase := filepath.Base(w.cfg.CertFile)
	keyBase := filepath.Base(w.cfg.KeyFile)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			base := filepath.Base(ev.Name)
			if base != certBase && base != keyBase {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("certificate file changed", "file", ev.Name, "op", ev.Op.String())
			w.scheduleReload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("certificate watcher error", "error", err)

		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload reloads once the files have been quiet for Debounce.
func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, func() {
		if err := w.Reload(); err != nil {
			// The previous key pair stays in use.
			w.logger.Error("certificate reload failed", "cert_file", w.cfg.CertFile, "error", err)
		}
	})
}

// Stop ends watching. It is safe to call more than once and without Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.fsw != nil {
			<-w.doneCh
			w.fsw.Close()
		}
		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()
	})
}

// Reload reads the key pair from disk and swaps it in.
func (w *Watcher) Reload() error {
	cert, err := tls.LoadX509KeyPair(w.cfg.CertFile, w.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}

	w.mu.Lock()
	w.cert = &cert
	w.mu.Unlock()

	w.logger.Info("certificate loaded",
		"cert_file", w.cfg.CertFile,
		"subject", leaf.Subject.CommonName,
		"not_after", leaf.NotAfter,
	)
	if w.cfg.ExpiryWarning > 0 && time.Until(leaf.NotAfter) < w.cfg.ExpiryWarning {
		w.logger.Warn("certificate expires soon", "cert_file", w.cfg.CertFile, "not_after", leaf.NotAfter)
	}
	return nil
}

// Certificate returns the key pair in use.
func (w *Watcher) Certificate() *tls.Certificate {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cert
}

// GetCertificate implements tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return w.Certificate(), nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate, for
// peers that present the same key pair when pulling redo logs.
func (w *Watcher) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return w.Certificate(), nil
}
