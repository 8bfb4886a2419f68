package dump

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/state"
)

const (
	// ScratchDir holds files under construction; it is emptied on start.
	ScratchDir = ".tmp"

	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

// Config configures the dump manager.
type Config struct {
	Dir      string
	ReadOnly bool
	Logger   *slog.Logger
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:    dir,
		Logger: slog.Default(),
	}
}

// Dump describes the dump file of one block.
type Dump struct {
	Hash      domain.BlockHash `json:"hash"`
	Path      string           `json:"path"`
	Size      int64            `json:"size"`
	CreatedAt time.Time        `json:"created_at"`
}

// Exists reports whether the dump file is present on disk.
func (d *Dump) Exists() bool {
	st, err := os.Stat(d.Path)
	return err == nil && st.Mode().IsRegular()
}

// Checksum returns the hex SHA-256 of the dump file.
func (d *Dump) Checksum() (string, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return "", domain.IOFailure("dump: open", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", domain.IOFailure("dump: hash", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Manager creates, finds and deletes dump files.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a manager rooted at cfg.Dir. The directory is created
// unless the manager is read-only.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("dump: dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.ReadOnly {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, ScratchDir), DefaultDirPerm); err != nil {
			return nil, domain.IOFailure("dump: create dir", err)
		}
	}
	return &Manager{cfg: cfg, logger: cfg.Logger}, nil
}

// Dir returns the dump directory.
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Path returns the dump file path for hash.
func (m *Manager) Path(hash domain.BlockHash) string {
	return filepath.Join(m.cfg.Dir, hash.String())
}

func (m *Manager) writable() error {
	if m.cfg.ReadOnly {
		return domain.ErrNotSupported.WithDetails("dump: manager is read-only")
	}
	return nil
}

// Create copies from into the dump file for hash. An existing dump for hash
// is replaced atomically.
func (m *Manager) Create(ctx context.Context, from state.Storage, hash domain.BlockHash) (*Dump, error) {
	tempPath, err := m.Write(ctx, from)
	if err != nil {
		return nil, err
	}
	d, err := m.Adopt(tempPath, hash)
	if err != nil {
		_ = os.Remove(tempPath)
		return nil, err
	}
	return d, nil
}

// Write copies from into a new scratch file and returns its path. The caller
// either adopts the file or removes it.
func (m *Manager) Write(ctx context.Context, from state.Storage) (string, error) {
	if err := m.writable(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tempPath := m.ScratchPath()
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return "", domain.IOFailure("dump: create temp file", err)
	}
	fail := func(err error) (string, error) {
		file.Close()
		_ = os.Remove(tempPath)
		return "", err
	}

	if _, err := from.WriteTo(file); err != nil {
		return fail(domain.IOFailure("dump: write", err))
	}
	if err := file.Sync(); err != nil {
		return fail(domain.IOFailure("dump: sync", err))
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", domain.IOFailure("dump: close", err)
	}
	return tempPath, nil
}

// Adopt moves a complete file at scratchPath into place as hash's dump.
func (m *Manager) Adopt(scratchPath string, hash domain.BlockHash) (*Dump, error) {
	if err := m.writable(); err != nil {
		return nil, err
	}
	finalPath := m.Path(hash)
	if err := os.Rename(scratchPath, finalPath); err != nil {
		return nil, domain.IOFailure("dump: rename", err)
	}
	d, err := m.Get(hash)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("dump created", "hash", hash.Short(), "size", d.Size)
	return d, nil
}

// Get returns the dump for hash or ErrDumpNotFound.
func (m *Manager) Get(hash domain.BlockHash) (*Dump, error) {
	path := m.Path(hash)
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrDumpNotFound.WithDetails(hash.String())
		}
		return nil, domain.IOFailure("dump: stat", err)
	}
	return &Dump{Hash: hash, Path: path, Size: st.Size(), CreatedAt: st.ModTime()}, nil
}

// List returns every dump on disk sorted by hash. Files that are not named
// after a block hash are ignored.
func (m *Manager) List() ([]*Dump, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.IOFailure("dump: read dir", err)
	}

	var dumps []*Dump
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		hash, err := domain.ParseBlockHash(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dumps = append(dumps, &Dump{
			Hash:      hash,
			Path:      filepath.Join(m.cfg.Dir, e.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(dumps, func(i, j int) bool { return dumps[i].Hash.String() < dumps[j].Hash.String() })
	return dumps, nil
}

// Remove deletes the dump for hash. Removing a missing dump is not an error.
func (m *Manager) Remove(hash domain.BlockHash) error {
	if err := m.writable(); err != nil {
		return err
	}
	if err := os.Remove(m.Path(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.IOFailure("dump: remove", err)
	}
	m.logger.Debug("dump removed", "hash", hash.Short())
	return nil
}

// CopyTo copies hash's dump file to dst, syncing it before returning.
func (m *Manager) CopyTo(hash domain.BlockHash, dst string) error {
	src, err := os.Open(m.Path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrDumpNotFound.WithDetails(hash.String())
		}
		return domain.IOFailure("dump: open", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return domain.IOFailure("dump: create copy", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return domain.IOFailure("dump: copy", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return domain.IOFailure("dump: sync copy", err)
	}
	if err := out.Close(); err != nil {
		return domain.IOFailure("dump: close copy", err)
	}
	return nil
}

// ScratchPath returns a fresh path inside the scratch directory.
func (m *Manager) ScratchPath() string {
	return filepath.Join(m.cfg.Dir, ScratchDir, ulid.Make().String())
}

// CleanScratch removes files left in the scratch directory by a crash.
func (m *Manager) CleanScratch() error {
	if m.cfg.ReadOnly {
		return nil
	}
	dir := filepath.Join(m.cfg.Dir, ScratchDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return domain.IOFailure("dump: read scratch dir", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return domain.IOFailure("dump: clean scratch", err)
		}
	}
	if len(entries) > 0 {
		m.logger.Info("removed leftover scratch files", "count", len(entries))
	}
	return nil
}
