package redo

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// File layout constants.
const (
	FileExtension   = ".redo"
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750

	tempSuffix = ".tmp"
)

// StoreConfig configures the redo log store.
type StoreConfig struct {
	Dir      string
	ReadOnly bool
	Logger   *slog.Logger
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig(dir string) StoreConfig {
	return StoreConfig{
		Dir:    dir,
		Logger: slog.Default(),
	}
}

// Store keeps one encoded log per block hash. Logs are written once and
// never modified.
type Store struct {
	cfg    StoreConfig
	logger *slog.Logger
}

// NewStore creates a store rooted at cfg.Dir. The directory is created unless
// the store is read-only.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("redo: dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.ReadOnly {
		if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
			return nil, domain.IOFailure("redo: create dir", err)
		}
	}
	return &Store{cfg: cfg, logger: cfg.Logger}, nil
}

// Dir returns the directory holding the logs.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

// Path returns the file path for hash's log.
func (s *Store) Path(hash domain.BlockHash) string {
	return filepath.Join(s.cfg.Dir, hash.String()+FileExtension)
}

// Has reports whether a log exists for hash.
func (s *Store) Has(hash domain.BlockHash) bool {
	st, err := os.Stat(s.Path(hash))
	return err == nil && st.Mode().IsRegular()
}

// GetRaw returns the encoded log for hash.
func (s *Store) GetRaw(hash domain.BlockHash) ([]byte, error) {
	data, err := os.ReadFile(s.Path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrRedoLogNotFound.WithDetails(hash.String())
		}
		return nil, domain.IOFailure("redo: read log", err)
	}
	return data, nil
}

// Get loads and decodes the log for hash.
func (s *Store) Get(hash domain.BlockHash) (*Log, error) {
	data, err := s.GetRaw(hash)
	if err != nil {
		return nil, err
	}
	l, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("redo: decode %s: %w", hash.Short(), err)
	}
	return l, nil
}

// Put stores a finished log for hash. An existing log is left in place.
func (s *Store) Put(hash domain.BlockHash, l *Log) error {
	if l == nil {
		return domain.ErrInvalidParam.WithDetails("redo: log is nil")
	}
	data, err := l.Encode()
	if err != nil {
		return err
	}
	return s.PutRaw(hash, data)
}

// PutRaw validates and stores encoded log bytes, e.g. received from a peer.
func (s *Store) PutRaw(hash domain.BlockHash, data []byte) error {
	if s.cfg.ReadOnly {
		return domain.ErrNotSupported.WithDetails("redo: store is read-only")
	}
	if _, err := Decode(data); err != nil {
		return err
	}
	if s.Has(hash) {
		s.logger.Debug("redo log already stored", "hash", hash.Short())
		return nil
	}

	final := s.Path(hash)
	temp := final + "." + ulid.Make().String() + tempSuffix
	if err := writeFileSync(temp, data); err != nil {
		_ = os.Remove(temp)
		return domain.IOFailure("redo: write log", err)
	}
	if err := os.Rename(temp, final); err != nil {
		_ = os.Remove(temp)
		return domain.IOFailure("redo: rename log", err)
	}

	s.logger.Debug("redo log stored", "hash", hash.Short(), "bytes", len(data))
	return nil
}

// List returns the hashes that have a stored log, sorted by hex form.
func (s *Store) List() ([]domain.BlockHash, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.IOFailure("redo: read dir", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), FileExtension))
	}
	sort.Strings(names)

	out := make([]domain.BlockHash, 0, len(names))
	for _, name := range names {
		h, err := domain.ParseBlockHash(name)
		if err != nil {
			s.logger.Warn("ignoring foreign file in redo dir", "name", name)
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// Stats returns the number of stored logs and their total size in bytes.
func (s *Store) Stats() (count int, size int64, err error) {
	hashes, err := s.List()
	if err != nil {
		return 0, 0, err
	}
	for _, h := range hashes {
		st, err := os.Stat(s.Path(h))
		if err != nil {
			continue
		}
		count++
		size += st.Size()
	}
	return count, size, nil
}

// CleanTemp removes temp files left by an interrupted Put.
func (s *Store) CleanTemp() error {
	if s.cfg.ReadOnly {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return domain.IOFailure("redo: read dir", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tempSuffix) {
			_ = os.Remove(filepath.Join(s.cfg.Dir, e.Name()))
		}
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
