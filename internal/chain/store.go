package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/kv"
)

// DefaultCacheSize is the number of headers kept in memory.
const DefaultCacheSize = 4096

const valueSize = domain.HashSize + 8

var headerPrefix = []byte("h/")

// Config configures the header store.
type Config struct {
	KV        kv.Config
	CacheSize int
	Logger    *slog.Logger
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		KV:        kv.DefaultConfig(dir),
		CacheSize: DefaultCacheSize,
		Logger:    slog.Default(),
	}
}

// Store is a KV-backed header index.
type Store struct {
	engine kv.Engine
	cache  *lru.Cache[domain.BlockHash, domain.Header]
	logger *slog.Logger
}

// Open opens the KV engine named in cfg and wraps it.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	engine, err := kv.Open(cfg.KV, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}
	s, err := New(engine, cfg.CacheSize, cfg.Logger)
	if err != nil {
		engine.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open engine. The store owns engine after this call.
func New(engine kv.Engine, cacheSize int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[domain.BlockHash, domain.Header](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("chain: create cache: %w", err)
	}
	return &Store{engine: engine, cache: cache, logger: logger}, nil
}

// Engine returns the underlying KV engine.
func (s *Store) Engine() kv.Engine {
	return s.engine
}

func headerKey(hash domain.BlockHash) []byte {
	key := make([]byte, 0, len(headerPrefix)+domain.HashSize)
	key = append(key, headerPrefix...)
	return append(key, hash[:]...)
}

func encodeHeader(h domain.Header) []byte {
	buf := make([]byte, valueSize)
	copy(buf, h.PreBlockHash[:])
	binary.BigEndian.PutUint64(buf[domain.HashSize:], h.Number)
	return buf
}

func decodeHeader(hash domain.BlockHash, data []byte) (domain.Header, error) {
	if len(data) != valueSize {
		return domain.Header{}, domain.ErrIOFailure.
			WithDetails(fmt.Sprintf("chain: header %s has %d bytes, want %d", hash.Short(), len(data), valueSize))
	}
	h := domain.Header{Hash: hash, Number: binary.BigEndian.Uint64(data[domain.HashSize:])}
	copy(h.PreBlockHash[:], data[:domain.HashSize])
	return h, nil
}

// PutHeader stores h. A block cannot be its own parent.
func (s *Store) PutHeader(ctx context.Context, h domain.Header) error {
	if h.Hash.IsZero() {
		return domain.ErrInvalidParam.WithDetails("chain: header hash is zero")
	}
	if h.Hash == h.PreBlockHash {
		return domain.ErrInvalidParam.WithDetails("chain: header " + h.Hash.Short() + " is its own parent")
	}
	if err := s.engine.Set(ctx, headerKey(h.Hash), encodeHeader(h)); err != nil {
		return domain.IOFailure("chain: put header", err)
	}
	s.cache.Add(h.Hash, h)
	return nil
}

// GetHeader returns the header of hash or domain.ErrHeaderNotFound.
func (s *Store) GetHeader(ctx context.Context, hash domain.BlockHash) (domain.Header, error) {
	if h, ok := s.cache.Get(hash); ok {
		return h, nil
	}
	data, err := s.engine.Get(ctx, headerKey(hash))
	if err != nil {
		if errors.Is(err, kv.ErrKeyNotFound) {
			return domain.Header{}, domain.ErrHeaderNotFound.WithDetails(hash.String())
		}
		return domain.Header{}, domain.IOFailure("chain: get header", err)
	}
	h, err := decodeHeader(hash, data)
	if err != nil {
		return domain.Header{}, err
	}
	s.cache.Add(hash, h)
	return h, nil
}

// Has reports whether a header is stored for hash.
func (s *Store) Has(ctx context.Context, hash domain.BlockHash) (bool, error) {
	if s.cache.Contains(hash) {
		return true, nil
	}
	ok, err := s.engine.Has(ctx, headerKey(hash))
	if err != nil {
		return false, domain.IOFailure("chain: has header", err)
	}
	return ok, nil
}

// MaxAncestors bounds one Ancestors walk.
const MaxAncestors = 4096

// Ancestors returns up to limit headers starting at hash and following
// parent links. The walk stops early at genesis. A limit outside
// (0, MaxAncestors] means MaxAncestors. A parent link that loops back
// yields domain.ErrInvalidChain.
func (s *Store) Ancestors(ctx context.Context, hash domain.BlockHash, limit int) ([]domain.Header, error) {
	if limit <= 0 || limit > MaxAncestors {
		limit = MaxAncestors
	}
	var out []domain.Header
	seen := make(map[domain.BlockHash]struct{})
	cur := hash
	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if _, ok := seen[cur]; ok {
			s.logger.Warn("header cycle", "start", hash.Short(), "at", cur.Short())
			return out, domain.ErrInvalidChain.WithDetails("chain: header cycle at " + cur.String())
		}
		seen[cur] = struct{}{}
		h, err := s.GetHeader(ctx, cur)
		if err != nil {
			return out, err
		}
		out = append(out, h)
		if h.IsGenesis() {
			break
		}
		cur = h.PreBlockHash
	}
	return out, nil
}

// Close closes the KV engine.
func (s *Store) Close() error {
	s.cache.Purge()
	return s.engine.Close()
}
