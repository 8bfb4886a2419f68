package domain

import (
	"encoding/hex"
	"fmt"
)

// HashSize is the length of a block hash in bytes.
const HashSize = 32

// BlockHash identifies a block. Equality and hex form are all the storage
// layer relies on; ordering between hashes has no meaning.
type BlockHash [HashSize]byte

// ZeroHash is the parent hash of the genesis block.
var ZeroHash BlockHash

// String returns the lowercase hex encoding used for file names.
func (h BlockHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for logs.
func (h BlockHash) Short() string {
	return h.String()[:8]
}

// IsZero reports whether h is the zero hash.
func (h BlockHash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText implements encoding.TextMarshaler.
func (h BlockHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *BlockHash) UnmarshalText(text []byte) error {
	parsed, err := ParseBlockHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseBlockHash decodes a 64 character hex string.
func ParseBlockHash(s string) (BlockHash, error) {
	var h BlockHash
	if len(s) != HashSize*2 {
		return h, ErrInvalidParam.WithDetails(fmt.Sprintf("block hash must be %d hex chars, got %d", HashSize*2, len(s)))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, ErrInvalidParam.WithDetails("block hash is not hex").WithCause(err)
	}
	return h, nil
}

// BlockHashFromBytes copies b into a BlockHash.
func BlockHashFromBytes(b []byte) (BlockHash, error) {
	var h BlockHash
	if len(b) != HashSize {
		return h, ErrInvalidParam.WithDetails(fmt.Sprintf("block hash must be %d bytes, got %d", HashSize, len(b)))
	}
	copy(h[:], b)
	return h, nil
}

// Header is the part of a block header the storage layer needs: its own hash
// and the link to its parent.
type Header struct {
	Hash         BlockHash `json:"hash"`
	PreBlockHash BlockHash `json:"pre_block_hash"`
	Number       uint64    `json:"number"`
}

// IsGenesis reports whether the header has no parent.
func (h Header) IsGenesis() bool {
	return h.PreBlockHash.IsZero()
}
