package state

import (
	"encoding/binary"
	"sort"

	"lukechampine.com/blake3"
)

// DigestSize is the length of a state digest in bytes.
const DigestSize = 32

// ComputeDigest hashes every non-empty database of tx. Databases and keys
// are visited in byte order and each entry is written as
// len(db) db len(key) key len(value) value, with the canonical value
// encoding, so two engines holding the same content produce the same digest.
func ComputeDigest(tx Txn) ([]byte, error) {
	h := blake3.New(DigestSize, nil)
	var lenBuf [binary.MaxVarintLen64]byte
	write := func(b []byte) {
		n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
		_, _ = h.Write(lenBuf[:n])
		_, _ = h.Write(b)
	}

	dbs, err := tx.Databases()
	if err != nil {
		return nil, err
	}
	sort.Strings(dbs)

	for _, db := range dbs {
		keys, err := tx.Keys(db)
		if err != nil {
			return nil, err
		}
		sort.Strings(keys)
		for _, key := range keys {
			v, err := tx.Get(db, key)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			enc, err := v.MarshalBinary()
			if err != nil {
				return nil, err
			}
			write([]byte(db))
			write([]byte(key))
			write(enc)
		}
	}
	return h.Sum(nil), nil
}

// DigestOf computes the digest through a Backend's read view.
func DigestOf(b Backend) ([]byte, error) {
	var sum []byte
	err := b.View(func(tx Txn) error {
		var err error
		sum, err = ComputeDigest(tx)
		return err
	})
	return sum, err
}
