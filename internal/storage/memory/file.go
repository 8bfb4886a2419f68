package memory

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/yndnr/chainstate-go/internal/storage/state"
)

// Magic bytes identify state files.
var magicBytes = []byte("CSTATE01")

const (
	checksumSize  = 32
	headerVersion = 1
	tempSuffix    = ".tmp"
)

var (
	ErrInvalidMagic     = errors.New("memory: invalid magic bytes")
	ErrChecksumMismatch = errors.New("memory: checksum mismatch")
)

type fileHeader struct {
	Version   int    `json:"version"`
	CreatedAt int64  `json:"created_at"`
	Databases int    `json:"databases"`
	Keys      uint64 `json:"keys"`
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// encodeFile writes data in the state file format to w.
func encodeFile(w io.Writer, data map[string]map[string]*state.Value) (int64, error) {
	out := &countingWriter{w: w}
	hash := sha256.New()
	writer := io.MultiWriter(out, hash)

	body, keys, err := encodeData(data)
	if err != nil {
		return out.n, err
	}

	hdrJSON, err := json.Marshal(fileHeader{
		Version:   headerVersion,
		CreatedAt: time.Now().UnixMilli(),
		Databases: len(data),
		Keys:      keys,
	})
	if err != nil {
		return out.n, fmt.Errorf("memory: marshal header: %w", err)
	}

	if _, err := writer.Write(magicBytes); err != nil {
		return out.n, err
	}
	var hdrLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdrJSON)))
	if _, err := writer.Write(hdrLen[:]); err != nil {
		return out.n, fmt.Errorf("memory: write header length: %w", err)
	}
	if _, err := writer.Write(hdrJSON); err != nil {
		return out.n, fmt.Errorf("memory: write header: %w", err)
	}
	var dataLen [8]byte
	binary.BigEndian.PutUint64(dataLen[:], uint64(len(body)))
	if _, err := writer.Write(dataLen[:]); err != nil {
		return out.n, fmt.Errorf("memory: write data length: %w", err)
	}
	if _, err := writer.Write(body); err != nil {
		return out.n, fmt.Errorf("memory: write data: %w", err)
	}

	// Checksum trailer is not included in the hash.
	if _, err := out.Write(hash.Sum(nil)); err != nil {
		return out.n, fmt.Errorf("memory: write checksum: %w", err)
	}
	return out.n, nil
}

// encodeData lays out databases and keys in byte order.
func encodeData(data map[string]map[string]*state.Value) ([]byte, uint64, error) {
	var buf []byte
	var keys uint64
	dbs := sortedKeys(data)
	buf = binary.AppendUvarint(buf, uint64(len(dbs)))
	for _, db := range dbs {
		table := data[db]
		buf = appendBytes(buf, []byte(db))
		names := sortedKeys(table)
		buf = binary.AppendUvarint(buf, uint64(len(names)))
		for _, key := range names {
			enc, err := table[key].MarshalBinary()
			if err != nil {
				return nil, 0, err
			}
			buf = appendBytes(buf, []byte(key))
			buf = appendBytes(buf, enc)
			keys++
		}
	}
	return buf, keys, nil
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// writeFile writes data to path via a synced temp file and a rename.
func writeFile(path string, data map[string]map[string]*state.Value) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tempPath := path + tempSuffix
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("memory: create temp file: %w", err)
	}
	defer os.Remove(tempPath)

	if _, err := encodeFile(file, data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("memory: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("memory: close: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("memory: rename: %w", err)
	}
	return nil
}

// loadFile reads and verifies a state file.
func loadFile(path string) (map[string]map[string]*state.Value, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return nil, ErrChecksumMismatch
	}

	// Verify checksum.
	dataLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, dataLen, checksumSize), expected); err != nil {
		return nil, err
	}
	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, dataLen), dataLen); err != nil {
		return nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, dataLen))

	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, ErrInvalidMagic
	}

	var hdrLenBuf [4]byte
	if _, err := io.ReadFull(br, hdrLenBuf[:]); err != nil {
		return nil, err
	}
	hdrLen := binary.BigEndian.Uint32(hdrLenBuf[:])
	if hdrLen == 0 || int64(hdrLen) > dataLen {
		return nil, fmt.Errorf("memory: bad header length %d", hdrLen)
	}
	hdrJSON := make([]byte, hdrLen)
	if _, err := io.ReadFull(br, hdrJSON); err != nil {
		return nil, err
	}
	var hdr fileHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("memory: unmarshal header: %w", err)
	}
	if hdr.Version != headerVersion {
		return nil, fmt.Errorf("memory: unsupported file version %d", hdr.Version)
	}

	var bodyLenBuf [8]byte
	if _, err := io.ReadFull(br, bodyLenBuf[:]); err != nil {
		return nil, err
	}
	bodyLen := binary.BigEndian.Uint64(bodyLenBuf[:])
	if bodyLen > uint64(dataLen) {
		return nil, fmt.Errorf("memory: bad data length %d", bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return decodeData(body)
}

func decodeData(body []byte) (map[string]map[string]*state.Value, error) {
	corrupt := errors.New("memory: corrupted data block")
	r := bytes.NewReader(body)
	readCount := func() (uint64, error) {
		n, err := binary.ReadUvarint(r)
		if err != nil || n > uint64(r.Len()) {
			return 0, corrupt
		}
		return n, nil
	}
	readBytes := func() ([]byte, error) {
		n, err := readCount()
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, corrupt
		}
		return b, nil
	}

	ndb, err := readCount()
	if err != nil {
		return nil, err
	}
	data := make(map[string]map[string]*state.Value, ndb)
	for i := uint64(0); i < ndb; i++ {
		name, err := readBytes()
		if err != nil {
			return nil, err
		}
		nkeys, err := readCount()
		if err != nil {
			return nil, err
		}
		table := make(map[string]*state.Value, nkeys)
		for j := uint64(0); j < nkeys; j++ {
			key, err := readBytes()
			if err != nil {
				return nil, err
			}
			enc, err := readBytes()
			if err != nil {
				return nil, err
			}
			v, err := state.UnmarshalValue(enc)
			if err != nil {
				return nil, err
			}
			table[string(key)] = v
		}
		if len(table) > 0 {
			data[string(name)] = table
		}
	}
	if r.Len() != 0 {
		return nil, corrupt
	}
	return data, nil
}
