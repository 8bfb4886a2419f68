package redo

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// File format constants.
const (
	MagicBytes     = "CSREDO\x00\x01"
	MagicBytesSize = 8
	ChecksumSize   = 32

	// headerSize is the size of a frame header: length (4) + crc (4).
	headerSize = 8

	// minFrameSize is the minimum frame size: header (8) + op (1).
	minFrameSize = headerSize + 1
)

// Errors for redo log operations.
var (
	ErrLogFinished      = domain.ErrInvalidParam.WithDetails("redo: log is finished")
	ErrLogNotFinished   = domain.ErrInvalidParam.WithDetails("redo: log is not finished")
	ErrInvalidMagic     = domain.ErrCorruptedLog.WithDetails("redo: invalid magic bytes")
	ErrChecksumMismatch = domain.ErrCorruptedLog.WithDetails("redo: checksum mismatch")
	ErrCorruptedFrame   = domain.ErrCorruptedLog.WithDetails("redo: corrupted frame")
)

// Encode serializes a finished log.
func (l *Log) Encode() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.finished {
		return nil, ErrLogNotFinished
	}

	var buf bytes.Buffer
	buf.WriteString(MagicBytes)
	buf.Write(binary.AppendUvarint(nil, uint64(len(l.records))))
	for i := range l.records {
		frame, err := encodeFrame(&l.records[i])
		if err != nil {
			return nil, err
		}
		buf.Write(frame)
	}

	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode. The returned log is finished.
func Decode(data []byte) (*Log, error) {
	if len(data) < MagicBytesSize+1+ChecksumSize {
		return nil, ErrCorruptedFrame.WithDetails("redo: log too short")
	}

	body := data[:len(data)-ChecksumSize]
	want := data[len(data)-ChecksumSize:]
	got := sha256.Sum256(body)
	if !bytes.Equal(got[:], want) {
		return nil, ErrChecksumMismatch
	}
	if string(body[:MagicBytesSize]) != MagicBytes {
		return nil, ErrInvalidMagic
	}
	body = body[MagicBytesSize:]

	count, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, ErrCorruptedFrame.WithDetails("redo: bad record count")
	}
	body = body[n:]

	// Every frame needs at least minFrameSize bytes.
	if count > uint64(len(body)/minFrameSize) {
		return nil, ErrCorruptedFrame.WithDetails("redo: record count exceeds data")
	}

	records := make([]Record, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(body) < headerSize {
			return nil, ErrCorruptedFrame
		}
		length := binary.BigEndian.Uint32(body[:4])
		if length < 5 || uint64(length) > uint64(len(body)-4) {
			return nil, ErrCorruptedFrame
		}
		rec, err := decodeFrame(body[4 : 4+length])
		if err != nil {
			return nil, fmt.Errorf("redo: record %d: %w", i, err)
		}
		records = append(records, rec)
		body = body[4+length:]
	}
	if len(body) != 0 {
		return nil, ErrCorruptedFrame.WithDetails("redo: trailing bytes after records")
	}

	return &Log{records: records, finished: true}, nil
}

func encodeFrame(r *Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	payload := encodePayload(r)
	opByte := []byte{byte(r.Op)}
	crc := crc32.ChecksumIEEE(append(opByte, payload...))

	// Length = CRC(4) + Op(1) + Payload.
	length := uint32(4 + 1 + len(payload))

	out := make([]byte, 0, 4+int(length))
	out = binary.BigEndian.AppendUint32(out, length)
	out = binary.BigEndian.AppendUint32(out, crc)
	out = append(out, opByte...)
	out = append(out, payload...)
	return out, nil
}

func decodeFrame(frame []byte) (Record, error) {
	// Frame layout: [crc32:4][op:1][payload...]
	if len(frame) < 5 {
		return Record{}, ErrCorruptedFrame
	}

	wantCRC := binary.BigEndian.Uint32(frame[:4])
	opByte := frame[4]
	payload := frame[5:]

	if crc32.ChecksumIEEE(append([]byte{opByte}, payload...)) != wantCRC {
		return Record{}, ErrChecksumMismatch
	}

	r := Record{Op: Op(opByte)}
	if err := decodePayload(payload, &r); err != nil {
		return Record{}, err
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Payload layout, all lengths uvarint:
//
//	database, key, nfields, fields..., nvalues, values..., index (varint),
//	flags (bit0 = before, bit1 = pivot present), [pivot]
func encodePayload(r *Record) []byte {
	var p []byte
	p = appendBytes(p, []byte(r.Database))
	p = appendBytes(p, []byte(r.Key))
	p = binary.AppendUvarint(p, uint64(len(r.Fields)))
	for _, f := range r.Fields {
		p = appendBytes(p, []byte(f))
	}
	p = binary.AppendUvarint(p, uint64(len(r.Values)))
	for _, v := range r.Values {
		p = appendBytes(p, v)
	}
	p = binary.AppendVarint(p, r.Index)

	var flags byte
	if r.Before {
		flags |= 1
	}
	if r.Pivot != nil {
		flags |= 2
	}
	p = append(p, flags)
	if r.Pivot != nil {
		p = appendBytes(p, r.Pivot)
	}
	return p
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

type payloadReader struct {
	buf []byte
	err error
}

func (pr *payloadReader) uvarint() uint64 {
	if pr.err != nil {
		return 0
	}
	v, n := binary.Uvarint(pr.buf)
	if n <= 0 {
		pr.err = ErrCorruptedFrame
		return 0
	}
	pr.buf = pr.buf[n:]
	return v
}

func (pr *payloadReader) varint() int64 {
	if pr.err != nil {
		return 0
	}
	v, n := binary.Varint(pr.buf)
	if n <= 0 {
		pr.err = ErrCorruptedFrame
		return 0
	}
	pr.buf = pr.buf[n:]
	return v
}

func (pr *payloadReader) bytes() []byte {
	n := pr.uvarint()
	if pr.err != nil {
		return nil
	}
	if n > uint64(len(pr.buf)) {
		pr.err = ErrCorruptedFrame
		return nil
	}
	out := make([]byte, n)
	copy(out, pr.buf[:n])
	pr.buf = pr.buf[n:]
	return out
}

func (pr *payloadReader) byte() byte {
	if pr.err != nil {
		return 0
	}
	if len(pr.buf) == 0 {
		pr.err = ErrCorruptedFrame
		return 0
	}
	b := pr.buf[0]
	pr.buf = pr.buf[1:]
	return b
}

// count reads an element count and bounds it by the remaining bytes, since
// every element takes at least one.
func (pr *payloadReader) count() int {
	n := pr.uvarint()
	if pr.err == nil && n > uint64(len(pr.buf)) {
		pr.err = ErrCorruptedFrame
	}
	if pr.err != nil {
		return 0
	}
	return int(n)
}

func decodePayload(payload []byte, r *Record) error {
	pr := &payloadReader{buf: payload}

	r.Database = string(pr.bytes())
	r.Key = string(pr.bytes())
	if n := pr.count(); n > 0 {
		r.Fields = make([]string, n)
		for i := range r.Fields {
			r.Fields[i] = string(pr.bytes())
		}
	}
	if n := pr.count(); n > 0 {
		r.Values = make([][]byte, n)
		for i := range r.Values {
			r.Values[i] = pr.bytes()
		}
	}
	r.Index = pr.varint()
	flags := pr.byte()
	r.Before = flags&1 != 0
	if flags&2 != 0 {
		r.Pivot = pr.bytes()
	}

	if pr.err != nil {
		return pr.err
	}
	if len(pr.buf) != 0 {
		return ErrCorruptedFrame
	}
	return nil
}
