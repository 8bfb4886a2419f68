package state

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

// ValueType is the type of the value stored under a key.
type ValueType uint8

const (
	TypeNone ValueType = iota
	TypeString
	TypeHash
	TypeList
)

// String returns the Redis-style type name.
func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeHash:
		return "hash"
	case TypeList:
		return "list"
	default:
		return "none"
	}
}

// Value is the content of one key.
type Value struct {
	Type ValueType
	Str  []byte
	Hash map[string][]byte
	List [][]byte
}

// ErrWrongType is returned when an operation targets a key holding another type.
var ErrWrongType = domain.ErrInvalidParam.WithDetails("operation against a key holding the wrong kind of value")

// NewString returns a string value.
func NewString(b []byte) *Value {
	return &Value{Type: TypeString, Str: cloneBytes(b)}
}

// NewHash returns an empty hash value.
func NewHash() *Value {
	return &Value{Type: TypeHash, Hash: make(map[string][]byte)}
}

// NewList returns an empty list value.
func NewList() *Value {
	return &Value{Type: TypeList}
}

// Empty reports whether a container value has no elements. Empty hashes
// and lists are deleted instead of stored.
func (v *Value) Empty() bool {
	switch v.Type {
	case TypeHash:
		return len(v.Hash) == 0
	case TypeList:
		return len(v.List) == 0
	default:
		return false
	}
}

// Clone returns a deep copy.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	out := &Value{Type: v.Type, Str: cloneBytes(v.Str)}
	if v.Hash != nil {
		out.Hash = make(map[string][]byte, len(v.Hash))
		for f, b := range v.Hash {
			out.Hash[f] = cloneBytes(b)
		}
	}
	if v.List != nil {
		out.List = make([][]byte, len(v.List))
		for i, b := range v.List {
			out.List[i] = cloneBytes(b)
		}
	}
	return out
}

// MarshalBinary returns the canonical encoding: a type byte followed by
// uvarint length-prefixed elements. Hash fields are written in byte order.
func (v *Value) MarshalBinary() ([]byte, error) {
	out := []byte{byte(v.Type)}
	switch v.Type {
	case TypeString:
		out = appendBytes(out, v.Str)
	case TypeHash:
		fields := v.sortedFields()
		out = binary.AppendUvarint(out, uint64(len(fields)))
		for _, f := range fields {
			out = appendBytes(out, []byte(f))
			out = appendBytes(out, v.Hash[f])
		}
	case TypeList:
		out = binary.AppendUvarint(out, uint64(len(v.List)))
		for _, item := range v.List {
			out = appendBytes(out, item)
		}
	default:
		return nil, domain.ErrInvalidParam.WithDetails("state: cannot encode value of type none")
	}
	return out, nil
}

// UnmarshalValue decodes bytes produced by MarshalBinary.
func UnmarshalValue(data []byte) (*Value, error) {
	corrupt := domain.ErrIOFailure.WithDetails("state: corrupted value encoding")
	if len(data) == 0 {
		return nil, corrupt
	}
	r := bytes.NewReader(data[1:])
	readBytes := func() ([]byte, bool) {
		n, err := binary.ReadUvarint(r)
		if err != nil || n > uint64(r.Len()) {
			return nil, false
		}
		b := make([]byte, n)
		_, _ = r.Read(b)
		return b, true
	}
	readCount := func() (int, bool) {
		n, err := binary.ReadUvarint(r)
		if err != nil || n > uint64(r.Len()) {
			return 0, false
		}
		return int(n), true
	}

	v := &Value{Type: ValueType(data[0])}
	switch v.Type {
	case TypeString:
		b, ok := readBytes()
		if !ok {
			return nil, corrupt
		}
		v.Str = b
	case TypeHash:
		n, ok := readCount()
		if !ok {
			return nil, corrupt
		}
		v.Hash = make(map[string][]byte, n)
		for i := 0; i < n; i++ {
			f, ok1 := readBytes()
			b, ok2 := readBytes()
			if !ok1 || !ok2 {
				return nil, corrupt
			}
			v.Hash[string(f)] = b
		}
	case TypeList:
		n, ok := readCount()
		if !ok {
			return nil, corrupt
		}
		v.List = make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			b, ok := readBytes()
			if !ok {
				return nil, corrupt
			}
			v.List = append(v.List, b)
		}
	default:
		return nil, corrupt
	}
	if r.Len() != 0 {
		return nil, corrupt
	}
	return v, nil
}

func (v *Value) sortedFields() []string {
	fields := make([]string, 0, len(v.Hash))
	for f := range v.Hash {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// normalizeIndex maps a possibly negative index to a position in a list of
// length n. ok is false when it falls outside the list.
func normalizeIndex(index int64, n int) (int, bool) {
	if index < 0 {
		index += int64(n)
	}
	if index < 0 || index >= int64(n) {
		return 0, false
	}
	return int(index), true
}

// listRange returns the inclusive [start, stop] slice using Redis LRANGE
// rules for negative and out of range bounds.
func listRange(list [][]byte, start, stop int64) [][]byte {
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return [][]byte{}
	}
	out := make([][]byte, 0, stop-start+1)
	for _, b := range list[start : stop+1] {
		out = append(out, cloneBytes(b))
	}
	return out
}

// listRemove removes up to |count| occurrences of value, from the head
// when count > 0, from the tail when count < 0, all when count == 0.
func listRemove(list [][]byte, count int64, value []byte) ([][]byte, int64) {
	var removed int64
	limit := count
	if limit < 0 {
		limit = -limit
	}
	keep := make([]bool, len(list))
	for i := range keep {
		keep[i] = true
	}
	match := func(i int) {
		if (limit == 0 || removed < limit) && bytes.Equal(list[i], value) {
			keep[i] = false
			removed++
		}
	}
	if count >= 0 {
		for i := 0; i < len(list); i++ {
			match(i)
		}
	} else {
		for i := len(list) - 1; i >= 0; i-- {
			match(i)
		}
	}
	if removed == 0 {
		return list, 0
	}
	out := make([][]byte, 0, len(list)-int(removed))
	for i, b := range list {
		if keep[i] {
			out = append(out, b)
		}
	}
	return out, removed
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
