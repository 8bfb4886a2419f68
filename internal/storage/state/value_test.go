package state

import (
	"bytes"
	"errors"
	"testing"

	"github.com/yndnr/chainstate-go/internal/core/domain"
)

func TestValue_CanonicalEncoding(t *testing.T) {
	a := NewHash()
	a.Hash["x"] = []byte("1")
	a.Hash["a"] = []byte("2")

	b := NewHash()
	b.Hash["a"] = []byte("2")
	b.Hash["x"] = []byte("1")

	ea, err := a.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	eb, _ := b.MarshalBinary()
	if !bytes.Equal(ea, eb) {
		t.Fatalf("hash encoding depends on insertion order")
	}

	got, err := UnmarshalValue(ea)
	if err != nil {
		t.Fatalf("UnmarshalValue: %v", err)
	}
	if got.Type != TypeHash || string(got.Hash["x"]) != "1" || len(got.Hash) != 2 {
		t.Fatalf("decoded = %+v", got)
	}
}

func TestValue_Decode(t *testing.T) {
	list := &Value{Type: TypeList, List: [][]byte{[]byte("a"), {}, []byte("c")}}
	enc, _ := list.MarshalBinary()
	got, err := UnmarshalValue(enc)
	if err != nil {
		t.Fatalf("UnmarshalValue: %v", err)
	}
	if len(got.List) != 3 || string(got.List[2]) != "c" {
		t.Fatalf("decoded list = %q", got.List)
	}

	for _, bad := range [][]byte{nil, {0}, {byte(TypeString), 5, 'a'}, append(enc, 0)} {
		if _, err := UnmarshalValue(bad); !errors.Is(err, domain.ErrIOFailure) {
			t.Fatalf("UnmarshalValue(%v) = %v, want ErrIOFailure", bad, err)
		}
	}
	if _, err := (&Value{}).MarshalBinary(); err == nil {
		t.Fatalf("MarshalBinary of TypeNone should fail")
	}
}

func TestValue_CloneIsDeep(t *testing.T) {
	v := &Value{Type: TypeList, List: [][]byte{[]byte("a")}}
	c := v.Clone()
	c.List[0][0] = 'z'
	if string(v.List[0]) != "a" {
		t.Fatalf("Clone shares element storage")
	}
	if (*Value)(nil).Clone() != nil {
		t.Fatalf("Clone(nil) should be nil")
	}
}

func TestListRange(t *testing.T) {
	list := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	tests := []struct {
		start, stop int64
		want        string
	}{
		{0, -1, "abcd"},
		{1, 2, "bc"},
		{-2, -1, "cd"},
		{-100, 100, "abcd"},
		{3, 1, ""},
		{5, 10, ""},
	}
	for _, tt := range tests {
		var got []byte
		for _, b := range listRange(list, tt.start, tt.stop) {
			got = append(got, b...)
		}
		if string(got) != tt.want {
			t.Errorf("listRange(%d, %d) = %q, want %q", tt.start, tt.stop, got, tt.want)
		}
	}
}

func TestNormalizeIndex(t *testing.T) {
	if i, ok := normalizeIndex(-1, 3); !ok || i != 2 {
		t.Errorf("normalizeIndex(-1, 3) = %d, %v", i, ok)
	}
	if _, ok := normalizeIndex(3, 3); ok {
		t.Errorf("normalizeIndex(3, 3) should be out of range")
	}
	if _, ok := normalizeIndex(-4, 3); ok {
		t.Errorf("normalizeIndex(-4, 3) should be out of range")
	}
}
