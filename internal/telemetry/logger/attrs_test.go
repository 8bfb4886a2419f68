package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestCompactAttr(t *testing.T) {
	long := bytes.Repeat([]byte{0xab}, 40)
	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"short bytes", slog.Any("v", []byte{0x01, 0xff}), "01ff"},
		{"empty bytes", slog.Any("v", []byte{}), ""},
		{"long bytes", slog.Any("v", long), strings.Repeat("ab", maxBytesAttr) + "...(40 bytes)"},
		{"string untouched", slog.String("v", "plain"), "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compactAttr(tt.attr)
			if got.Value.String() != tt.want {
				t.Errorf("compactAttr() = %q, want %q", got.Value.String(), tt.want)
			}
		})
	}
}

func TestCompactAttr_Group(t *testing.T) {
	g := slog.Group("rec", slog.Any("value", []byte("hi")), slog.Int("n", 1))
	got := compactAttr(g).Value.Group()
	if got[0].Value.String() != "6869" {
		t.Errorf("group bytes = %q, want 6869", got[0].Value.String())
	}
	if got[1].Value.Int64() != 1 {
		t.Errorf("group int = %v, want 1", got[1].Value)
	}
}

func TestNewSlog_CompactsBytes(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewSlog(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("NewSlog() error = %v", err)
	}
	l.Info("stored", "value", []byte{0xde, 0xad})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if entry["value"] != "dead" {
		t.Errorf("value = %v, want dead", entry["value"])
	}
}
