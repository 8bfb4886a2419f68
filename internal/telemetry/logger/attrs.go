package logger

import (
	"encoding/hex"
	"fmt"
	"log/slog"
)

// maxBytesAttr is the number of bytes of a []byte attribute that are
// printed before truncation.
const maxBytesAttr = 32

// compactAttr renders []byte values as hex, truncating long ones, and
// recurses into groups.
func compactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok {
			return slog.String(a.Key, hexBytes(b))
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = compactAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

func hexBytes(b []byte) string {
	if len(b) <= maxBytesAttr {
		return hex.EncodeToString(b)
	}
	return fmt.Sprintf("%s...(%d bytes)", hex.EncodeToString(b[:maxBytesAttr]), len(b))
}
