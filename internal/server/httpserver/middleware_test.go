package httpserver

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/yndnr/chainstate-go/internal/telemetry/logger"
	"github.com/yndnr/chainstate-go/internal/telemetry/tracer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler, mw("a"), mw("b"), mw("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "a,b,c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(seen, "req-") {
		t.Errorf("generated request ID = %q, want req- prefix", seen)
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get("X-Request-ID"), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "given")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "given" {
		t.Errorf("request ID = %q, want given", seen)
	}
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RequestID(), ContextLogger(log), Recover())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(buf.String(), `"request_id":"req-`) {
		t.Errorf("panic log lacks request_id: %s", buf.String())
	}
	if rec.Header().Get("X-Error-Code") != CodeInternal {
		t.Errorf("X-Error-Code = %q, want %q", rec.Header().Get("X-Error-Code"), CodeInternal)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2)(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// Other clients have their own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second client status = %d, want 200", rec.Code)
	}
}

func TestNetworkACL(t *testing.T) {
	h := NetworkACL([]string{"127.0.0.1", "10.1.0.0/16", "bogus"}, slog.Default())(okHandler)

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:5000", http.StatusOK},
		{"10.1.2.3:5000", http.StatusOK},
		{"10.2.0.1:5000", http.StatusForbidden},
		{"[::1]:5000", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/redo/x", nil)
			req.RemoteAddr = tt.remote
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// A client cannot claim an allowed address through forwarding headers.
	for _, header := range []string{"X-Forwarded-For", "X-Real-IP"} {
		t.Run("spoofed "+header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/redo/x", nil)
			req.RemoteAddr = "192.0.2.50:4000"
			req.Header.Set(header, "127.0.0.1")
			rec := httptest.NewRecorder()
			Chain(okHandler, RealIP(nil, slog.Default()), NetworkACL([]string{"127.0.0.1"}, slog.Default())).ServeHTTP(rec, req)
			if rec.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", rec.Code)
			}
		})
	}

	open := NetworkACL(nil, slog.Default())(okHandler)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("empty allowlist status = %d, want 200", rec.Code)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	withSpan := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid})
			next.ServeHTTP(w, r.WithContext(trace.ContextWithSpanContext(r.Context(), sc)))
		})
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), RequestID(), ContextLogger(log), withSpan, AccessLog())

	req := httptest.NewRequest(http.MethodGet, "/v1/dumps", nil)
	req.Header.Set("X-Request-ID", "req-access")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"status":404`) || !strings.Contains(out, `"path":"/v1/dumps"`) {
		t.Errorf("access log = %s", out)
	}
	if !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("4xx should log at WARN: %s", out)
	}
	if !strings.Contains(out, `"request_id":"req-access"`) {
		t.Errorf("access log lacks request_id: %s", out)
	}
	if !strings.Contains(out, `"trace_id":"`+tid.String()+`"`) {
		t.Errorf("access log lacks trace_id: %s", out)
	}
}

func TestTrace(t *testing.T) {
	h := Trace(tracer.New("test"))(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestRealIP(t *testing.T) {
	trusted := []string{"10.0.0.0/8"}
	tests := []struct {
		name    string
		trusted []string
		header  map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer ignores forwarded", trusted, map[string]string{"X-Forwarded-For": "1.2.3.4"}, "9.9.9.9:1", "9.9.9.9"},
		{"untrusted peer ignores real ip", trusted, map[string]string{"X-Real-IP": "4.3.2.1"}, "9.9.9.9:1", "9.9.9.9"},
		{"no proxies configured", nil, map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.2:1", "10.0.0.2"},
		{"trusted peer", trusted, map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.2:1", "1.2.3.4"},
		{"rightmost untrusted hop", trusted, map[string]string{"X-Forwarded-For": "6.6.6.6, 1.2.3.4, 10.0.0.3"}, "10.0.0.2:1", "1.2.3.4"},
		{"all hops trusted", trusted, map[string]string{"X-Forwarded-For": "10.0.0.4, 10.0.0.3"}, "10.0.0.2:1", "10.0.0.4"},
		{"malformed hop", trusted, map[string]string{"X-Forwarded-For": "bogus"}, "10.0.0.2:1", "10.0.0.2"},
		{"trusted real ip", trusted, map[string]string{"X-Real-IP": "4.3.2.1"}, "10.0.0.2:1", "4.3.2.1"},
		{"remote v6", nil, nil, "[::1]:8080", "::1"},
		{"no port", nil, nil, "9.9.9.9", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := RealIP(tt.trusted, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = getClientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("client IP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetClientIP_WithoutRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:80"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	if got := getClientIP(req); got != "192.0.2.7" {
		t.Errorf("getClientIP() = %q, want 192.0.2.7", got)
	}
}
