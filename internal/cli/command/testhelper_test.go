package command

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage/redo"
)

// mockServer answers "METHOD /path" patterns with canned handlers.
type mockServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []string
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		m.mu.Lock()
		m.requests = append(m.requests, key)
		h, ok := m.handlers[key]
		m.mu.Unlock()
		if !ok {
			errorResponse(w, http.StatusNotFound, "CS-HTTP-4040", "no route")
			return
		}
		h(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) handle(pattern string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[pattern] = h
}

func (m *mockServer) called(pattern string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r == pattern {
			return true
		}
	}
	return false
}

// jsonResponse writes data inside the server's response envelope.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":    "OK",
		"message": "Success",
		"data":    data,
	})
}

func errorResponse(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

// runApp runs the CLI against srv and returns what it printed on stdout
// and stderr.
func runApp(t *testing.T, srv *mockServer, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr

	full := []string{"chainstate-cli"}
	if srv != nil {
		full = append(full, "--server", srv.URL)
	}
	full = append(full, args...)
	err := app.Run(full)
	return stdout.String(), stderr.String(), err
}

func blockHash(name string) domain.BlockHash {
	var h domain.BlockHash
	copy(h[:], name)
	return h
}

// writeRedoFile encodes a small committed transaction and returns its path.
func writeRedoFile(t *testing.T) string {
	t.Helper()
	l := redo.NewLog()
	records := []redo.Record{
		{Op: redo.OpBegin},
		{Op: redo.OpSet, Database: "accounts", Key: "alice", Values: [][]byte{[]byte("10")}},
		{Op: redo.OpHSet, Database: "accounts", Key: "meta", Fields: []string{"nonce"}, Values: [][]byte{bytes.Repeat([]byte{0xaa}, 12)}},
		{Op: redo.OpCommit},
	}
	for _, r := range records {
		if err := l.Append(r); err != nil {
			t.Fatalf("Append(%s): %v", r.Op, err)
		}
	}
	l.Finish()
	data, err := l.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "block.redo")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}
