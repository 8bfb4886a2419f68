package command

import (
	"net/http"
	"strings"
	"testing"
)

func TestSystemHealthChecks(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "healthy", "time": "now"})
	})
	srv.handle("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ready", "mode": "read_only", "time": "now"})
	})

	out, _, err := runApp(t, srv, "system", "health")
	if err != nil {
		t.Fatalf("system health: %v", err)
	}
	if !strings.Contains(out, "healthy") {
		t.Errorf("health output = %q", out)
	}

	out, _, err = runApp(t, srv, "sys", "ready")
	if err != nil {
		t.Fatalf("system ready: %v", err)
	}
	if !strings.Contains(out, "read_only") {
		t.Errorf("ready output = %q", out)
	}
}

func TestSystemHealth_Unreachable(t *testing.T) {
	srv := newMockServer(t)
	srv.Close()

	_, _, err := runApp(t, srv, "system", "health")
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("Run() error = %v, want unreachable", err)
	}
}
