package command

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestDumpList(t *testing.T) {
	srv := newMockServer(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv.handle("GET /v1/dumps", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, []map[string]any{
			{"hash": blockHash("G").String(), "size": 4096, "refs": 1, "created_at": created},
			{"hash": blockHash("A").String(), "size": 100, "refs": 0, "created_at": created},
		})
	})

	t.Run("table", func(t *testing.T) {
		out, _, err := runApp(t, srv, "dump", "list")
		if err != nil {
			t.Fatalf("dump list: %v", err)
		}
		rows := lines(out)
		if len(rows) != 3 {
			t.Fatalf("rows = %d, want 3:\n%s", len(rows), out)
		}
		if got := strings.Fields(rows[0]); strings.Join(got, " ") != "HASH SIZE REFS" {
			t.Errorf("header = %v, want HASH SIZE REFS", got)
		}
		if !strings.HasPrefix(rows[1], blockHash("G").String()) || !strings.Contains(rows[1], "4.0 KB") {
			t.Errorf("row = %q, want G with 4.0 KB", rows[1])
		}
	})

	t.Run("wide", func(t *testing.T) {
		out, _, err := runApp(t, srv, "--wide", "dump", "ls")
		if err != nil {
			t.Fatalf("dump ls: %v", err)
		}
		if !strings.Contains(out, "2026-03-01 12:00:00") {
			t.Errorf("wide output missing creation time:\n%s", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		out, _, err := runApp(t, srv, "-o", "json", "dump", "list")
		if err != nil {
			t.Fatalf("dump list: %v", err)
		}
		var got []dumpRow
		if err := json.Unmarshal([]byte(out), &got); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if len(got) != 2 || got[0].Hash != blockHash("G") || got[0].Refs != 1 {
			t.Errorf("dumps = %+v", got)
		}
	})
}

func TestDumpRecycle(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("POST /v1/dumps/recycle", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]int{"removed": 2})
	})

	out, _, err := runApp(t, srv, "-o", "yaml", "dump", "recycle")
	if err != nil {
		t.Fatalf("dump recycle: %v", err)
	}
	if out != "removed: 2\n" {
		t.Errorf("output = %q, want %q", out, "removed: 2\n")
	}
}

func TestDumpRecycle_Forbidden(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("POST /v1/dumps/recycle", func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusForbidden, "CS-HTTP-4031", "admin access denied")
	})

	_, _, err := runApp(t, srv, "dump", "recycle")
	if err == nil || !strings.Contains(err.Error(), "CS-HTTP-4031") {
		t.Errorf("Run() error = %v, want CS-HTTP-4031", err)
	}
}

func TestViewList(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /v1/views", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, []map[string]any{
			{"hash": blockHash("B").String(), "refs": 2, "ready": true},
		})
	})

	out, _, err := runApp(t, srv, "view", "list")
	if err != nil {
		t.Fatalf("view list: %v", err)
	}
	rows := lines(out)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2:\n%s", len(rows), out)
	}
	if fields := strings.Fields(rows[1]); len(fields) != 3 || fields[1] != "2" || fields[2] != "true" {
		t.Errorf("row = %v, want [hash 2 true]", fields)
	}
}
