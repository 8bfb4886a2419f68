package handler

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yndnr/chainstate-go/internal/chain"
	"github.com/yndnr/chainstate-go/internal/core/domain"
	"github.com/yndnr/chainstate-go/internal/storage"
	"github.com/yndnr/chainstate-go/internal/storage/kv"
	"github.com/yndnr/chainstate-go/internal/storage/memory"
	"github.com/yndnr/chainstate-go/internal/storage/redo"
)

func openHeaders(t *testing.T) *chain.Store {
	t.Helper()
	cfg := chain.DefaultConfig("")
	cfg.KV.Engine = kv.EngineLevelDB
	cfg.KV.InMemory = true
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	headers, err := chain.Open(cfg)
	if err != nil {
		t.Fatalf("chain.Open: %v", err)
	}
	t.Cleanup(func() { headers.Close() })
	return headers
}

func blockHash(name string) domain.BlockHash {
	var h domain.BlockHash
	copy(h[:], name)
	return h
}

var (
	hashG = blockHash("G")
	hashA = blockHash("A")
)

type testServer struct {
	mgr     *storage.Manager
	headers *chain.Store
	handler *Handler
	digests map[domain.BlockHash][]byte
}

// newTestServer commits genesis G and its child A with redo recording, then
// recycles so that only G's dump remains.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	headers := openHeaders(t)

	cfg := storage.DefaultConfig(t.TempDir())
	cfg.Engine = memory.Engine
	cfg.Headers = headers
	cfg.RecycleInterval = 0
	mgr, err := storage.New(cfg)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	ts := &testServer{mgr: mgr, headers: headers, digests: make(map[domain.BlockHash][]byte)}
	commit := func(parent, hash domain.BlockHash, number uint64, key, value string) {
		var opts []storage.CreateOption
		if !parent.IsZero() {
			opts = append(opts, storage.FromBlock(parent))
		}
		s, err := mgr.CreateStorage(ctx, "next", opts...)
		if err != nil {
			t.Fatalf("CreateStorage: %v", err)
		}
		if err := s.Begin(); err != nil {
			t.Fatalf("Begin: %v", err)
		}
		db, err := s.Database("accounts")
		if err != nil {
			t.Fatalf("Database: %v", err)
		}
		if err := db.Set(key, []byte(value)); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if err := s.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		digest, err := s.Digest()
		if err != nil {
			t.Fatalf("Digest: %v", err)
		}
		ts.digests[hash] = digest
		if err := headers.PutHeader(ctx, domain.Header{Hash: hash, PreBlockHash: parent, Number: number}); err != nil {
			t.Fatalf("PutHeader: %v", err)
		}
		if _, err := mgr.CreateSnapshot(ctx, s, hash, true); err != nil {
			t.Fatalf("CreateSnapshot: %v", err)
		}
	}
	commit(domain.ZeroHash, hashG, 0, "supply", "1000")
	commit(hashG, hashA, 1, "alice", "10")

	ts.handler = New(mgr, headers)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var resp Response
	resp.Data = data
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		rec := ts.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rec.Code)
		}
	}

	var data map[string]string
	rec := ts.do(t, http.MethodGet, "/ready", nil)
	decode(t, rec, &data)
	if data["mode"] != "read_write" {
		t.Errorf("mode = %q, want read_write", data["mode"])
	}
}

func TestListDumps(t *testing.T) {
	ts := newTestServer(t)

	var dumps []DumpResponse
	rec := ts.do(t, http.MethodGet, "/v1/dumps", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode(t, rec, &dumps)
	if resp.Code != CodeOK {
		t.Errorf("code = %q, want OK", resp.Code)
	}
	if len(dumps) != 2 {
		t.Fatalf("dumps = %d, want 2", len(dumps))
	}
	for _, d := range dumps {
		if d.Refs != 0 || d.Size <= 0 {
			t.Errorf("dump %s refs=%d size=%d", d.Hash.Short(), d.Refs, d.Size)
		}
	}
}

func TestRecycleAndDigest(t *testing.T) {
	ts := newTestServer(t)

	var recycled RecycleResponse
	rec := ts.do(t, http.MethodPost, "/v1/dumps/recycle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("recycle status = %d, want 200", rec.Code)
	}
	decode(t, rec, &recycled)
	if recycled.Removed != 2 {
		t.Fatalf("removed = %d, want 2", recycled.Removed)
	}

	// Without any dump the chain has no restart point.
	rec = ts.do(t, http.MethodGet, "/v1/snapshots/"+hashA.String()+"/digest", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("digest status = %d, want 422", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != domain.ErrInvalidChain.Code {
		t.Errorf("X-Error-Code = %q, want %q", got, domain.ErrInvalidChain.Code)
	}
}

func TestDigest_Reconstructs(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// Keep G pinned while recycling so A must be replayed from it.
	if _, err := ts.mgr.GetSnapshotView(ctx, hashG); err != nil {
		t.Fatalf("GetSnapshotView(G): %v", err)
	}
	if _, err := ts.mgr.RecycleSnapshot(ctx); err != nil {
		t.Fatalf("RecycleSnapshot: %v", err)
	}

	var out DigestResponse
	rec := ts.do(t, http.MethodGet, "/v1/snapshots/"+hashA.String()+"/digest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &out)
	if out.Digest != hex.EncodeToString(ts.digests[hashA]) {
		t.Errorf("digest = %s, want %x", out.Digest, ts.digests[hashA])
	}

	// The view taken by the handler is released again.
	for _, v := range ts.mgr.Views() {
		if v.Hash == hashA {
			t.Errorf("view of A still open with %d refs", v.Refs)
		}
	}
}

func TestDigest_BadHash(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/v1/snapshots/xyz/digest", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRedoLogExchange(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodHead, "/v1/redo/"+hashA.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("HEAD status = %d, want 200", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/v1/redo/"+hashA.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != octetStream {
		t.Errorf("Content-Type = %q, want %q", ct, octetStream)
	}
	raw := rec.Body.Bytes()
	l, err := redo.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if l.Len() == 0 {
		t.Error("redo log is empty")
	}

	// Store the same log under a new hash, as a peer would.
	peer := blockHash("P")
	rec = ts.do(t, http.MethodPut, "/v1/redo/"+peer.String(), bytes.NewReader(raw))
	if rec.Code != http.StatusCreated {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !ts.mgr.HasRedoLog(peer) {
		t.Error("peer log not stored")
	}

	var hashes []domain.BlockHash
	rec = ts.do(t, http.MethodGet, "/v1/redo", nil)
	decode(t, rec, &hashes)
	if len(hashes) != 3 {
		t.Errorf("redo logs = %d, want 3", len(hashes))
	}
}

func TestRedoLog_Errors(t *testing.T) {
	ts := newTestServer(t)
	missing := blockHash("M")

	rec := ts.do(t, http.MethodGet, "/v1/redo/"+missing.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET missing status = %d, want 404", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != domain.ErrRedoLogNotFound.Code {
		t.Errorf("X-Error-Code = %q, want %q", got, domain.ErrRedoLogNotFound.Code)
	}

	rec = ts.do(t, http.MethodHead, "/v1/redo/"+missing.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("HEAD missing status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/v1/redo/"+missing.String(), strings.NewReader("garbage"))
	if rec.Code < 400 || rec.Code >= 500 {
		t.Errorf("PUT garbage status = %d, want 4xx", rec.Code)
	}
	if ts.mgr.HasRedoLog(missing) {
		t.Error("invalid log was stored")
	}
}

func TestHeaders(t *testing.T) {
	ts := newTestServer(t)
	hashX := blockHash("X")

	body, _ := json.Marshal(PutHeaderRequest{PreBlockHash: hashA, Number: 2})
	rec := ts.do(t, http.MethodPut, "/v1/headers/"+hashX.String(), bytes.NewReader(body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}

	var hdr domain.Header
	rec = ts.do(t, http.MethodGet, "/v1/headers/"+hashX.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
	decode(t, rec, &hdr)
	if hdr.PreBlockHash != hashA || hdr.Number != 2 {
		t.Errorf("header = %+v", hdr)
	}

	rec = ts.do(t, http.MethodGet, "/v1/headers/"+blockHash("none").String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/v1/headers/"+hashX.String(), strings.NewReader("{"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("PUT bad JSON status = %d, want 400", rec.Code)
	}

	if rec := ts.do(t, http.MethodHead, "/v1/headers/"+hashX.String(), nil); rec.Code != http.StatusOK {
		t.Errorf("HEAD status = %d, want 200", rec.Code)
	}
	if rec := ts.do(t, http.MethodHead, "/v1/headers/"+blockHash("none").String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("HEAD unknown status = %d, want 404", rec.Code)
	}
}

func TestHeaders_Ancestors(t *testing.T) {
	ts := newTestServer(t)

	var got []domain.Header
	rec := ts.do(t, http.MethodGet, "/v1/headers/"+hashA.String()+"/ancestors", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &got)
	if len(got) != 2 || got[0].Hash != hashA || got[1].Hash != hashG {
		t.Fatalf("ancestors = %+v", got)
	}

	rec = ts.do(t, http.MethodGet, "/v1/headers/"+hashA.String()+"/ancestors?limit=1", nil)
	got = nil
	decode(t, rec, &got)
	if len(got) != 1 {
		t.Errorf("len(ancestors?limit=1) = %d, want 1", len(got))
	}

	rec = ts.do(t, http.MethodGet, "/v1/headers/"+hashA.String()+"/ancestors?limit=x", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestHeaders_NotConfigured(t *testing.T) {
	ts := newTestServer(t)
	h := New(ts.mgr, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/headers/"+hashA.String(), nil))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestKindToHTTPStatus(t *testing.T) {
	tests := []struct {
		kind domain.Kind
		want int
	}{
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindInvalidParam, http.StatusBadRequest},
		{domain.KindInvalidChain, http.StatusUnprocessableEntity},
		{domain.KindNotSupported, http.StatusForbidden},
		{domain.KindIOFailure, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := kindToHTTPStatus(tt.kind); got != tt.want {
				t.Errorf("kindToHTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}
