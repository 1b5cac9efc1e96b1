package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/cache"
	"github.com/wscache/wscache/internal/refresh"
)

func newTestServer(t *testing.T) (*Server, *cache.Engine) {
	t.Helper()
	dir := t.TempDir()
	engine, err := cache.NewEngine(filepath.Join(dir, "cache.db"), cache.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	orch := refresh.New(engine, nil, zerolog.Nop())
	return New(engine, orch, zerolog.Nop()), engine
}

func TestHealthzReportsCounts(t *testing.T) {
	srv, engine := newTestServer(t)
	ctx := context.Background()
	if err := engine.Users.Save(ctx, []cache.User{{ID: "U1", Name: "alice"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body healthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.UsersCount != 1 || body.ChannelsCount != 0 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestDebugSearchUsers(t *testing.T) {
	srv, engine := newTestServer(t)
	ctx := context.Background()
	if err := engine.Users.Save(ctx, []cache.User{
		{ID: "U1", Name: "alice"},
		{ID: "U2", Name: "bob"},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/search?entity=users&query=alice", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body debugSearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Users) != 1 || body.Users[0].ID != "U1" {
		t.Fatalf("unexpected users: %+v", body.Users)
	}
}

func TestDebugSearchRejectsUnknownEntity(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/search?entity=bogus&query=x", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDebugRefreshesReturnsHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/debug/refreshes", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body []refreshAttemptResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty history, got %+v", body)
	}
}
