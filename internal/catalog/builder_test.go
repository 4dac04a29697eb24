package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "pkgwatch/pkg/logx"
)

func serveJSON(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func buildFrom(t *testing.T, srv *httptest.Server, includeHidden bool) Snapshot {
	t.Helper()
	b := NewBuilder(logx.Nop())
	snap, err := b.Build(context.Background(), Source{
		Endpoint:      srv.URL,
		Timeout:       5 * time.Second,
		IncludeHidden: includeHidden,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return snap
}

func TestBuildBareArray(t *testing.T) {
	srv := serveJSON(t, `[
		{"name":"foo","manifest":{"description":"A tool"},"package":{"version":"1.0","publisher":{"username":"alice"}}},
		{"name":"bar","package":{"version":"2.0"}}
	]`)

	snap := buildFrom(t, srv, false)
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	foo := snap["foo"]
	if foo.Version != "1.0" || foo.Publisher != "alice" || foo.Description != "A tool" {
		t.Fatalf("unexpected foo entry: %+v", foo)
	}
	if snap["bar"].Publisher != "" {
		t.Fatalf("bar has no publisher, got %q", snap["bar"].Publisher)
	}
}

func TestBuildWrappedDocument(t *testing.T) {
	srv := serveJSON(t, `{"packages":[{"name":"foo","package":{"version":"1.0"}}]}`)
	snap := buildFrom(t, srv, false)
	if _, ok := snap["foo"]; !ok || len(snap) != 1 {
		t.Fatalf("expected exactly foo, got %+v", snap)
	}
}

func TestBuildHiddenFilter(t *testing.T) {
	body := `[
		{"name":"visible","package":{"version":"1"}},
		{"name":"secret","manifest":{"hidden":true},"package":{"version":"1"}}
	]`

	snap := buildFrom(t, serveJSON(t, body), false)
	if _, ok := snap["secret"]; ok {
		t.Fatalf("hidden entry leaked into snapshot")
	}

	snap = buildFrom(t, serveJSON(t, body), true)
	if e, ok := snap["secret"]; !ok || !e.Hidden {
		t.Fatalf("expected hidden entry when included, got %+v", snap)
	}
}

func TestBuildManifestNameFallback(t *testing.T) {
	srv := serveJSON(t, `[
		{"manifest":{"name":"inner"},"package":{"version":"1"}},
		{"package":{"version":"1"}}
	]`)
	snap := buildFrom(t, srv, false)
	if len(snap) != 1 {
		t.Fatalf("nameless entry must be skipped, got %+v", snap)
	}
	if _, ok := snap["inner"]; !ok {
		t.Fatalf("manifest name fallback missing, got %+v", snap)
	}
}

func TestBuildLocalizedDescription(t *testing.T) {
	srv := serveJSON(t, `[
		{"name":"foo","manifest":{"description":{"en":"english","de":"german"}},"package":{"version":"1"}}
	]`)
	snap := buildFrom(t, srv, false)
	if got := snap["foo"].Descriptions["de"]; got != "german" {
		t.Fatalf("localized description lost: %+v", snap["foo"])
	}
	if snap["foo"].Description != "" {
		t.Fatalf("plain description must stay empty for localized entries")
	}
}

func TestBuildDuplicateNameLastWins(t *testing.T) {
	srv := serveJSON(t, `[
		{"name":"dup","package":{"version":"1"}},
		{"name":"dup","package":{"version":"2"}}
	]`)
	snap := buildFrom(t, srv, false)
	if snap["dup"].Version != "2" {
		t.Fatalf("expected last entry to win, got %+v", snap["dup"])
	}
}

func TestBuildHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	b := NewBuilder(logx.Nop())
	if _, err := b.Build(context.Background(), Source{Endpoint: srv.URL, Timeout: 5 * time.Second}); err == nil {
		t.Fatalf("expected error on http 502")
	}
}

func TestBuildEmptyEndpoint(t *testing.T) {
	b := NewBuilder(logx.Nop())
	if _, err := b.Build(context.Background(), Source{}); err == nil {
		t.Fatalf("expected error on empty endpoint")
	}
}
