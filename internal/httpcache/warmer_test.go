package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/umbracache/umbra/internal/cache"
)

func TestWarmer_Load(t *testing.T) {
	c := newTestCache(t)
	w := NewWarmer(c, nil, nil, nil)

	ok := w.Load(context.Background(), []cache.Entry{
		{Key: "reports:1", Value: map[string]any{"id": 1}, TTL: 3600, Tags: []string{"reports"}},
		{Key: "reports:2", Value: map[string]any{"id": 2}, TTL: 3600, Tags: []string{"reports"}},
	})
	if !ok {
		t.Fatal("Load failed")
	}

	if c.Get(context.Background(), "reports:1") == nil {
		t.Fatal("warmed entry not retrievable")
	}
	if n := c.InvalidateByTag(context.Background(), "reports"); n != 2 {
		t.Fatalf("warmed tags missing: invalidated %d, want 2", n)
	}
}

func TestWarmer_ReplayIndistinguishableFromOrganic(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{TTL: time.Hour})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusOK, `{"warmed":true}`))
	w := NewWarmer(c, h, m.Wait, nil)

	served := w.Replay(context.Background(), []WarmRequest{{Path: "/api/items"}})
	if served != 1 {
		t.Fatalf("expected 1 replayed request, got %d", served)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler should have served the replay, ran %d times", calls.Load())
	}

	// Organic traffic now hits the warmed entry without running the handler.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/items", nil))
	if rec.Header().Get(HeaderCacheStatus) != "HIT" {
		t.Fatal("organic request should hit the warmed entry")
	}
	if rec.Body.String() != `{"warmed":true}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if calls.Load() != 1 {
		t.Fatal("handler should not run for warmed entries")
	}
}

func TestWarmer_ReplayHonorsVaryHeaders(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{
		TTL:    time.Hour,
		VaryBy: VaryBy{Headers: []string{"Accept-Language"}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	h := m.Wrap(jsonHandler(new(atomic.Int64), http.StatusOK, `{}`))
	w := NewWarmer(c, h, m.Wait, nil)

	w.Replay(context.Background(), []WarmRequest{
		{Path: "/api/items", Headers: map[string]string{"Accept-Language": "de"}},
	})

	de := httptest.NewRequest("GET", "/api/items", nil)
	de.Header.Set("Accept-Language", "de")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, de)
	if rec.Header().Get(HeaderCacheStatus) != "HIT" {
		t.Fatal("warmed variant should hit")
	}

	en := httptest.NewRequest("GET", "/api/items", nil)
	en.Header.Set("Accept-Language", "en")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, en)
	m.Wait()
	if rec.Header().Get(HeaderCacheStatus) != "MISS" {
		t.Fatal("unwarmed variant should miss")
	}
}

func TestWarmer_ReplayWithoutHandler(t *testing.T) {
	c := newTestCache(t)
	w := NewWarmer(c, nil, nil, nil)

	served := w.Replay(context.Background(), []WarmRequest{{Path: "/api/items"}})
	if served != 0 {
		t.Fatalf("expected 0 replayed requests without a handler, got %d", served)
	}
}

func TestParseManifest(t *testing.T) {
	data := []byte(`
entries:
  - key: "reports:summary"
    value: {"total": 10}
    ttl: 1800
    tags: ["reports"]
requests:
  - path: /api/items
    headers:
      Accept-Language: de
`)
	m, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if len(m.Entries) != 1 || m.Entries[0].Key != "reports:summary" || m.Entries[0].TTL != 1800 {
		t.Fatalf("entries not parsed: %+v", m.Entries)
	}
	if len(m.Requests) != 1 || m.Requests[0].Path != "/api/items" {
		t.Fatalf("requests not parsed: %+v", m.Requests)
	}
	if m.Requests[0].Headers["Accept-Language"] != "de" {
		t.Fatalf("headers not parsed: %+v", m.Requests[0].Headers)
	}

	if _, err := ParseManifest([]byte("{invalid")); err == nil {
		t.Fatal("invalid manifest should fail")
	}
}
