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

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	store := cache.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	c := cache.New(store, cache.Config{Prefix: "test"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return c
}

// jsonHandler counts invocations and writes a fixed JSON body.
func jsonHandler(calls *atomic.Int64, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestMiddleware_MissThenHit(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusOK, `{"a":1}`))

	// First request: miss, handler runs, response captured afterwards.
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, httptest.NewRequest("GET", "/x", nil))
	if w1.Body.String() != `{"a":1}` {
		t.Fatalf("unexpected body %q", w1.Body.String())
	}
	if got := w1.Header().Get(HeaderCacheStatus); got != "MISS" {
		t.Fatalf("expected MISS, got %q", got)
	}
	if w1.Header().Get(HeaderCacheKey) == "" {
		t.Fatal("expected cache key header")
	}
	m.Wait()

	// Second request: replayed from cache, handler does not run again.
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest("GET", "/x", nil))
	if w2.Body.String() != `{"a":1}` {
		t.Fatalf("hit body mismatch: %q", w2.Body.String())
	}
	if got := w2.Header().Get(HeaderCacheStatus); got != "HIT" {
		t.Fatalf("expected HIT, got %q", got)
	}
	if got := w2.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("stored headers not replayed, Content-Type %q", got)
	}
	if w2.Header().Get(HeaderCacheTimestamp) == "" {
		t.Fatal("expected cache timestamp header on hit")
	}
	if _, err := time.Parse(time.RFC3339, w2.Header().Get(HeaderCacheTimestamp)); err != nil {
		t.Fatalf("timestamp header not RFC3339: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("handler should have run once, ran %d times", n)
	}
}

func TestMiddleware_Non2xxNeverCached(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusNotFound, `{"error":"missing"}`))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/y", nil))
		m.Wait()
		if w.Code != http.StatusNotFound {
			t.Fatalf("status should pass through, got %d", w.Code)
		}
		if got := w.Header().Get(HeaderCacheStatus); got != "MISS" {
			t.Fatalf("request %d: expected MISS, got %q", i+1, got)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("handler should run on every request, ran %d times", n)
	}
}

func TestMiddleware_NonGetPassesThrough(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusOK, `{}`))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/x", nil))
	m.Wait()

	if w.Header().Get(HeaderCacheStatus) != "" {
		t.Fatal("non-GET requests should be untouched")
	}
	if c.Stats().Sets != 0 {
		t.Fatal("non-GET responses must not be stored")
	}
}

func TestMiddleware_ConditionSkips(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{
		TTL:       time.Minute,
		Condition: func(r *http.Request) bool { return r.URL.Query().Get("nocache") == "" },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusOK, `{}`))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x?nocache=1", nil))
	m.Wait()

	if w.Header().Get(HeaderCacheStatus) != "" {
		t.Fatal("rejected requests should be untouched")
	}
	if c.Stats().Sets != 0 {
		t.Fatal("rejected requests must not be stored")
	}
}

func TestMiddleware_WithSkip(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusOK, `{}`))

	r := httptest.NewRequest("GET", "/x", nil)
	r = r.WithContext(WithSkip(r.Context()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	m.Wait()

	if w.Header().Get(HeaderCacheStatus) != "" {
		t.Fatal("skipped requests should be untouched")
	}
}

func TestMiddleware_Hooks(t *testing.T) {
	c := newTestCache(t)

	var hits, misses atomic.Int64
	m, err := New(c, Config{
		TTL:    time.Minute,
		OnHit:  func(*http.Request, string) { hits.Add(1) },
		OnMiss: func(*http.Request, string) { misses.Add(1) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusOK, `{}`))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	m.Wait()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	if misses.Load() != 1 || hits.Load() != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got %d/%d", misses.Load(), hits.Load())
	}
}

func TestMiddleware_VaryByPartitions(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{
		TTL:       time.Minute,
		VaryBy:    VaryBy{Principal: true},
		Principal: HeaderPrincipal("X-User-ID"),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"user":"` + r.Header.Get("X-User-ID") + `"}`))
	}))

	get := func(user string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/me", nil)
		r.Header.Set("X-User-ID", user)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		m.Wait()
		return w
	}

	get("alice")
	wb := get("bob")
	if wb.Header().Get(HeaderCacheStatus) != "MISS" {
		t.Fatal("bob should not see alice's cached response")
	}
	wa := get("alice")
	if wa.Header().Get(HeaderCacheStatus) != "HIT" {
		t.Fatal("alice should hit her own entry")
	}
	if wa.Body.String() != `{"user":"alice"}` {
		t.Fatalf("alice got the wrong body: %q", wa.Body.String())
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one handler run per principal, got %d", calls.Load())
	}
}

func TestMiddleware_FailOpenServesFromHandler(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	c := cache.New(store, cache.Config{Prefix: "test"})
	// Never connected: every lookup misses and every write fails, but
	// requests are served normally.
	m, err := New(c, Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusOK, `{"a":1}`))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
		m.Wait()
		if w.Code != http.StatusOK || w.Body.String() != `{"a":1}` {
			t.Fatalf("request %d not served correctly", i+1)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("handler should run every time with the cache down, ran %d", calls.Load())
	}
}

func TestMiddleware_ConfigValidation(t *testing.T) {
	c := newTestCache(t)

	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("nil cache should be rejected")
	}
	if _, err := New(c, Config{TTL: -time.Second}); err == nil {
		t.Fatal("negative TTL should be rejected")
	}
	if _, err := New(c, Config{VaryBy: VaryBy{Principal: true}}); err == nil {
		t.Fatal("principal vary-by without an extractor should be rejected")
	}
}

func TestMiddleware_KeyGeneratorOverride(t *testing.T) {
	c := newTestCache(t)
	m, err := New(c, Config{
		TTL:          time.Minute,
		KeyGenerator: func(r *http.Request) string { return "fixed" },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var calls atomic.Int64
	h := m.Wrap(jsonHandler(&calls, http.StatusOK, `{}`))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/whatever", nil))
	if got := w.Header().Get(HeaderCacheKey); got != "fixed" {
		t.Fatalf("expected overridden key, got %q", got)
	}
	m.Wait()

	// A different path maps onto the same key and therefore hits.
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest("GET", "/other", nil))
	if w2.Header().Get(HeaderCacheStatus) != "HIT" {
		t.Fatal("overridden key should unify both paths")
	}
}
