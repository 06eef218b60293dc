package httpcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/umbracache/umbra/internal/cache"
	"github.com/umbracache/umbra/internal/metrics"
)

// Observability headers added to every response the middleware touches.
const (
	HeaderCacheStatus    = "X-Cache"
	HeaderCacheKey       = "X-Cache-Key"
	HeaderCacheTimestamp = "X-Cache-Timestamp"
)

// storeTimeout bounds the detached post-response cache write.
const storeTimeout = 10 * time.Second

var errStoreFailed = errors.New("httpcache: post-response cache write failed")

// Tags names the cache entries a request produces (caching middleware) or
// destroys (invalidation middleware): either a static list or a function of
// the request, resolved once per request before use.
type Tags struct {
	static []string
	fn     func(*http.Request) []string
}

// StaticTags tags every matched request with the same list.
func StaticTags(tags ...string) Tags {
	return Tags{static: tags}
}

// TagsFunc derives tags from the request.
func TagsFunc(fn func(*http.Request) []string) Tags {
	return Tags{fn: fn}
}

// Resolve returns the tags for this request.
func (t Tags) Resolve(r *http.Request) []string {
	if t.fn != nil {
		return t.fn(r)
	}
	return t.static
}

// Config controls a caching Middleware.
type Config struct {
	// TTL for cached responses. The cache default applies when zero;
	// negative is a configuration error.
	TTL time.Duration
	// KeyGenerator overrides the default key derivation.
	KeyGenerator KeyGenerator
	// Condition skips caching for requests it rejects. Nil caches every
	// applicable request.
	Condition func(*http.Request) bool
	// Tags registered for every stored response, for bulk invalidation.
	Tags Tags
	// VaryBy folds request dimensions into the cache key.
	VaryBy VaryBy
	// Principal extracts the authenticated principal identifier, used when
	// VaryBy.Principal is set.
	Principal func(*http.Request) string
	// Methods that may be cached. Defaults to GET only.
	Methods []string
	// Compress gzips stored responses above a size threshold.
	Compress bool
	// OnHit runs after a cached response has been replayed.
	OnHit func(r *http.Request, key string)
	// OnMiss runs before the downstream handler on a cache miss.
	OnMiss func(r *http.Request, key string)
	// OnError runs when the detached post-response write fails. It is
	// called from the write goroutine, after the request has completed.
	OnError func(key string, err error)
	// Logger for fail-open diagnostics. slog.Default if nil.
	Logger *slog.Logger
}

// Middleware caches idempotent JSON responses. On a hit the stored
// status, headers and body are replayed verbatim and the downstream handler
// never runs. On a miss the response streams to the client while being
// captured, and is written to the cache afterwards in a detached goroutine
// so the write can never add client-visible latency.
//
// Concurrent identical requests that miss together each compute and write
// the entry independently; the last write wins. There is deliberately no
// single-flight deduplication of misses.
type Middleware struct {
	cache   *cache.Cache
	cfg     Config
	methods map[string]bool
	log     *slog.Logger
	pending sync.WaitGroup
}

// New validates cfg and builds the middleware. Configuration problems fail
// here, at setup time, never at request time.
func New(c *cache.Cache, cfg Config) (*Middleware, error) {
	if c == nil {
		return nil, errors.New("httpcache: cache is required")
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("httpcache: negative TTL %v", cfg.TTL)
	}
	if cfg.VaryBy.Principal && cfg.Principal == nil {
		return nil, errors.New("httpcache: VaryBy.Principal requires a Principal extractor")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{http.MethodGet}
	}
	methods := make(map[string]bool, len(cfg.Methods))
	for _, m := range cfg.Methods {
		methods[m] = true
	}
	return &Middleware{
		cache:   c,
		cfg:     cfg,
		methods: methods,
		log:     cfg.Logger,
	}, nil
}

type ctxKey int

const skipKey ctxKey = iota

// WithSkip marks the request context so the caching middleware passes the
// request through untouched. Upstream middleware can use this to bypass the
// cache per request.
func WithSkip(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipKey, true)
}

func skipped(ctx context.Context) bool {
	v, _ := ctx.Value(skipKey).(bool)
	return v
}

// Wrap applies the middleware to next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.applicable(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := m.key(r)
		start := time.Now()

		var entry cachedResponse
		if m.cache.GetJSON(r.Context(), key, &entry) {
			metrics.RecordLookup("hit", durationMs(start))
			m.serveHit(w, r, key, &entry)
			return
		}
		metrics.RecordLookup("miss", durationMs(start))

		if m.cfg.OnMiss != nil {
			m.cfg.OnMiss(r, key)
		}
		w.Header().Set(HeaderCacheStatus, "MISS")
		w.Header().Set(HeaderCacheKey, key)

		rec := newRecorder(w)
		next.ServeHTTP(rec, r)

		// Non-2xx responses pass through unmodified and are never stored.
		if !rec.capture {
			return
		}

		// Tags resolve now, while the request is still valid; the write
		// itself happens after the response, off the request path.
		tags := m.cfg.Tags.Resolve(r)
		entry = cachedResponse{
			Status:   rec.status,
			Header:   rec.header,
			Body:     rec.buf.Bytes(),
			CachedAt: time.Now().UTC(),
		}
		m.pending.Add(1)
		go m.store(key, entry, tags)
	})
}

// Wait blocks until every in-flight post-response write has finished. The
// warmer and tests use it to observe writes deterministically.
func (m *Middleware) Wait() {
	m.pending.Wait()
}

func (m *Middleware) applicable(r *http.Request) bool {
	if !m.methods[r.Method] {
		return false
	}
	if skipped(r.Context()) {
		return false
	}
	if m.cfg.Condition != nil && !m.cfg.Condition(r) {
		return false
	}
	return true
}

func (m *Middleware) key(r *http.Request) string {
	if m.cfg.KeyGenerator != nil {
		return m.cfg.KeyGenerator(r)
	}
	return deriveKey(r, m.cfg.VaryBy, m.cfg.Principal)
}

func (m *Middleware) serveHit(w http.ResponseWriter, r *http.Request, key string, entry *cachedResponse) {
	for name, vals := range entry.Header {
		for _, v := range vals {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(HeaderCacheStatus, "HIT")
	w.Header().Set(HeaderCacheKey, key)
	w.Header().Set(HeaderCacheTimestamp, entry.CachedAt.Format(time.RFC3339))
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
	if m.cfg.OnHit != nil {
		m.cfg.OnHit(r, key)
	}
}

// store runs detached from the request. Failures are logged and reported to
// metrics and the OnError hook; they can never reach the client.
func (m *Middleware) store(key string, entry cachedResponse, tags []string) {
	defer m.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	ok := m.cache.Set(ctx, key, entry, cache.SetOptions{
		TTL:      m.cfg.TTL,
		Tags:     tags,
		Compress: m.cfg.Compress,
	})
	if !ok {
		metrics.RecordStore("failed")
		metrics.RecordError()
		m.log.Warn("post-response cache write failed", "key", key)
		if m.cfg.OnError != nil {
			m.cfg.OnError(key, errStoreFailed)
		}
		return
	}
	metrics.RecordStore("ok")
}

// cachedResponse is the stored envelope replayed on a hit.
type cachedResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	CachedAt time.Time   `json:"cached_at"`
}

func durationMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
