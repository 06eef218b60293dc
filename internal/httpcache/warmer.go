package httpcache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/umbracache/umbra/internal/cache"
	"gopkg.in/yaml.v3"
)

// WarmRequest describes one read-only request replayed to pre-populate the
// cache through the same path organic traffic takes.
type WarmRequest struct {
	Path    string            `yaml:"path" json:"path"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Manifest is the warm file format: direct entries bulk-loaded via MSet,
// plus requests replayed through the middleware.
type Manifest struct {
	Entries  []cache.Entry `yaml:"entries" json:"entries"`
	Requests []WarmRequest `yaml:"requests" json:"requests"`
}

// ParseManifest decodes a YAML (or JSON, which YAML subsumes) warm manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("httpcache: invalid warm manifest: %w", err)
	}
	return &m, nil
}

// Warmer pre-populates the cache at startup or on demand. Load writes
// precomputed entries directly; Replay drives synthetic GET requests
// through the caching middleware so warmed entries are indistinguishable
// from organically cached ones.
type Warmer struct {
	cache   *cache.Cache
	handler http.Handler
	wait    func()
	log     *slog.Logger
}

// NewWarmer builds a warmer. handler is the middleware-wrapped application
// handler replayed requests are served against; wait blocks until the
// resulting post-response cache writes have landed (Middleware.Wait, or a
// composite of several). Both may be nil when only Load is used.
func NewWarmer(c *cache.Cache, handler http.Handler, wait func(), log *slog.Logger) *Warmer {
	if log == nil {
		log = slog.Default()
	}
	return &Warmer{cache: c, handler: handler, wait: wait, log: log}
}

// Load bulk-writes precomputed entries in one atomic batch.
func (w *Warmer) Load(ctx context.Context, entries []cache.Entry) bool {
	if len(entries) == 0 {
		return true
	}
	ok := w.cache.MSet(ctx, entries)
	if ok {
		w.log.Info("cache warmed from entries", "entries", len(entries))
	} else {
		w.log.Warn("cache warm load failed", "entries", len(entries))
	}
	return ok
}

// Replay serves each request against the wrapped handler and waits for the
// resulting post-response writes to land. Returns the number of requests
// served.
func (w *Warmer) Replay(ctx context.Context, reqs []WarmRequest) int {
	if len(reqs) == 0 {
		return 0
	}
	if w.handler == nil {
		w.log.Warn("cache warm replay skipped: no handler wired", "requests", len(reqs))
		return 0
	}
	served := 0
	for _, wr := range reqs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, wr.Path, nil)
		if err != nil {
			w.log.Warn("cache warm replay: bad request", "path", wr.Path, "error", err)
			continue
		}
		for name, value := range wr.Headers {
			req.Header.Set(name, value)
		}
		w.handler.ServeHTTP(&discardWriter{header: make(http.Header)}, req)
		served++
	}
	if w.wait != nil {
		w.wait()
	}
	w.log.Info("cache warmed from replay", "requests", served)
	return served
}

// Warm applies a whole manifest: direct entries first, then replays.
func (w *Warmer) Warm(ctx context.Context, m *Manifest) (loaded int, replayed int) {
	if w.Load(ctx, m.Entries) {
		loaded = len(m.Entries)
	}
	replayed = w.Replay(ctx, m.Requests)
	return loaded, replayed
}

// discardWriter satisfies http.ResponseWriter for replayed requests whose
// bodies nobody reads.
type discardWriter struct {
	header http.Header
	status int
}

func (d *discardWriter) Header() http.Header { return d.header }

func (d *discardWriter) WriteHeader(code int) { d.status = code }

func (d *discardWriter) Write(b []byte) (int, error) { return len(b), nil }
