package httpcache

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/umbracache/umbra/internal/cache"
	"github.com/umbracache/umbra/internal/metrics"
)

// invalidateTimeout bounds the detached post-response invalidation.
const invalidateTimeout = 10 * time.Second

// InvalidationConfig controls an Invalidator.
type InvalidationConfig struct {
	// Tags to invalidate after a successful mutation.
	Tags Tags
	// Methods that trigger invalidation. Defaults to POST, PUT, PATCH and
	// DELETE.
	Methods []string
	// Condition skips invalidation for requests it rejects.
	Condition func(*http.Request) bool
	// OnInvalidate runs after each tag has been processed, with the number
	// of keys attempted. Called from the invalidation goroutine.
	OnInvalidate func(tag string, keys int)
	// Logger for diagnostics. slog.Default if nil.
	Logger *slog.Logger
}

// Invalidator is the companion middleware to Middleware: after a mutating
// request completes with a 2xx status, it invalidates every resolved tag in
// a detached goroutine. Invalidation failures are logged and can never fail
// the request.
type Invalidator struct {
	cache   *cache.Cache
	cfg     InvalidationConfig
	methods map[string]bool
	log     *slog.Logger
	pending sync.WaitGroup
}

// NewInvalidator validates cfg and builds the middleware.
func NewInvalidator(c *cache.Cache, cfg InvalidationConfig) (*Invalidator, error) {
	if c == nil {
		return nil, errors.New("httpcache: cache is required")
	}
	if len(cfg.Tags.static) == 0 && cfg.Tags.fn == nil {
		return nil, errors.New("httpcache: invalidation requires tags")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	}
	methods := make(map[string]bool, len(cfg.Methods))
	for _, m := range cfg.Methods {
		methods[m] = true
	}
	return &Invalidator{
		cache:   c,
		cfg:     cfg,
		methods: methods,
		log:     cfg.Logger,
	}, nil
}

// Wrap applies the middleware to next. The downstream handler always runs;
// invalidation happens after its response, and only when the mutation
// reported success.
func (iv *Invalidator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !iv.methods[r.Method] || (iv.cfg.Condition != nil && !iv.cfg.Condition(r)) {
			next.ServeHTTP(w, r)
			return
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		if sw.status < 200 || sw.status >= 300 {
			return
		}

		tags := iv.cfg.Tags.Resolve(r)
		if len(tags) == 0 {
			return
		}
		iv.pending.Add(1)
		go iv.invalidate(tags)
	})
}

// Wait blocks until every in-flight invalidation has finished.
func (iv *Invalidator) Wait() {
	iv.pending.Wait()
}

func (iv *Invalidator) invalidate(tags []string) {
	defer iv.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	for _, tag := range tags {
		n := iv.cache.InvalidateByTag(ctx, tag)
		metrics.RecordInvalidation(n)
		iv.log.Debug("cache tag invalidated", "tag", tag, "keys", n)
		if iv.cfg.OnInvalidate != nil {
			iv.cfg.OnInvalidate(tag, n)
		}
	}
}
