// Package api wires the HTTP surface of the cache daemon: admin and health
// endpoints, Prometheus metrics, and demo routes served through the caching
// middleware.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/umbracache/umbra/internal/cache"
	"github.com/umbracache/umbra/internal/httpcache"
	"github.com/umbracache/umbra/internal/logging"
	"github.com/umbracache/umbra/internal/metrics"
	"github.com/umbracache/umbra/internal/observability"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Cache *cache.Cache
	// DisableDemo turns off the /demo routes. Admin and health stay on.
	DisableDemo bool
}

// NewRouter assembles the full handler chain plus the warmer that replays
// manifest requests through it. Split from StartHTTPServer so tests can
// drive both without a listener.
func NewRouter(cfg ServerConfig) (http.Handler, *httpcache.Warmer, error) {
	mux := http.NewServeMux()

	admin := &AdminHandler{
		Cache:     cfg.Cache,
		StartedAt: time.Now(),
	}
	admin.RegisterRoutes(mux)

	var wait func()
	if !cfg.DisableDemo {
		demo, err := NewDemoHandler(cfg.Cache)
		if err != nil {
			return nil, nil, err
		}
		demo.RegisterRoutes(mux)
		wait = demo.Wait
	}

	if metrics.Enabled() {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Replays go straight at the mux so the caching middleware sees them
	// exactly as it sees organic traffic.
	warmer := httpcache.NewWarmer(cfg.Cache, mux, wait, logging.Op())
	admin.Warmer = warmer

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return handler, warmer, nil
}

// StartHTTPServer creates and starts the HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) (*http.Server, *httpcache.Warmer, error) {
	handler, warmer, err := NewRouter(cfg)
	if err != nil {
		return nil, nil, err
	}

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server, warmer, nil
}

// requestIDMiddleware assigns an X-Request-ID when the client did not send one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
