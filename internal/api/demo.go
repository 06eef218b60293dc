package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/umbracache/umbra/internal/cache"
	"github.com/umbracache/umbra/internal/httpcache"
)

// DemoHandler serves example routes wired through the caching and
// invalidation middleware. They double as a smoke surface for operators:
// hitting /demo/reports/{id} twice should show X-Cache: MISS then HIT.
type DemoHandler struct {
	Cache *cache.Cache

	reports   *httpcache.Middleware
	analytics *httpcache.Middleware
	inv       *httpcache.Invalidator
}

// NewDemoHandler builds the demo surface on top of c.
func NewDemoHandler(c *cache.Cache) (*DemoHandler, error) {
	reports, err := httpcache.New(c, httpcache.Report())
	if err != nil {
		return nil, err
	}
	analytics, err := httpcache.New(c, httpcache.Analytics("metric", "window"))
	if err != nil {
		return nil, err
	}
	inv, err := httpcache.NewInvalidator(c, httpcache.InvalidationConfig{
		Tags: httpcache.StaticTags("reports"),
	})
	if err != nil {
		return nil, err
	}
	return &DemoHandler{Cache: c, reports: reports, analytics: analytics, inv: inv}, nil
}

// RegisterRoutes registers demo routes on the mux.
func (h *DemoHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /demo/reports/{id}", h.reports.Wrap(http.HandlerFunc(h.GetReport)))
	mux.Handle("POST /demo/reports", h.inv.Wrap(http.HandlerFunc(h.CreateReport)))
	mux.Handle("GET /demo/analytics", h.analytics.Wrap(http.HandlerFunc(h.GetAnalytics)))
}

// Wait blocks until all pending cache writes and invalidations are done.
func (h *DemoHandler) Wait() {
	h.reports.Wait()
	h.analytics.Wait()
	h.inv.Wait()
}

// GetReport handles GET /demo/reports/{id}
func (h *DemoHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":           id,
		"generated_at": time.Now().UTC().Format(time.RFC3339Nano),
		"rows":         42,
	})
}

// CreateReport handles POST /demo/reports. A successful create drops every
// cached report through the "reports" tag.
func (h *DemoHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	id := uuid.New().String()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// GetAnalytics handles GET /demo/analytics?metric=...&window=...
func (h *DemoHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "requests"
	}
	window := r.URL.Query().Get("window")
	if window == "" {
		window = "1h"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"metric":       metric,
		"window":       window,
		"value":        1234.5,
		"generated_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
