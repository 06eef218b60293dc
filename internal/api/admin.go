package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/umbracache/umbra/internal/cache"
	"github.com/umbracache/umbra/internal/httpcache"
	"github.com/umbracache/umbra/internal/logging"
)

// AdminHandler exposes operational endpoints for the cache: statistics,
// invalidation, flushing, warming and health probes.
type AdminHandler struct {
	Cache     *cache.Cache
	Warmer    *httpcache.Warmer
	StartedAt time.Time
}

// RegisterRoutes registers admin and health routes on the mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	// Health probes
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)

	// Cache administration
	mux.HandleFunc("GET /admin/stats", h.GetStats)
	mux.HandleFunc("POST /admin/stats/reset", h.ResetStats)
	mux.HandleFunc("POST /admin/invalidate/{tag}", h.InvalidateTag)
	mux.HandleFunc("POST /admin/flush", h.Flush)
	mux.HandleFunc("POST /admin/warm", h.Warm)
	mux.HandleFunc("GET /admin/keys/{key}", h.InspectKey)
	mux.HandleFunc("DELETE /admin/keys/{key}", h.DeleteKey)
}

// Health handles GET /health - detailed status
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithProbeTimeout(r)
	defer cancel()

	storeOK := h.Cache.Ping(ctx)
	stats := h.Cache.Stats()

	status := "ok"
	if !storeOK {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"components": map[string]interface{}{
			"store":     storeOK,
			"connected": h.Cache.Connected(),
			"effective": h.Cache.Healthy(),
		},
		"hit_rate":       stats.HitRate,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}

// HealthLive handles GET /health/live - liveness probe
func (h *AdminHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready - readiness probe
func (h *AdminHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithProbeTimeout(r)
	defer cancel()

	if !h.Cache.Ping(ctx) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "not_ready",
			"error":  "backing store unavailable",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// GetStats handles GET /admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Cache.Stats())
}

// ResetStats handles POST /admin/stats/reset
func (h *AdminHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.Cache.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateTag handles POST /admin/invalidate/{tag}
func (h *AdminHandler) InvalidateTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	if tag == "" {
		http.Error(w, "tag is required", http.StatusBadRequest)
		return
	}

	removed := h.Cache.InvalidateByTag(r.Context(), tag)
	logging.Op().Info("tag invalidated via admin API", "tag", tag, "keys", removed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"tag":     tag,
		"removed": removed,
	})
}

// Flush handles POST /admin/flush
func (h *AdminHandler) Flush(w http.ResponseWriter, r *http.Request) {
	ok := h.Cache.Flush(r.Context())
	logging.Op().Warn("cache flushed via admin API", "ok", ok)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"flushed": ok})
}

// Warm handles POST /admin/warm. The body is a YAML or JSON warm manifest.
func (h *AdminHandler) Warm(w http.ResponseWriter, r *http.Request) {
	if h.Warmer == nil {
		http.Error(w, "warming not configured", http.StatusNotImplemented)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "read manifest", http.StatusBadRequest)
		return
	}
	manifest, err := httpcache.ParseManifest(body)
	if err != nil {
		http.Error(w, "invalid manifest: "+err.Error(), http.StatusBadRequest)
		return
	}

	loaded, replayed := h.Warmer.Warm(r.Context(), manifest)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"loaded":   loaded,
		"replayed": replayed,
	})
}

// InspectKey handles GET /admin/keys/{key}
func (h *AdminHandler) InspectKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	exists := h.Cache.Exists(r.Context(), key)
	resp := map[string]interface{}{
		"key":    key,
		"exists": exists,
	}
	if exists {
		resp["ttl_seconds"] = h.Cache.TTLRemaining(r.Context(), key)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// DeleteKey handles DELETE /admin/keys/{key}
func (h *AdminHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	if !h.Cache.Delete(r.Context(), key) {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func contextWithProbeTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 2*time.Second)
}
