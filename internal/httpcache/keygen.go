// Package httpcache provides net/http middleware that memoizes idempotent
// JSON responses in a cache.Cache and invalidates them by tag after
// mutations. Cache failures never surface to clients; the worst observable
// effect of an outage is a miss.
package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// maxKeyLength bounds derived cache keys. Longer keys are replaced with a
// fixed-width SHA-256 digest so vary-by dimensions with unbounded values
// cannot produce unbounded storage keys.
const maxKeyLength = 200

// hashedKeyPrefix marks keys that were replaced by their digest.
const hashedKeyPrefix = "hashed:"

// KeyGenerator overrides the default cache key derivation.
type KeyGenerator func(r *http.Request) string

// VaryBy selects the request dimensions folded into the cache key, so that
// distinct values are cached separately.
type VaryBy struct {
	// Headers lists header names whose values partition the cache.
	Headers []string
	// Query lists query parameter names whose values partition the cache.
	Query []string
	// Principal partitions the cache per authenticated principal. Requires
	// a Principal extractor on the middleware Config.
	Principal bool
}

// deriveKey builds the default cache key: method and path, then each
// vary-by dimension present on the request as "name:value" in declared
// order. Keys beyond maxKeyLength collapse to a SHA-256 digest.
func deriveKey(r *http.Request, vary VaryBy, principal func(*http.Request) string) string {
	parts := []string{r.Method, r.URL.Path}
	for _, name := range vary.Headers {
		if v := r.Header.Get(name); v != "" {
			parts = append(parts, name, v)
		}
	}
	if len(vary.Query) > 0 {
		q := r.URL.Query()
		for _, name := range vary.Query {
			if v := q.Get(name); v != "" {
				parts = append(parts, name, v)
			}
		}
	}
	if vary.Principal && principal != nil {
		if p := principal(r); p != "" {
			parts = append(parts, "user", p)
		}
	}
	key := strings.Join(parts, ":")
	if len(key) > maxKeyLength {
		sum := sha256.Sum256([]byte(key))
		return hashedKeyPrefix + hex.EncodeToString(sum[:])
	}
	return key
}

// HeaderPrincipal returns a principal extractor that reads the given
// request header, for deployments that terminate auth upstream and forward
// the subject in a header.
func HeaderPrincipal(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(name)
	}
}
