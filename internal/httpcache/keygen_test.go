package httpcache

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	vary := VaryBy{Headers: []string{"Accept-Language"}, Query: []string{"page"}}

	r1 := httptest.NewRequest("GET", "/api/items?page=2", nil)
	r1.Header.Set("Accept-Language", "de")
	r2 := httptest.NewRequest("GET", "/api/items?page=2", nil)
	r2.Header.Set("Accept-Language", "de")

	k1 := deriveKey(r1, vary, nil)
	k2 := deriveKey(r2, vary, nil)
	if k1 != k2 {
		t.Fatalf("identical requests derived different keys: %q vs %q", k1, k2)
	}
	if k1 != "GET:/api/items:Accept-Language:de:page:2" {
		t.Fatalf("unexpected key %q", k1)
	}
}

func TestDeriveKey_VariedDimensionsChangeKey(t *testing.T) {
	vary := VaryBy{Headers: []string{"Accept-Language"}, Query: []string{"page"}}

	base := httptest.NewRequest("GET", "/api/items?page=1", nil)
	base.Header.Set("Accept-Language", "en")
	baseKey := deriveKey(base, vary, nil)

	otherHeader := httptest.NewRequest("GET", "/api/items?page=1", nil)
	otherHeader.Header.Set("Accept-Language", "fr")
	if deriveKey(otherHeader, vary, nil) == baseKey {
		t.Fatal("changing a varied header should change the key")
	}

	otherQuery := httptest.NewRequest("GET", "/api/items?page=2", nil)
	otherQuery.Header.Set("Accept-Language", "en")
	if deriveKey(otherQuery, vary, nil) == baseKey {
		t.Fatal("changing a varied query parameter should change the key")
	}

	otherPath := httptest.NewRequest("GET", "/api/other?page=1", nil)
	otherPath.Header.Set("Accept-Language", "en")
	if deriveKey(otherPath, vary, nil) == baseKey {
		t.Fatal("changing the path should change the key")
	}
}

func TestDeriveKey_UnvariedDimensionIgnored(t *testing.T) {
	vary := VaryBy{Query: []string{"page"}}

	r1 := httptest.NewRequest("GET", "/api/items?page=1&noise=a", nil)
	r2 := httptest.NewRequest("GET", "/api/items?page=1&noise=b", nil)
	if deriveKey(r1, vary, nil) != deriveKey(r2, vary, nil) {
		t.Fatal("unvaried query parameters must not affect the key")
	}
}

func TestDeriveKey_Principal(t *testing.T) {
	vary := VaryBy{Principal: true}
	principal := HeaderPrincipal("X-User-ID")

	alice := httptest.NewRequest("GET", "/me/settings", nil)
	alice.Header.Set("X-User-ID", "alice")
	bob := httptest.NewRequest("GET", "/me/settings", nil)
	bob.Header.Set("X-User-ID", "bob")

	ka := deriveKey(alice, vary, principal)
	kb := deriveKey(bob, vary, principal)
	if ka == kb {
		t.Fatal("distinct principals should derive distinct keys")
	}
	if ka != "GET:/me/settings:user:alice" {
		t.Fatalf("unexpected key %q", ka)
	}
}

func TestDeriveKey_LongKeyHashed(t *testing.T) {
	vary := VaryBy{Headers: []string{"X-Big"}}

	r := httptest.NewRequest("GET", "/api/items", nil)
	r.Header.Set("X-Big", strings.Repeat("v", 300))

	key := deriveKey(r, vary, nil)
	if !strings.HasPrefix(key, hashedKeyPrefix) {
		t.Fatalf("expected hashed key, got %q", key)
	}
	digest := strings.TrimPrefix(key, hashedKeyPrefix)
	if len(digest) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(digest))
	}
	for _, c := range digest {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("digest is not lowercase hex: %q", digest)
		}
	}

	// Hashing is deterministic.
	if deriveKey(r, vary, nil) != key {
		t.Fatal("hashed keys should be stable")
	}
}
