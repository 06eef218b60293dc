package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDaemonBaseURL(t *testing.T) {
	cases := map[string]string{
		":8080":                 "http://localhost:8080",
		"127.0.0.1:9000":        "http://127.0.0.1:9000",
		"http://cache.internal": "http://cache.internal",
	}
	for addr, want := range cases {
		if got := daemonBaseURL(addr); got != want {
			t.Fatalf("daemonBaseURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestFetchStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/stats" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hits":40,"misses":10,"sets":12,"deletes":3,"errors":0,"hit_rate":80}`))
	}))
	defer srv.Close()

	stats, err := fetchStats(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetchStats failed: %v", err)
	}
	if stats.Hits != 40 || stats.Misses != 10 || stats.HitRate != 80 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestFetchStats_DaemonDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := fetchStats(context.Background(), url); err == nil {
		t.Fatal("expected an error when the daemon is unreachable")
	}
}
