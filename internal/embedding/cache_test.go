package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"  Harbor   Strike  ", "harbor strike"},
		{"Harbor\tStrike\n2026", "harbor strike 2026"},
		{"", ""},
		{"   ", ""},
		{"MiXeD Case", "mixed case"},
	}
	for _, tc := range cases {
		if got := NormalizeText(tc.in); got != tc.want {
			t.Fatalf("NormalizeText(%q): got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestCacheVector_MemoryHitSkipsService(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.25,0.75]]}`))
	}))
	defer server.Close()

	client := NewClient(Options{
		Endpoint:       server.URL + "/embed",
		ModelName:      "test-model",
		ModelVersion:   "v1",
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    1,
		MaxInFlight:    1,
	}, zerolog.Nop())

	cache := NewCache(nil, client)

	first, err := cache.Vector(context.Background(), "Harbor Strike")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Differently spaced and cased text normalizes to the same key.
	second, err := cache.Vector(context.Background(), "  harbor   strike ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls.Load() != 1 {
		t.Fatalf("expected 1 service call, got %d", calls.Load())
	}
	if len(first) != len(second) || first[0] != second[0] {
		t.Fatalf("expected identical cached vector, got %v vs %v", first, second)
	}
}

func TestCacheVector_ReturnedSliceIsACopy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.9]]}`))
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL + "/embed", MaxAttempts: 1}, zerolog.Nop())
	cache := NewCache(nil, client)

	first, err := cache.Vector(context.Background(), "harbor strike")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first[0] = 42

	second, err := cache.Vector(context.Background(), "harbor strike")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second[0] == 42 {
		t.Fatalf("cached vector was mutated through the returned slice")
	}
}

func TestCacheVector_EmptyAfterNormalization(t *testing.T) {
	t.Parallel()

	client := NewClient(Options{Endpoint: "http://127.0.0.1:1/embed", MaxAttempts: 1}, zerolog.Nop())
	cache := NewCache(nil, client)

	if _, err := cache.Vector(context.Background(), "   \t\n "); err == nil {
		t.Fatalf("expected error for empty normalized input")
	}
}

func TestCacheVector_ServiceFailureIsNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer server.Close()

	client := NewClient(Options{Endpoint: server.URL + "/embed", MaxAttempts: 1}, zerolog.Nop())
	cache := NewCache(nil, client)

	if _, err := cache.Vector(context.Background(), "harbor strike"); err == nil {
		t.Fatalf("expected first call to fail")
	}

	vector, err := cache.Vector(context.Background(), "harbor strike")
	if err != nil {
		t.Fatalf("expected second call to succeed: %v", err)
	}
	if len(vector) != 2 {
		t.Fatalf("unexpected vector: %v", vector)
	}
}
