package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(endpoint string, maxAttempts int) *Client {
	return NewClient(Options{
		Endpoint:       endpoint,
		ModelName:      "test-model",
		ModelVersion:   "v1",
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    maxAttempts,
		MaxInFlight:    2,
	}, zerolog.Nop())
}

func TestClientEmbed_NativeResponseShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	client := testClient(server.URL+"/embed", 1)
	vector, err := client.Embed(context.Background(), "harbor strike")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 3 || vector[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", vector)
	}
}

func TestClientEmbed_OpenAIResponseShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5,0.5]}]}`))
	}))
	defer server.Close()

	client := testClient(server.URL+"/v1/embeddings", 1)
	vector, err := client.Embed(context.Background(), "harbor strike")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 2 || vector[1] != 0.5 {
		t.Fatalf("unexpected vector: %v", vector)
	}
}

func TestClientEmbed_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "temporary", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer server.Close()

	client := testClient(server.URL+"/embed", 3)
	vector, err := client.Embed(context.Background(), "harbor strike")
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if len(vector) != 2 {
		t.Fatalf("unexpected vector: %v", vector)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestClientEmbed_BackoffReleasesConcurrencySlot(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	firstHit := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			close(firstHit)
			http.Error(w, "temporary", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
	}))
	defer server.Close()

	client := NewClient(Options{
		Endpoint:       server.URL + "/embed",
		ModelName:      "test-model",
		ModelVersion:   "v1",
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    3,
		MaxInFlight:    1,
	}, zerolog.Nop())

	retrying := make(chan error, 1)
	go func() {
		_, err := client.Embed(context.Background(), "harbor strike")
		retrying <- err
	}()

	<-firstHit

	// The first call is sleeping its backoff. With a single slot, this call
	// can only finish before that backoff expires if the sleeper let go.
	ctx, cancel := context.WithTimeout(context.Background(), retryBaseDelay*3/4)
	defer cancel()
	if _, err := client.Embed(ctx, "mayor race"); err != nil {
		t.Fatalf("healthy call blocked behind a backing-off call: %v", err)
	}

	if err := <-retrying; err != nil {
		t.Fatalf("retrying call failed: %v", err)
	}
}

func TestClientEmbed_ExhaustedRetriesSurfaceServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(server.URL+"/embed", 2)
	_, err := client.Embed(context.Background(), "harbor strike")
	if err == nil {
		t.Fatalf("expected error after exhausted retries")
	}

	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *ServiceError, got %T: %v", err, err)
	}
	if serviceErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status code: %d", serviceErr.StatusCode)
	}
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected error to unwrap to ErrServiceUnavailable")
	}
}

func TestClientEmbed_RejectsNonFiniteValues(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[1,"NaN"]]}`))
	}))
	defer server.Close()

	client := testClient(server.URL+"/embed", 1)
	if _, err := client.Embed(context.Background(), "harbor strike"); err == nil {
		t.Fatalf("expected error for malformed vector")
	}
}

func TestClientEmbed_EmptyInput(t *testing.T) {
	t.Parallel()

	client := testClient("http://127.0.0.1:1/embed", 1)
	if _, err := client.Embed(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestNormalizeEndpoint_AppendsDefaultPath(t *testing.T) {
	t.Parallel()

	if got := normalizeEndpoint("http://localhost:8844"); got != "http://localhost:8844/embed" {
		t.Fatalf("unexpected endpoint: %q", got)
	}
	if got := normalizeEndpoint("http://localhost:8844/v1/embeddings"); got != "http://localhost:8844/v1/embeddings" {
		t.Fatalf("expected explicit path to be preserved, got %q", got)
	}
}
