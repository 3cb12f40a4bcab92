package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultModelName      = "Qwen3-Embedding-8B"
	DefaultModelVersion   = "v1"
	DefaultRequestTimeout = 45 * time.Second
	DefaultMaxAttempts    = 3
	DefaultMaxInFlight    = 4

	retryBaseDelay = 250 * time.Millisecond
)

// ErrServiceUnavailable wraps every transport-level embedding failure so
// callers can distinguish a flaky service from a malformed response.
var ErrServiceUnavailable = errors.New("embedding service unavailable")

// ServiceError is the typed failure surfaced for embedding calls. A failed
// call never yields a zeroed vector.
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("embedding service status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("embedding service: %s", e.Message)
}

func (e *ServiceError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrServiceUnavailable
}

type Options struct {
	Endpoint       string
	ModelName      string
	ModelVersion   string
	RequestTimeout time.Duration
	MaxAttempts    int
	MaxInFlight    int64
}

// Client calls the external embedding HTTP service with bounded concurrency,
// a per-call timeout, and limited retry with exponential backoff.
type Client struct {
	opts    Options
	http    *http.Client
	inFlght *semaphore.Weighted
	logger  zerolog.Logger
}

func NewClient(opts Options, logger zerolog.Logger) *Client {
	normalized := normalizeOptions(opts)
	return &Client{
		opts:    normalized,
		http:    &http.Client{},
		inFlght: semaphore.NewWeighted(normalized.MaxInFlight),
		logger:  logger,
	}
}

// ModelName reports the model identity used for cache keying.
func (c *Client) ModelName() string { return c.opts.ModelName }

// ModelVersion reports the model version used for cache keying.
func (c *Client) ModelVersion() string { return c.opts.ModelVersion }

type embedRequest struct {
	Texts []string `json:"texts,omitempty"`
	Input []string `json:"input,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the vector for one text. Transient failures are retried with
// exponential backoff up to the configured attempt count, then surfaced as a
// *ServiceError.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if c == nil {
		return nil, fmt.Errorf("embedding client is not initialized")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vector, err := c.embedOnce(ctx, text)
		if err == nil {
			return vector, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", c.opts.MaxAttempts).
			Msg("embedding request failed")
	}

	return nil, lastErr
}

// embedOnce holds an in-flight slot only for the duration of one request.
// The slot is free while a retrying call sleeps its backoff.
func (c *Client) embedOnce(ctx context.Context, text string) ([]float64, error) {
	if err := c.inFlght.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.inFlght.Release(1)
	return c.requestOne(ctx, text)
}

func (c *Client) requestOne(ctx context.Context, text string) ([]float64, error) {
	payload := embedRequest{Texts: []string{text}}
	if parsed, err := url.Parse(c.opts.Endpoint); err == nil && strings.HasSuffix(parsed.Path, "/v1/embeddings") {
		payload = embedRequest{Input: []string{text}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ServiceError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Message: fmt.Sprintf("read response: %v", err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ServiceError{Message: fmt.Sprintf("decode response: %v", err), Err: err}
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) != 1 {
		return nil, &ServiceError{Message: fmt.Sprintf("expected 1 vector, got %d", len(vectors))}
	}

	vector := vectors[0]
	if len(vector) == 0 {
		return nil, &ServiceError{Message: "response vector is empty"}
	}
	for i, value := range vector {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, &ServiceError{Message: fmt.Sprintf("vector has non-finite value at index %d", i)}
		}
	}
	return vector, nil
}

func normalizeOptions(opts Options) Options {
	normalized := opts
	if strings.TrimSpace(normalized.Endpoint) == "" {
		normalized.Endpoint = DefaultEndpoint
	}
	normalized.Endpoint = normalizeEndpoint(normalized.Endpoint)
	if strings.TrimSpace(normalized.ModelName) == "" {
		normalized.ModelName = DefaultModelName
	}
	if strings.TrimSpace(normalized.ModelVersion) == "" {
		normalized.ModelVersion = DefaultModelVersion
	}
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = DefaultRequestTimeout
	}
	if normalized.MaxAttempts <= 0 {
		normalized.MaxAttempts = DefaultMaxAttempts
	}
	if normalized.MaxInFlight <= 0 {
		normalized.MaxInFlight = DefaultMaxInFlight
	}
	return normalized
}

func normalizeEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}
