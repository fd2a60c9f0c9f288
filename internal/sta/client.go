package sta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/mholstad/station-dashboard-service/internal/circuitbreaker"
	"github.com/mholstad/station-dashboard-service/internal/observability"
)

// API is the SensorThings access boundary the fetch layer depends on.
// GetCollection retrieves one collection page for path (e.g. "Things",
// "Datastreams(7)/Observations") with the given query parameters.
type API interface {
	GetCollection(ctx context.Context, path string, q Query) (Envelope, error)
}

var (
	ErrNotFound        = errors.New("entity not found")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrTimedOut        = errors.New("request timed out")
)

// Envelope is the standard SensorThings collection response: a value array
// plus an optional server-side total when $count=true was requested.
type Envelope struct {
	Count *int64            `json:"@iot.count"`
	Value []json.RawMessage `json:"value"`
}

// Client calls a SensorThings-style REST API with per-call timeouts, retry
// with exponential backoff on transient failures, and an optional circuit
// breaker.
type Client struct {
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewClient creates a Client with default retry policy (3 attempts,
// 100ms base backoff, 2s cap).
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	return NewClientWithRetry(baseURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewClientWithRetry creates a Client with an explicit retry policy.
func NewClientWithRetry(baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}
	return &Client{
		baseURL:        baseURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client:         &http.Client{Timeout: timeout},
	}, nil
}

// SetCircuitBreaker installs a breaker guarding every upstream call.
func (c *Client) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// GetCollection fetches one collection page, retrying transient failures.
func (c *Client) GetCollection(ctx context.Context, path string, q Query) (Envelope, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return Envelope{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		var env Envelope
		call := func() error {
			var err error
			env, err = c.callAPI(ctx, path, q)
			return err
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return env, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return Envelope{}, err
		}
	}

	return Envelope{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *Client) callAPI(ctx context.Context, path string, q Query) (Envelope, error) {
	start := time.Now()
	endpoint := endpointLabel(path)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + "/" + path
	if enc := q.Encode(); enc != "" {
		reqURL += "?" + enc
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return Envelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) {
			return Envelope{}, fmt.Errorf("%w: %v", ErrTimedOut, err)
		}
		if errors.Is(err, context.Canceled) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := checkStatus(resp.StatusCode); err != nil {
		return Envelope{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Envelope{}, fmt.Errorf("read response body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse response: %w", err)
	}
	return env, nil
}

func checkStatus(code int) error {
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, code)
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, code)
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) || errors.Is(err, ErrTimedOut) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "connection refused")
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// endpointLabel reduces a collection path to a stable metric label,
// e.g. "Datastreams(7)/Observations" -> "Datastreams/Observations".
func endpointLabel(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if idx := strings.IndexByte(s, '('); idx >= 0 {
			segs[i] = s[:idx]
		}
	}
	return strings.Join(segs, "/")
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
