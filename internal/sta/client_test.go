package sta

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mholstad/station-dashboard-service/internal/circuitbreaker"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClientWithRetry(url, 2*time.Second, 3, time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewClientWithRetry() error = %v", err)
	}
	return c
}

// TestClient_GetCollection_Success verifies envelope decoding including the
// @iot.count total.
func TestClient_GetCollection_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/Things" {
			t.Errorf("path = %q, want /Things", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"@iot.count": 12, "value": [{"@iot.id": 1}, {"@iot.id": 2}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	env, err := c.GetCollection(context.Background(), "Things", Query{Top: 2, Count: true})
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	if env.Count == nil || *env.Count != 12 {
		t.Errorf("Count = %v, want 12", env.Count)
	}
	if len(env.Value) != 2 {
		t.Errorf("len(Value) = %d, want 2", len(env.Value))
	}
}

// TestClient_GetCollection_QueryString verifies the rendered query reaches
// the server with %20-escaped parameters.
func TestClient_GetCollection_QueryString(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"value": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetCollection(context.Background(), "Datastreams(7)/Observations", Query{
		Top:     50,
		OrderBy: "phenomenonTime",
		Desc:    true,
		Count:   true,
	})
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	want := "$top=50&$orderby=phenomenonTime%20desc&$count=true"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

// TestClient_GetCollection_RetriesTransientFailure verifies that 5xx
// responses are retried and a later success wins.
func TestClient_GetCollection_RetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"value": [{"@iot.id": 1}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	env, err := c.GetCollection(context.Background(), "Things", Query{})
	if err != nil {
		t.Fatalf("GetCollection() error = %v, want success after retries", err)
	}
	if len(env.Value) != 1 {
		t.Errorf("len(Value) = %d, want 1", len(env.Value))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

// TestClient_GetCollection_NotFoundNotRetried verifies that 404 fails fast.
func TestClient_GetCollection_NotFoundNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetCollection(context.Background(), "Things(999)/Datastreams", Query{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetCollection() error = %v, want ErrNotFound", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server calls = %d, want 1 (no retry on 404)", got)
	}
}

// TestClient_GetCollection_ExhaustedRetries verifies the wrapped error after
// all attempts fail.
func TestClient_GetCollection_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetCollection(context.Background(), "Things", Query{})
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("GetCollection() error = %v, want ErrUpstreamFailure", err)
	}
}

// TestClient_GetCollection_Timeout verifies that a stalled upstream surfaces
// ErrTimedOut instead of hanging.
func TestClient_GetCollection_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"value": []}`))
	}))
	defer srv.Close()

	c, err := NewClientWithRetry(srv.URL, 50*time.Millisecond, 1, time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("NewClientWithRetry() error = %v", err)
	}
	_, err = c.GetCollection(context.Background(), "Things", Query{})
	if err == nil {
		t.Fatal("GetCollection() error = nil, want timeout")
	}
}

// TestClient_CircuitBreakerOpens verifies that repeated failures open the
// breaker and subsequent calls are rejected without touching the server.
func TestClient_CircuitBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Cooldown:         time.Hour,
		Component:        "sensor_api",
	})
	c.SetCircuitBreaker(cb)

	_, _ = c.GetCollection(context.Background(), "Things", Query{})
	if cb.State() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open after repeated failures", cb.State())
	}

	before := atomic.LoadInt32(&calls)
	_, err := c.GetCollection(context.Background(), "Things", Query{})
	if !errors.Is(err, circuitbreaker.ErrOpen) {
		t.Fatalf("GetCollection() error = %v, want ErrOpen", err)
	}
	if after := atomic.LoadInt32(&calls); after != before {
		t.Errorf("server calls while open = %d, want 0", after-before)
	}
}

// TestClient_CorrelationIDPropagated verifies the X-Correlation-ID header is
// forwarded from the request context.
func TestClient_CorrelationIDPropagated(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(`{"value": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.WithValue(context.Background(), "correlation_id", "abc-123")
	if _, err := c.GetCollection(ctx, "Things", Query{}); err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	if gotHeader != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want abc-123", gotHeader)
	}
}

// TestNewClient_InvalidBaseURL verifies constructor validation.
func TestNewClient_InvalidBaseURL(t *testing.T) {
	if _, err := NewClient("", time.Second); err == nil {
		t.Error("NewClient(\"\") error = nil, want error")
	}
	if _, err := NewClient("not-a-url", time.Second); err == nil {
		t.Error("NewClient(not-a-url) error = nil, want error")
	}
}
