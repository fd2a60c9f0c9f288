package fetch

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest tracks a single upstream fetch that multiple callers may wait for.
type inFlightRequest struct {
	mu      sync.Mutex
	result  []byte
	err     error
	done    bool
	waiters []chan struct{} // Channels to notify waiters when result is ready
}

// requestCoalescer collapses concurrent fetches for the same request signature
// into one upstream call. Payloads are the JSON-encoded mapped results, so
// every waiter decodes the same bytes the leader cached.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer with the specified wait timeout.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo checks if a fetch for key is already in-flight. If yes, waits for its
// result and returns coalesced=true. If no, executes fn and registers the
// request. Respects context cancellation and timeout to prevent indefinite blocking.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() ([]byte, error)) (result []byte, coalesced bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if exists {
		notify := make(chan struct{})
		req.mu.Lock()
		if req.done {
			result, err = req.result, req.err
			req.mu.Unlock()
			rc.mu.Unlock()
			return result, true, err
		}
		req.waiters = append(req.waiters, notify)
		req.mu.Unlock()
		rc.mu.Unlock()

		waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
		defer cancel()
		select {
		case <-notify:
			req.mu.Lock()
			result, err = req.result, req.err
			req.mu.Unlock()
			return result, true, err
		case <-waitCtx.Done():
			return nil, true, waitCtx.Err()
		}
	}

	req = &inFlightRequest{waiters: make([]chan struct{}, 0)}
	rc.inFlight[key] = req
	rc.mu.Unlock()

	res, fnErr := fn()

	req.mu.Lock()
	req.result = res
	req.err = fnErr
	req.done = true
	waiters := req.waiters
	req.waiters = nil
	req.mu.Unlock()

	for _, notify := range waiters {
		close(notify)
	}
	rc.cleanup(key)

	return res, false, fnErr
}

// cleanup removes a completed request from the in-flight map.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
}
