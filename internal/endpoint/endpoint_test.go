package endpoint

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient() *Client {
	opts := DefaultOptions()
	opts.BaseBackoff = time.Millisecond
	opts.MaxBackoff = 5 * time.Millisecond
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(opts, logger)
}

// End-to-end scenario 3: stub endpoint returns 429 three times then
// 200. Expect: one tile succeeds, Throttles=3, Retries=3, Errors=0.
func TestInvokeRetriesThrottleThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"featureClasses":[{"iri":"ship","score":0.9}]}}]}`))
	}))
	defer srv.Close()

	c := testClient()
	res := c.Invoke(context.Background(), srv.URL, []byte("tile-bytes"), "image/jpeg")

	if res.Kind != KindSuccess {
		t.Fatalf("expected success, got kind=%v err=%v", res.Kind, res.Err)
	}
	if res.Throttles != 3 {
		t.Errorf("Throttles = %d, want 3", res.Throttles)
	}
	if res.Retries != 3 {
		t.Errorf("Retries = %d, want 3", res.Retries)
	}
	if len(res.Features) != 1 {
		t.Errorf("expected 1 feature in output, got %d", len(res.Features))
	}
}

// End-to-end scenario 4: stub endpoint returns 500 for a tile after
// max retries exhausted; a 4xx (non-429, non-5xx) should instead fail
// permanently without exhausting retries.
func TestInvokePermanentFailureDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient()
	res := c.Invoke(context.Background(), srv.URL, []byte("tile-bytes"), "image/jpeg")

	if res.Kind != KindPermanent {
		t.Fatalf("expected permanent failure, got kind=%v", res.Kind)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for a permanent 4xx, got %d", calls)
	}
}

func TestInvokeExhaustsRetriesOnPersistentServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.MaxAttempts = 3
	opts.BaseBackoff = time.Millisecond
	opts.MaxBackoff = 2 * time.Millisecond
	c := New(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res := c.Invoke(context.Background(), srv.URL, []byte("tile-bytes"), "image/jpeg")
	if res.Kind != KindTransient {
		t.Fatalf("expected transient failure after exhausting retries, got kind=%v", res.Kind)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestInvokeOversizePayloadIsPermanentWithoutNetworkCall(t *testing.T) {
	c := testClient()
	c.opts.MaxPayloadSize = 10
	res := c.Invoke(context.Background(), "http://example.invalid", make([]byte, 100), "image/jpeg")
	if res.Kind != KindOversize {
		t.Fatalf("expected oversize failure, got kind=%v", res.Kind)
	}
}
