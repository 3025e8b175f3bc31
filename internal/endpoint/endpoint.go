// Package endpoint implements the remote inference endpoint client
// from spec §4.E: encode a tile, POST it, parse the GeoJSON response,
// retrying throttled/transient failures with exponential backoff.
//
// Per spec §9's redesign note, failures are modeled as an explicit
// Result with an error Kind rather than driving retry from exception
// catching; the caller (region workflow) inspects Kind, never a type
// switch on wrapped errors.
package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/mumuon/geovision-runner/internal/model"
)

// Kind classifies how a tile invocation ended, driving the region
// workflow's error-budget accounting (spec §7).
type Kind int

const (
	KindSuccess Kind = iota
	KindThrottled
	KindTransient
	KindPermanent
	KindOversize
)

// Result is the outcome of one tile invocation attempt.
type Result struct {
	Kind     Kind
	Features []*model.Feature
	Err      error
	Attempts int
	Throttles int
	Retries  int
}

// Options tunes the retry/backoff/size parameters, all spec §4.E
// defaults kept as overridable fields.
type Options struct {
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	BackoffFactor  float64
	JitterFraction float64
	MaxBackoff     time.Duration
	MaxPayloadSize int64
}

// DefaultOptions returns spec §4.E's literal defaults.
func DefaultOptions() Options {
	return Options{
		DialTimeout:    10 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxAttempts:    5,
		BaseBackoff:    200 * time.Millisecond,
		BackoffFactor:  2,
		JitterFraction: 0.25,
		MaxBackoff:     10 * time.Second,
		MaxPayloadSize: 6 * 1024 * 1024,
	}
}

// Client invokes a single model endpoint. One Client is shared across
// every tile of a region; the bounded worker pool lives in the region
// workflow (spec §4.E "concurrency" paragraph), not here.
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
	rng        *rand.Rand
}

// New constructs a Client tuned per opts, with an http.Transport
// matching the teacher's s3.go connection tuning idiom
// (bounded idle connections per host).
func New(opts Options, logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 16,
		DialContext: (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: opts.RequestTimeout},
		opts:       opts,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Invoke POSTs body (already-encoded tile bytes) to the endpoint at
// url, retrying throttled/transient failures per opts. contentType is
// the Content-Type matching the tile's format (spec §6).
func (c *Client) Invoke(ctx context.Context, url string, body []byte, contentType string) Result {
	if int64(len(body)) >= c.opts.MaxPayloadSize {
		return Result{Kind: KindOversize, Err: fmt.Errorf("tile payload %d bytes exceeds limit %d", len(body), c.opts.MaxPayloadSize)}
	}

	var lastErr error
	throttles, retries := 0, 0

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		features, kind, err := c.attempt(ctx, url, body, contentType)
		switch kind {
		case KindSuccess:
			return Result{Kind: KindSuccess, Features: features, Attempts: attempt, Throttles: throttles, Retries: retries}
		case KindPermanent, KindOversize:
			return Result{Kind: kind, Err: err, Attempts: attempt, Throttles: throttles, Retries: retries}
		case KindThrottled:
			throttles++
		case KindTransient:
		}
		lastErr = err

		if attempt == c.opts.MaxAttempts {
			break
		}
		retries++
		delay := c.backoff(attempt)
		c.logger.Debug("retrying tile invocation", "attempt", attempt, "delay", delay, "kind", kind)
		select {
		case <-ctx.Done():
			return Result{Kind: KindTransient, Err: ctx.Err(), Attempts: attempt, Throttles: throttles, Retries: retries}
		case <-time.After(delay):
		}
	}

	return Result{Kind: KindTransient, Err: lastErr, Attempts: c.opts.MaxAttempts, Throttles: throttles, Retries: retries}
}

func (c *Client) attempt(ctx context.Context, url string, body []byte, contentType string) ([]*model.Feature, Kind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, KindPermanent, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, KindTransient, err
		}
		return nil, KindTransient, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, KindTransient, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		features, err := model.FeaturesFromGeoJSON(data)
		if err != nil {
			return nil, KindPermanent, fmt.Errorf("parse response: %w", err)
		}
		return features, KindSuccess, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, KindThrottled, fmt.Errorf("throttled: %s", resp.Status)
	case resp.StatusCode >= 500:
		return nil, KindTransient, fmt.Errorf("server error: %s", resp.Status)
	default:
		return nil, KindPermanent, fmt.Errorf("endpoint error: %s", resp.Status)
	}
}

// backoff computes exponential-backoff-with-jitter for attempt
// (1-indexed), per spec §4.E: base 200ms, factor 2, jitter ±25%, cap
// 10s.
func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.opts.BaseBackoff) * pow(c.opts.BackoffFactor, attempt-1)
	if d > float64(c.opts.MaxBackoff) {
		d = float64(c.opts.MaxBackoff)
	}
	jitter := d * c.opts.JitterFraction * (2*c.rng.Float64() - 1)
	result := time.Duration(d + jitter)
	if result < 0 {
		result = 0
	}
	return result
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
