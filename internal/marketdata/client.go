// Package marketdata is the rate-limited, circuit-broken Binance REST
// client. It is grounded in the teacher's internal/providers/adapters
// (github.com/sawpanic/cryptorun) HTTP-fetcher shape and raw-kline JSON
// parsing, with the teacher's hand-rolled guards.RateLimiter and
// guards.CircuitBreaker swapped for the ecosystem equivalents the rest of
// the example pack favors: golang.org/x/time/rate for the token bucket,
// golang.org/x/sync/semaphore for the concurrency gate, and
// github.com/sony/gobreaker for the circuit breaker. Retry/backoff and
// Retry-After handling are new, grounded on the teacher's CircuitBreaker
// open/half-open state machine and written in the same register.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/apperrors"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/config"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/metrics"
)

const (
	baseURL = "https://api.binance.com/api/v3"
	// MaxAPILimit is Binance's maximum klines-per-request.
	MaxAPILimit = 1000
)

// Kline is one candle as returned by Binance's /klines endpoint, parsed
// from its positional JSON tuple.
type Kline struct {
	OpenTime            int64
	Open                float64
	High                float64
	Low                 float64
	Close               float64
	Volume              float64
	CloseTime           int64
	QuoteAssetVolume    float64
	Trades              int64
	TakerBuyBaseVolume  float64
	TakerBuyQuoteVolume float64
}

// Client fetches klines from Binance behind a token bucket, a concurrency
// gate, and a circuit breaker, retrying transient failures with jittered
// exponential backoff.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	gate       *semaphore.Weighted
	breaker    *gobreaker.CircuitBreaker
	retry      config.RetryConfig
	baseURL    string
	rng        *rand.Rand
	metrics    *metrics.Metrics
}

// Option customizes a Client at construction time.
type Option func(*Client)

// WithBaseURL overrides the Binance REST base URL, used by tests to point
// the client at an httptest server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithMetrics reports request counts and retries to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New builds a Client from the pipeline's rate-limit configuration.
func New(cfg config.RateLimitConfig, httpTimeoutMs int, opts ...Option) *Client {
	st := gobreaker.Settings{
		Name:        "binance",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	c := &Client{
		httpClient: &http.Client{Timeout: time.Duration(httpTimeoutMs) * time.Millisecond},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.MaxConcurrent),
		gate:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		breaker:    gobreaker.NewCircuitBreaker(st),
		retry:      cfg.Retry,
		baseURL:    baseURL,
		rng:        rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKlines fetches up to limit candles for (symbol, interval) with
// open_time in [startMs, endMs]; either bound may be nil to leave it
// unconstrained. It blocks on the token bucket and concurrency gate,
// retries transient failures per the configured backoff, and surfaces
// permanent failures immediately.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, startMs, endMs *int64, limit int) ([]Kline, error) {
	if limit <= 0 || limit > MaxAPILimit {
		limit = MaxAPILimit
	}

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.gate.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/klines?symbol=%s&interval=%s&limit=%d", c.baseURL, symbol, interval, limit)
	if startMs != nil {
		url += fmt.Sprintf("&startTime=%d", *startMs)
	}
	if endMs != nil {
		url += fmt.Sprintf("&endTime=%d", *endMs)
	}

	var attempt int
	for {
		body, err := c.doOnce(ctx, url)
		if err == nil {
			return parseKlines(body)
		}

		if !apperrors.Retryable(err) || attempt >= c.retry.MaxRetries {
			return nil, err
		}

		if c.metrics != nil {
			c.metrics.HTTPRetries.Inc()
		}

		wait := backoffFor(err, c.retry, attempt, c.rng)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		attempt++
	}
}

// doOnce performs one HTTP round trip through the circuit breaker,
// classifying the response into a typed transient/permanent error.
func (c *Client) doOnce(ctx context.Context, url string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &apperrors.PermanentHTTPError{StatusCode: 0, Body: err.Error()}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &apperrors.TransientHTTPError{StatusCode: 0, Cause: err}
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, &apperrors.TransientHTTPError{StatusCode: resp.StatusCode, Cause: readErr}
		}

		c.observeStatus(resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot || resp.StatusCode >= 500:
			return nil, &apperrors.TransientHTTPError{
				StatusCode: resp.StatusCode,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				Cause:      fmt.Errorf("binance returned %d", resp.StatusCode),
			}
		default:
			return nil, &apperrors.PermanentHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.observeStatus(0)
			return nil, &apperrors.TransientHTTPError{Cause: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}

// observeStatus records one HTTP attempt by status class (2xx, 4xx, 5xx,
// or "breaker_open" when the circuit breaker short-circuited the call).
func (c *Client) observeStatus(statusCode int) {
	if c.metrics == nil {
		return
	}
	class := "breaker_open"
	switch {
	case statusCode >= 200 && statusCode < 300:
		class = "2xx"
	case statusCode >= 400 && statusCode < 500:
		class = "4xx"
	case statusCode >= 500:
		class = "5xx"
	}
	c.metrics.HTTPRequests.WithLabelValues(class).Inc()
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// backoffFor honors a server Retry-After if present, otherwise computes
// clamp(base*2^attempt*(0.75+U(0,0.5)), baseMs, maxMs).
func backoffFor(err error, retry config.RetryConfig, attempt int, rng *rand.Rand) time.Duration {
	var transient *apperrors.TransientHTTPError
	if te, ok := err.(*apperrors.TransientHTTPError); ok {
		transient = te
		if transient.RetryAfter > 0 {
			return transient.RetryAfter
		}
	}

	baseMs := float64(retry.BaseMs)
	maxMs := float64(retry.MaxMs)
	jitter := 0.75 + rng.Float64()*0.5
	ms := baseMs * math.Pow(2, float64(attempt)) * jitter
	if ms < baseMs {
		ms = baseMs
	}
	if ms > maxMs {
		ms = maxMs
	}
	return time.Duration(ms) * time.Millisecond
}

// parseKlines decodes Binance's array-of-arrays kline payload into typed
// records, tolerating both string and numeric JSON encodings for the
// numeric fields the way Binance's API does across endpoints.
func parseKlines(body []byte) ([]Kline, error) {
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &apperrors.PermanentHTTPError{StatusCode: 0, Body: "malformed klines payload: " + err.Error()}
	}

	out := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 11 {
			continue
		}
		out = append(out, Kline{
			OpenTime:            toInt64(row[0]),
			Open:                toFloat64(row[1]),
			High:                toFloat64(row[2]),
			Low:                 toFloat64(row[3]),
			Close:               toFloat64(row[4]),
			Volume:              toFloat64(row[5]),
			CloseTime:           toInt64(row[6]),
			QuoteAssetVolume:    toFloat64(row[7]),
			Trades:              toInt64(row[8]),
			TakerBuyBaseVolume:  toFloat64(row[9]),
			TakerBuyQuoteVolume: toFloat64(row[10]),
		})
	}
	return out, nil
}

func toFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	}
	return 0
}

func toInt64(v interface{}) int64 {
	switch val := v.(type) {
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	case float64:
		return int64(val)
	}
	return 0
}
