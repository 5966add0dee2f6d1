package marketdata

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/apperrors"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/config"
)

func sampleRow(openTime int64) []interface{} {
	return []interface{}{
		float64(openTime), "100.0", "101.0", "99.0", "100.5", "10.0",
		float64(openTime + 59999), "1005.0", float64(5), "4.0", "402.0", "0",
	}
}

func TestGetKlinesParsesSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := [][]interface{}{sampleRow(1000), sampleRow(61000)}
		body, _ := json.Marshal(rows)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	defer srv.Close()

	c := New(config.RateLimitConfig{RequestsPerMinute: 1200, MaxConcurrent: 2, Retry: config.RetryConfig{BaseMs: 10, MaxMs: 100, MaxRetries: 2}}, 5000, WithBaseURL(srv.URL))

	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", nil, nil, 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, int64(1000), klines[0].OpenTime)
	assert.InDelta(t, 100.5, klines[0].Close, 1e-9)
	assert.Equal(t, int64(5), klines[0].Trades)
}

func TestGetKlinesRetriesOn500ThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rows := [][]interface{}{sampleRow(1000)}
		body, _ := json.Marshal(rows)
		w.Write(body)
	}))
	defer srv.Close()

	c := New(config.RateLimitConfig{RequestsPerMinute: 1200, MaxConcurrent: 2, Retry: config.RetryConfig{BaseMs: 5, MaxMs: 50, MaxRetries: 5}}, 5000, WithBaseURL(srv.URL))

	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", nil, nil, 1)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.Equal(t, 3, calls)
}

func TestGetKlinesRetriesOn418ThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		rows := [][]interface{}{sampleRow(1000)}
		body, _ := json.Marshal(rows)
		w.Write(body)
	}))
	defer srv.Close()

	c := New(config.RateLimitConfig{RequestsPerMinute: 1200, MaxConcurrent: 2, Retry: config.RetryConfig{BaseMs: 5, MaxMs: 50, MaxRetries: 5}}, 5000, WithBaseURL(srv.URL))

	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", nil, nil, 1)
	require.NoError(t, err, "HTTP 418 must be classified transient and retried, not surfaced as a permanent error")
	require.Len(t, klines, 1)
	assert.Equal(t, 2, calls)
}

func TestGetKlinesPermanentErrorDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := New(config.RateLimitConfig{RequestsPerMinute: 1200, MaxConcurrent: 2, Retry: config.RetryConfig{BaseMs: 5, MaxMs: 50, MaxRetries: 5}}, 5000, WithBaseURL(srv.URL))

	_, err := c.GetKlines(context.Background(), "NOPE", "1m", nil, nil, 1)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetKlinesExhaustsRetriesAndFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(config.RateLimitConfig{RequestsPerMinute: 1200, MaxConcurrent: 2, Retry: config.RetryConfig{BaseMs: 2, MaxMs: 5, MaxRetries: 2}}, 5000, WithBaseURL(srv.URL))

	_, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", nil, nil, 1)
	require.Error(t, err)
}

func TestBackoffForHonorsRetryAfter(t *testing.T) {
	err := &apperrors.TransientHTTPError{RetryAfter: 2 * time.Second}
	wait := backoffFor(err, config.RetryConfig{BaseMs: 500, MaxMs: 30000, MaxRetries: 5}, 0, rand.New(rand.NewSource(1)))
	assert.Equal(t, 2*time.Second, wait)
}

func TestBackoffForClampsToMax(t *testing.T) {
	wait := backoffFor(nil, config.RetryConfig{BaseMs: 500, MaxMs: 1000, MaxRetries: 5}, 10, rand.New(rand.NewSource(1)))
	assert.LessOrEqual(t, wait, 1000*time.Millisecond)
}
