package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const validConfig = `{
  "dbPath": "./data/candles.db",
  "symbols": ["BTCUSDT"],
  "intervals": ["1h"],
  "bootstrap": {"startDate": "2021-01-01T00:00:00Z"},
  "rateLimit": {"requestsPerMinute": 1200, "maxConcurrent": 4, "retry": {"baseMs": 500, "maxMs": 30000, "maxRetries": 5}},
  "http": {"timeoutMs": 10000},
  "logLevel": "info"
}`

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "./data/candles.db", cfg.DBPath)
	assert.Equal(t, 1200, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "./config/known_gaps.yaml", cfg.KnownGapsPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadUnknownInterval(t *testing.T) {
	path := writeConfig(t, `{
		"dbPath": "x.db", "symbols": ["BTCUSDT"], "intervals": ["2w"],
		"bootstrap": {"startDate": "2021-01-01"},
		"rateLimit": {"requestsPerMinute": 10, "maxConcurrent": 1},
		"http": {"timeoutMs": 1000}, "logLevel": "info"
	}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadDefaultsRetryWhenAbsent(t *testing.T) {
	path := writeConfig(t, `{
		"dbPath": "x.db", "symbols": ["BTCUSDT"], "intervals": ["1h"],
		"bootstrap": {"startDate": "2021-01-01"},
		"rateLimit": {"requestsPerMinute": 10, "maxConcurrent": 1},
		"http": {"timeoutMs": 1000}, "logLevel": "info"
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultRetry, cfg.RateLimit.Retry)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `{
		"dbPath": "x.db", "symbols": ["BTCUSDT"], "intervals": ["1h"],
		"bootstrap": {"startDate": "2021-01-01"},
		"rateLimit": {"requestsPerMinute": 10, "maxConcurrent": 1},
		"http": {"timeoutMs": 1000}, "logLevel": "verbose"
	}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestStartTime(t *testing.T) {
	cfg := &Config{Bootstrap: BootstrapConfig{StartDate: "2021-01-01"}}
	ts, err := cfg.StartTime()
	require.NoError(t, err)
	assert.Equal(t, 2021, ts.Year())
}
