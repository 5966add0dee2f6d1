// Package config loads and validates the pipeline's JSON configuration file.
// The wire format (JSON, the exact keys below) is mandated by the
// specification itself, so this loader uses encoding/json rather than the
// teacher's gopkg.in/yaml.v3 (reserved here for the known-gap registry,
// whose format is not prescribed by the spec — see internal/knowngaps).
// The cascading Validate() shape follows the teacher's
// internal/config/providers.go: ProvidersConfig.Validate() delegating down
// to ProviderConfig.Validate(name), BackoffConfig.Validate(), etc.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/apperrors"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/interval"
)

// Config is the root configuration document, matching the spec's external
// interface section key-for-key.
type Config struct {
	DBPath        string          `json:"dbPath"`
	Symbols       []string        `json:"symbols"`
	Intervals     []string        `json:"intervals"`
	Bootstrap     BootstrapConfig `json:"bootstrap"`
	RateLimit     RateLimitConfig `json:"rateLimit"`
	HTTP          HTTPConfig      `json:"http"`
	LogLevel      string          `json:"logLevel"`
	KnownGapsPath string          `json:"knownGapsPath,omitempty"`
	MetricsAddr   string          `json:"metricsAddr,omitempty"`
}

// BootstrapConfig holds the start date for full historical backfill.
type BootstrapConfig struct {
	StartDate string `json:"startDate"`
}

// RateLimitConfig holds the C2 scheduling parameters.
type RateLimitConfig struct {
	RequestsPerMinute int         `json:"requestsPerMinute"`
	MaxConcurrent     int         `json:"maxConcurrent"`
	Retry             RetryConfig `json:"retry"`
}

// RetryConfig holds the jittered exponential backoff parameters.
type RetryConfig struct {
	BaseMs     int `json:"baseMs"`
	MaxMs      int `json:"maxMs"`
	MaxRetries int `json:"maxRetries"`
}

// HTTPConfig holds per-request timeout.
type HTTPConfig struct {
	TimeoutMs int `json:"timeoutMs"`
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// defaultRetry is applied when rateLimit.retry is absent from the config
// file, resolving spec §9 Open Question (c).
var defaultRetry = RetryConfig{BaseMs: 500, MaxMs: 30_000, MaxRetries: 5}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &apperrors.ConfigError{Detail: fmt.Sprintf("reading %s", path), Cause: err}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &apperrors.ConfigError{Detail: fmt.Sprintf("parsing %s", path), Cause: err}
	}

	if cfg.RateLimit.Retry == (RetryConfig{}) {
		cfg.RateLimit.Retry = defaultRetry
	}
	if cfg.KnownGapsPath == "" {
		cfg.KnownGapsPath = "./config/known_gaps.yaml"
	}

	if err := cfg.Validate(); err != nil {
		return nil, &apperrors.ConfigError{Detail: "invalid configuration", Cause: err}
	}

	return &cfg, nil
}

// Validate checks structural and domain constraints across the whole
// configuration document.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("dbPath must not be empty")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if len(c.Intervals) == 0 {
		return fmt.Errorf("intervals must not be empty")
	}
	for _, code := range c.Intervals {
		if !interval.IsValid(code) {
			return fmt.Errorf("interval: unknown interval code %q", code)
		}
	}
	if _, err := time.Parse(time.RFC3339, c.Bootstrap.StartDate); err != nil {
		if _, err2 := time.Parse("2006-01-02", c.Bootstrap.StartDate); err2 != nil {
			return fmt.Errorf("bootstrap.startDate: not a valid ISO-8601 date: %q", c.Bootstrap.StartDate)
		}
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rateLimit: %w", err)
	}
	if c.HTTP.TimeoutMs <= 0 {
		return fmt.Errorf("http.timeoutMs must be positive, got %d", c.HTTP.TimeoutMs)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("logLevel must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	return nil
}

// Validate checks the rate limit configuration.
func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerMinute <= 0 {
		return fmt.Errorf("requestsPerMinute must be positive, got %d", r.RequestsPerMinute)
	}
	if r.MaxConcurrent <= 0 {
		return fmt.Errorf("maxConcurrent must be positive, got %d", r.MaxConcurrent)
	}
	return r.Retry.Validate()
}

// Validate checks the retry/backoff configuration.
func (r *RetryConfig) Validate() error {
	if r.BaseMs <= 0 {
		return fmt.Errorf("retry.baseMs must be positive, got %d", r.BaseMs)
	}
	if r.MaxMs < r.BaseMs {
		return fmt.Errorf("retry.maxMs (%d) must be >= retry.baseMs (%d)", r.MaxMs, r.BaseMs)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry.maxRetries must not be negative, got %d", r.MaxRetries)
	}
	return nil
}

// StartTime parses the bootstrap start date as a UTC time.
func (c *Config) StartTime() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, c.Bootstrap.StartDate); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", c.Bootstrap.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("bootstrap.startDate: %w", err)
	}
	return t.UTC(), nil
}
