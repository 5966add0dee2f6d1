package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/config"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/ingest"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/knowngaps"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/marketdata"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/metrics"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/obslog"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/repair"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/storage"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/verify"
)

// app bundles the objects every subcommand needs, built once from the
// shared --config flag.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *storage.Store
	gaps    *knowngaps.Registry
	metrics *metrics.Metrics
}

// newApp loads configuration, opens the store, and loads the known-gap
// registry. Callers must call Close when done.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log := obslog.New(cfg.LogLevel)

	store, err := storage.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, err
	}

	gaps, err := knowngaps.Load(cfg.KnownGapsPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, store: store, gaps: gaps, metrics: metrics.New()}, nil
}

// client builds a marketdata.Client from the app's loaded configuration.
func (a *app) client() *marketdata.Client {
	return marketdata.New(a.cfg.RateLimit, a.cfg.HTTP.TimeoutMs, marketdata.WithMetrics(a.metrics))
}

// newIngestEngine builds an ingest.Engine wired to this app's store,
// client, known-gap registry, logger, and metrics.
func newIngestEngine(a *app) *ingest.Engine {
	return ingest.New(a.store, a.client(), a.gaps, a.log, ingest.WithMetrics(a.metrics))
}

// serveMetrics starts the optional /metrics and /healthz server in the
// background when addr is non-empty, matching the spec's requirement that
// exposure is opt-in and disabled by default. The returned func shuts the
// server down; it is a no-op when addr was empty.
func (a *app) serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}
	srv := &http.Server{Addr: addr, Handler: a.metrics.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Warn().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return func() {
		_ = srv.Close()
	}
}

// newVerifyEngine builds a verify.Engine wired to this app's store and
// known-gap registry.
func newVerifyEngine(a *app) *verify.Engine {
	return verify.New(a.store, a.gaps)
}

// newRepairEngine builds a repair.Engine wired to this app's store,
// client, and logger.
func newRepairEngine(a *app) *repair.Engine {
	return repair.New(a.store, a.client(), a.log)
}

// Close releases the store handle.
func (a *app) Close() error {
	return a.store.Close()
}

// signalContext returns a context canceled on SIGINT/SIGTERM, so a
// long-running bootstrap or update can finish its current chunk-transaction
// and exit cleanly instead of leaving a half-written series.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
