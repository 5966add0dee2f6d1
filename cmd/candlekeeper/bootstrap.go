package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBootstrapCmd() *cobra.Command {
	var dryRun bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Backfill full candle history for every configured symbol/interval",
		Long: `bootstrap fetches every candle from the configured start date through
now for each symbol in symbols x intervals, computing indicators as it goes.
It is safe to re-run: candle and indicator rows are upserted idempotently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr == "" {
				metricsAddr = a.cfg.MetricsAddr
			}
			defer a.serveMetrics(metricsAddr)()

			startTime, err := a.cfg.StartTime()
			if err != nil {
				return err
			}

			eng := newIngestEngine(a)
			for _, symbol := range a.cfg.Symbols {
				for _, code := range a.cfg.Intervals {
					summary, err := eng.Bootstrap(ctx, symbol, code, startTime, dryRun)
					if err != nil {
						return fmt.Errorf("bootstrap %s/%s: %w", symbol, code, err)
					}
					a.log.Info().
						Str("symbol", summary.Symbol).
						Str("interval", summary.Interval).
						Int("chunks_fetched", summary.ChunksFetched).
						Int("candles_upserted", summary.CandlesUpserted).
						Int64("last_open_time", summary.LastOpenTime).
						Msg("bootstrap complete")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the fetch and compute path without committing any writes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address while running (overrides config)")
	return cmd
}
