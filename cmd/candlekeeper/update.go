package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUpdateCmd() *cobra.Command {
	var dryRun bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fetch candles since the last recorded cursor for every series",
		Long: `update resumes each already-bootstrapped symbol/interval series from its
last persisted open_time, fetching only new candles and recomputing
indicators across the warm-up overlap window.`,
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

			eng := newIngestEngine(a)
			for _, symbol := range a.cfg.Symbols {
				for _, code := range a.cfg.Intervals {
					summary, err := eng.Update(ctx, symbol, code, dryRun)
					if err != nil {
						return fmt.Errorf("update %s/%s: %w", symbol, code, err)
					}
					a.log.Info().
						Str("symbol", summary.Symbol).
						Str("interval", summary.Interval).
						Int("chunks_fetched", summary.ChunksFetched).
						Int("candles_upserted", summary.CandlesUpserted).
						Int64("last_open_time", summary.LastOpenTime).
						Msg("update complete")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the fetch and compute path without committing any writes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address while running (overrides config)")
	return cmd
}
