package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audit every configured series for gaps and unfilled indicator rows",
		Long: `verify checks each symbol/interval series for missing candles (outside
known, registry-covered gaps) and indicator rows left null past the
warm-up window, printing one JSON report per series.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			eng := newVerifyEngine(a)
			enc := json.NewEncoder(os.Stdout)
			dirty := false

			for _, symbol := range a.cfg.Symbols {
				for _, code := range a.cfg.Intervals {
					report, err := eng.Series(ctx, symbol, code)
					if err != nil {
						return fmt.Errorf("verify %s/%s: %w", symbol, code, err)
					}
					if report.IntegrityCheck != "ok" {
						a.log.Error().
							Str("symbol", symbol).Str("interval", code).
							Str("integrity_check", report.IntegrityCheck).
							Msg("store integrity check failed")
					}
					if !report.Clean {
						dirty = true
					}
					if err := enc.Encode(report); err != nil {
						return err
					}
				}
			}

			if dirty {
				return fmt.Errorf("one or more series failed verification")
			}
			return nil
		},
	}
	return cmd
}
