package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Re-fetch and recompute the gaps and null spans verify finds",
		Long: `repair runs the same audit as verify, then re-syncs the windows
surrounding every reported gap and null span and verifies again,
printing the before/after report pair per series.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			verifyEng := newVerifyEngine(a)
			repairEng := newRepairEngine(a)
			enc := json.NewEncoder(os.Stdout)

			for _, symbol := range a.cfg.Symbols {
				for _, code := range a.cfg.Intervals {
					before, err := verifyEng.Series(ctx, symbol, code)
					if err != nil {
						return fmt.Errorf("repair %s/%s: verify: %w", symbol, code, err)
					}
					if before.Clean {
						continue
					}

					summary, after, err := repairEng.Series(ctx, before, a.gaps)
					if err != nil {
						return fmt.Errorf("repair %s/%s: %w", symbol, code, err)
					}

					if err := enc.Encode(struct {
						Summary interface{} `json:"repair_summary"`
						Before  interface{} `json:"before"`
						After   interface{} `json:"after"`
					}{summary, before, after}); err != nil {
						return err
					}

					if !after.Clean {
						a.log.Warn().Str("symbol", symbol).Str("interval", code).Msg("series still not clean after repair")
					}
				}
			}
			return nil
		},
	}
	return cmd
}
