package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the candle count and cursor state of every persisted series",
		Long:  `status lists every interned symbol/interval series with its candle count and whether its series_state cursor agrees with its stored candles.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			series, err := a.store.AllSeries(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for i := range series {
				if err := a.store.Summarize(ctx, &series[i]); err != nil {
					return err
				}
				if err := enc.Encode(series[i]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}
