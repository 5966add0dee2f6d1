package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/query"
)

func newQueryCmd() *cobra.Command {
	var symbol, intervalCode, format string
	var limit int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the most recent candle/indicator rows for a series",
		Long:  `query reads the denormalized latest rows for one symbol/interval series, as JSONL or a table.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if symbol == "" || intervalCode == "" {
				return fmt.Errorf("query: --symbol and --interval are required")
			}

			var f query.Format
			switch format {
			case "jsonl":
				f = query.FormatJSONL
			case "table":
				f = query.FormatTable
			default:
				return fmt.Errorf("query: --format must be jsonl or table, got %q", format)
			}

			return query.Run(ctx, a.store, symbol, intervalCode, limit, f, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol to query, e.g. BTCUSDT")
	cmd.Flags().StringVar(&intervalCode, "interval", "", "interval code to query, e.g. 1h")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of rows to print, most recent first")
	cmd.Flags().StringVar(&format, "format", "jsonl", "output format: jsonl or table")
	return cmd
}
