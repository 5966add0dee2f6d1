// Command candlekeeper is the CLI entry point for the candle ingestion
// pipeline: bootstrap, update, verify, repair, query, and status.
// Grounded on the teacher's cmd/cryptorun/main.go: a cobra root command
// wiring every subcommand's flags, with RunE handlers split into their own
// files per subcommand and a shared zerolog logger built once at startup.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appName = "candlekeeper"

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Deterministic OHLCV ingestion and indicator pipeline",
		Long: `candlekeeper fetches OHLCV candles from Binance, computes a fixed battery
of technical indicators, and persists both to an embedded SQLite store.`,
	}
	rootCmd.PersistentFlags().String("config", "./config/default.json", "path to the pipeline configuration file")

	rootCmd.AddCommand(
		newBootstrapCmd(),
		newUpdateCmd(),
		newVerifyCmd(),
		newRepairCmd(),
		newQueryCmd(),
		newStatusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
