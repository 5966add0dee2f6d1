// Package query is the read-only denormalized preview surface: given a
// (symbol, interval, limit), it returns the most recent candle/indicator
// rows joined on open_time, formatted as JSONL (the default, since the
// rest of the pipeline's external interfaces are JSON) or as a table for
// interactive use. Supplements the distilled spec's storage-only scope
// with the inspection surface a deployed pipeline needs, grounded on the
// teacher's cmd_health.go-style read path: load from the store, format,
// print, nothing else.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/storage"
)

// Format selects the output rendering.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatTable Format = "table"
)

// Run fetches up to limit of the latest rows for (symbol, interval) and
// writes them to w in the requested format.
func Run(ctx context.Context, store *storage.Store, symbol, intervalCode string, limit int, format Format, w io.Writer) error {
	seriesID, ok, err := store.GetSeriesID(ctx, symbol, intervalCode)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("series %s/%s has not been ingested", symbol, intervalCode)
	}

	rows, err := store.QueryLatest(ctx, seriesID, limit)
	if err != nil {
		return err
	}

	switch format {
	case FormatTable:
		return writeTable(rows, w)
	default:
		return writeJSONL(rows, w)
	}
}

func writeJSONL(rows []storage.QueryRow, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(rows []storage.QueryRow, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPEN_TIME\tCLOSE\tVOLUME\tEMA50\tRSI14\tMACD\tBB_UPPER\tBB_LOWER")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%s\t%s\t%s\t%s\t%s\n",
			r.OpenTime, r.Close, r.Volume,
			formatNullable(r.EMA50), formatNullable(r.RSI14), formatNullable(r.MACD),
			formatNullable(r.BBUpper), formatNullable(r.BBLower),
		)
	}
	return tw.Flush()
}

func formatNullable(v sql.NullFloat64) string {
	if !v.Valid {
		return "null"
	}
	return fmt.Sprintf("%.4f", v.Float64)
}
