// Package repair targets the defects verify.Engine finds and re-ingests
// from just before each flagged window through the same marketdata/storage
// path bootstrap and update use, rather than re-running a full backfill
// from the configured start date. Grounded on the
// teacher's CircuitBreaker.Reset()-style targeted recovery: fix the
// specific broken state, report what changed, and stop.
package repair

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/ingest"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/interval"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/knowngaps"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/marketdata"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/storage"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/verify"
)

// Summary reports what repair changed for one series.
type Summary struct {
	Symbol            string `json:"symbol"`
	Interval          string `json:"interval"`
	GapsRepaired      int    `json:"gaps_repaired"`
	NullSpansRepaired int    `json:"null_spans_repaired"`
	CandlesRefetched  int    `json:"candles_refetched"`
}

// Engine re-ingests the windows a verify.SeriesReport flags.
type Engine struct {
	store  *storage.Store
	client *marketdata.Client
	log    zerolog.Logger
}

// New builds a repair Engine.
func New(store *storage.Store, client *marketdata.Client, log zerolog.Logger) *Engine {
	return &Engine{store: store, client: client, log: log}
}

// Series repairs the gaps and null-indicator spans in report by re-fetching
// and recomputing the affected window (expanded backward by the ingest
// overlap window so indicator warm-up state is correct again), then
// re-runs verify so the caller can confirm the repair worked.
//
// report carries at most maxSamples gaps and null spans even when a series
// has more defects than that. This is safe only because repairWindow calls
// ingest.Engine.Repair, whose sync loop re-fetches forward from its start
// all the way to now rather than stopping at the flagged window's end; the
// first repaired gap's re-sync therefore also closes every later gap in
// the same series. If ingest.Repair is ever changed to stop at an explicit
// end bound, this loop must switch to iterating the full defect set
// instead of the capped samples.
func (e *Engine) Series(ctx context.Context, report verify.SeriesReport, gaps *knowngaps.Registry) (Summary, verify.SeriesReport, error) {
	summary := Summary{Symbol: report.Symbol, Interval: report.Interval}

	ms, err := interval.Milliseconds(report.Interval)
	if err != nil {
		return summary, verify.SeriesReport{}, err
	}

	ingestEngine := ingest.New(e.store, e.client, gaps, e.log)

	repairWindow := func(start int64) (ingest.Summary, error) {
		from := start - ingest.OverlapBars*ms
		if from < 0 {
			from = 0
		}
		return ingestEngine.Repair(ctx, report.Symbol, report.Interval, from, false)
	}

	for _, g := range report.GapSamples {
		s, err := repairWindow(g.Start)
		if err != nil {
			return summary, verify.SeriesReport{}, fmt.Errorf("repairing gap [%d,%d]: %w", g.Start, g.End, err)
		}
		summary.GapsRepaired++
		summary.CandlesRefetched += s.CandlesUpserted
	}

	for _, sp := range report.NullSpanSamples {
		s, err := repairWindow(sp.Start)
		if err != nil {
			return summary, verify.SeriesReport{}, fmt.Errorf("repairing null span [%d,%d]: %w", sp.Start, sp.End, err)
		}
		summary.NullSpansRepaired++
		summary.CandlesRefetched += s.CandlesUpserted
	}

	verifyEngine := verify.New(e.store, gaps)
	updated, err := verifyEngine.Series(ctx, report.Symbol, report.Interval)
	if err != nil {
		return summary, verify.SeriesReport{}, err
	}
	return summary, updated, nil
}
