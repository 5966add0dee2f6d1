// Package verify audits a series for three integrity concerns: the
// store's own page-level integrity check, missing candles (gaps in the
// expected open_time cadence), and indicator rows that are entirely null
// past the indicator warm-up window. Gaps that overlap a window in the
// known-gap registry are excluded from the report. Grounded on the teacher's
// guards.CircuitBreaker.Stats()-style snapshot reporting: a pure read path
// over persisted state, producing a typed report rather than mutating
// anything.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/apperrors"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/indicators"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/interval"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/knowngaps"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/storage"
)

// maxSamples bounds how many example gaps/spans a report carries per
// series, per the spec's "up to 5 samples" reporting rule.
const maxSamples = 5

// Gap is one missing-candle span: [Start, End] inclusive, in open_time
// units, End == Start for a single missing bar.
type Gap struct {
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	MissingBars int64  `json:"missing_bars"`
	Duration    string `json:"duration"`
}

// NullSpan is one contiguous run of all-null indicator rows past warm-up.
type NullSpan struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Bars     int64  `json:"bars"`
	Duration string `json:"duration"`
}

// SeriesReport is the integrity verdict for one (symbol, interval) series.
type SeriesReport struct {
	Symbol           string     `json:"symbol"`
	Interval         string     `json:"interval"`
	IntegrityCheck   string     `json:"integrity_check"`
	Empty            bool       `json:"series_empty,omitempty"`
	FirstOpenTime    int64      `json:"first_open_time,omitempty"`
	LastOpenTime     int64      `json:"last_open_time,omitempty"`
	CandleCount      int        `json:"candle_count"`
	GapCount         int        `json:"gap_count"`
	GapSamples       []Gap      `json:"gap_samples,omitempty"`
	KnownGapsSkipped int        `json:"known_gaps_skipped"`
	NullSpanCount    int        `json:"null_span_count"`
	NullSpanSamples  []NullSpan `json:"null_span_samples,omitempty"`
	Clean            bool       `json:"clean"`
}

// Engine runs verify against a storage façade, optionally short-circuiting
// known gaps via a registry.
type Engine struct {
	store *storage.Store
	gaps  *knowngaps.Registry
}

// New builds a verify Engine.
func New(store *storage.Store, gaps *knowngaps.Registry) *Engine {
	return &Engine{store: store, gaps: gaps}
}

// Series audits one (symbol, interval) series, returning its report. Once
// the series is found, the store's own integrity check runs ahead of the
// empty-series short circuit, since a corrupt database can still report
// zero candles. An unknown series returns an error without running it.
func (e *Engine) Series(ctx context.Context, symbol, intervalCode string) (SeriesReport, error) {
	ms, err := interval.Milliseconds(intervalCode)
	if err != nil {
		return SeriesReport{}, err
	}

	seriesID, ok, err := e.store.GetSeriesID(ctx, symbol, intervalCode)
	if err != nil {
		return SeriesReport{}, err
	}
	if !ok {
		return SeriesReport{}, fmt.Errorf("series %s/%s has not been ingested", symbol, intervalCode)
	}

	integrity, err := e.store.IntegrityCheck(ctx)
	if err != nil {
		return SeriesReport{}, err
	}

	report := SeriesReport{Symbol: symbol, Interval: intervalCode, IntegrityCheck: integrity}

	times, err := e.store.AllOpenTimes(ctx, seriesID)
	if err != nil {
		return SeriesReport{}, err
	}
	report.CandleCount = len(times)
	if len(times) == 0 {
		report.Empty = true
		report.Clean = integrity == "ok"
		return report, nil
	}

	report.FirstOpenTime = times[0]
	report.LastOpenTime = times[len(times)-1]

	gaps := findGaps(times, ms)
	for _, g := range gaps {
		if len(e.gaps.Overlaps(symbol, intervalCode, g.Start, g.End)) > 0 {
			report.KnownGapsSkipped++
			continue
		}
		report.GapCount++
		if len(report.GapSamples) < maxSamples {
			report.GapSamples = append(report.GapSamples, g)
		}
	}

	warmupFloor := times[0] + int64(indicators.WarmupBars)*ms
	nullTimes, err := e.store.NullIndicatorOpenTimes(ctx, seriesID, warmupFloor)
	if err != nil {
		return SeriesReport{}, err
	}
	spans := groupIntoSpans(nullTimes, ms)
	report.NullSpanCount = len(spans)
	for _, sp := range spans {
		if len(report.NullSpanSamples) >= maxSamples {
			break
		}
		report.NullSpanSamples = append(report.NullSpanSamples, sp)
	}

	report.Clean = integrity == "ok" && report.GapCount == 0 && report.NullSpanCount == 0
	return report, nil
}

// findGaps walks ascending, contiguous open_times and reports every
// missing multiple of step as a Gap, coalescing consecutive misses into
// one span.
func findGaps(times []int64, step int64) []Gap {
	var gaps []Gap
	for i := 1; i < len(times); i++ {
		expected := times[i-1] + step
		if times[i] == expected {
			continue
		}
		if times[i] < expected {
			continue // duplicate or out-of-order timestamp, not a gap
		}
		start, end := expected, times[i]-step
		bars := (end-start)/step + 1
		gaps = append(gaps, Gap{
			Start: start, End: end,
			MissingBars: bars,
			Duration:    approxDuration(time.Duration(bars*step) * time.Millisecond),
		})
	}
	return gaps
}

// groupIntoSpans coalesces a sorted list of flagged open_times, each step
// apart, into contiguous [start, end] spans.
func groupIntoSpans(times []int64, step int64) []NullSpan {
	var spans []NullSpan
	for i := 0; i < len(times); i++ {
		if i == 0 || times[i] != times[i-1]+step {
			spans = append(spans, NullSpan{Start: times[i], End: times[i], Bars: 1})
			spans[len(spans)-1].Duration = approxDuration(time.Duration(step) * time.Millisecond)
			continue
		}
		sp := &spans[len(spans)-1]
		sp.End = times[i]
		sp.Bars++
		sp.Duration = approxDuration(time.Duration(sp.Bars*step) * time.Millisecond)
	}
	return spans
}

// approxDuration renders d the way the teacher's alert/report formatters
// do: minutes under an hour, hours under a day, days beyond that.
func approxDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}

// ToIntegrityWarnings flattens a report's samples into the shared
// apperrors taxonomy for uniform logging.
func (r SeriesReport) ToIntegrityWarnings() []apperrors.IntegrityWarning {
	series := fmt.Sprintf("%s/%s", r.Symbol, r.Interval)
	warnings := make([]apperrors.IntegrityWarning, 0, len(r.GapSamples)+len(r.NullSpanSamples))
	for _, g := range r.GapSamples {
		warnings = append(warnings, apperrors.IntegrityWarning{
			Kind: "gap", Series: series,
			Message: fmt.Sprintf("missing candles in [%d, %d] (%s)", g.Start, g.End, g.Duration),
		})
	}
	for _, s := range r.NullSpanSamples {
		warnings = append(warnings, apperrors.IntegrityWarning{
			Kind: "null_indicator_span", Series: series,
			Message: fmt.Sprintf("null indicators in [%d, %d] (%s)", s.Start, s.End, s.Duration),
		})
	}
	return warnings
}
