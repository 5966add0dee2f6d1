// Package ingest drives the bootstrap and update pipelines: fetch candles
// from marketdata.Client in MAX_API_LIMIT-sized chunks, recompute the
// indicator suite over a trailing overlap window so warm-up state survives
// chunk boundaries, and persist both atomically per chunk through
// storage.Store. Grounded on the teacher's chunked-fetch loops in
// cmd/cryptorun/main.go and the guards package's retry-aware execution
// style, generalized from a single-shot scan to a cursor-driven historical
// backfill.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/indicators"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/interval"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/knowngaps"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/marketdata"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/metrics"
	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/storage"
)

// OverlapBars is the number of trailing bars re-fetched/recomputed across
// a chunk boundary so EMA/RSI/ATR/ADX warm-up state carries forward
// correctly instead of resetting at every chunk.
const OverlapBars = 600

// quoteAssets is tried longest-first when splitting a combined ticker like
// "BTCUSDT" into base/quote, mirroring the suffix set Binance's own
// exchangeInfo symbols use.
var quoteAssets = []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}

func splitSymbol(symbol string) (base, quote string) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q
		}
	}
	return symbol, ""
}

// Engine runs the bootstrap and update operations for one (symbol,
// interval) series at a time.
type Engine struct {
	store   *storage.Store
	client  *marketdata.Client
	gaps    *knowngaps.Registry
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithMetrics reports per-chunk counters and transaction duration to m.
// Left unset, the engine runs with no metrics overhead, matching the
// spec's requirement that verify/query stay side-effect-free while
// bootstrap/update can opt in via --metrics-addr.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds an Engine.
func New(store *storage.Store, client *marketdata.Client, gaps *knowngaps.Registry, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{store: store, client: client, gaps: gaps, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Summary reports what one Sync call did.
type Summary struct {
	Symbol          string
	Interval        string
	ChunksFetched   int
	CandlesUpserted int
	LastOpenTime    int64
}

// Bootstrap performs the full historical backfill for (symbol, interval)
// starting at startTime, used the first time a series is ingested.
func (e *Engine) Bootstrap(ctx context.Context, symbol, intervalCode string, startTime time.Time, dryRun bool) (Summary, error) {
	return e.sync(ctx, symbol, intervalCode, startTime.UnixMilli(), dryRun)
}

// Update advances an already-bootstrapped series to the current time,
// re-warming the indicator suite across an overlap window. It errors if
// the series has never been bootstrapped.
func (e *Engine) Update(ctx context.Context, symbol, intervalCode string, dryRun bool) (Summary, error) {
	seriesID, ok, err := e.store.GetSeriesID(ctx, symbol, intervalCode)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, fmt.Errorf("series %s/%s has not been bootstrapped", symbol, intervalCode)
	}

	lastOpenTime, ok, err := e.store.GetMaxOpenTime(ctx, seriesID)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		return Summary{}, fmt.Errorf("series %s/%s has no candles; run bootstrap first", symbol, intervalCode)
	}

	ms, err := interval.Milliseconds(intervalCode)
	if err != nil {
		return Summary{}, err
	}

	fetchFrom := lastOpenTime + ms
	return e.sync(ctx, symbol, intervalCode, fetchFrom, dryRun)
}

// Repair re-syncs a series starting at an arbitrary open_time, used by the
// repair engine to re-fetch and recompute from just before a flagged window
// rather than from the configured start (Bootstrap) or the last stored bar
// (Update). Like both, it runs forward to the latest closed bar; it does
// not stop at the end of the flagged window.
func (e *Engine) Repair(ctx context.Context, symbol, intervalCode string, fromOpenTime int64, dryRun bool) (Summary, error) {
	return e.sync(ctx, symbol, intervalCode, fromOpenTime, dryRun)
}

func (e *Engine) sync(ctx context.Context, symbol, intervalCode string, fetchFrom int64, dryRun bool) (Summary, error) {
	ms, err := interval.Milliseconds(intervalCode)
	if err != nil {
		return Summary{}, err
	}

	base, quote := splitSymbol(symbol)
	symID, err := e.store.EnsureSymbol(ctx, symbol, base, quote)
	if err != nil {
		return Summary{}, err
	}
	ivID, err := e.store.EnsureInterval(ctx, intervalCode, ms)
	if err != nil {
		return Summary{}, err
	}
	seriesID, err := e.store.EnsureSeries(ctx, symID, ivID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Symbol: symbol, Interval: intervalCode}
	nowMs := time.Now().UnixMilli()
	// endClosed is the open_time of the latest bar that has fully closed:
	// the universal invariant open_time + ms <= now rearranges to
	// open_time <= now - ms, and every closed open_time is a multiple of
	// ms, so floor to the bar boundary below that.
	endClosed := ((nowMs - ms) / ms) * ms

	for fetchFrom <= endClosed {
		klines, err := e.client.GetKlines(ctx, symbol, intervalCode, &fetchFrom, &endClosed, marketdata.MaxAPILimit)
		if err != nil {
			return summary, fmt.Errorf("fetching klines for %s/%s at %d: %w", symbol, intervalCode, fetchFrom, err)
		}

		// Defensive: endClosed already bounds the request, but never
		// persist a bar that hasn't closed yet even if one slips through.
		closed := make([]marketdata.Kline, 0, len(klines))
		for _, k := range klines {
			if k.OpenTime+ms > nowMs {
				continue
			}
			closed = append(closed, k)
		}
		klines = closed
		if len(klines) == 0 {
			break
		}

		chunkStart := klines[0].OpenTime
		chunkEnd := klines[len(klines)-1].OpenTime

		candleRows := make([]storage.Candle, len(klines))
		for i, k := range klines {
			candleRows[i] = storage.Candle{
				SeriesID:            seriesID,
				OpenTime:            k.OpenTime,
				Open:                k.Open,
				High:                k.High,
				Low:                 k.Low,
				Close:               k.Close,
				Volume:              k.Volume,
				QuoteAssetVolume:    k.QuoteAssetVolume,
				Trades:              k.Trades,
				TakerBuyBaseVolume:  k.TakerBuyBaseVolume,
				TakerBuyQuoteVolume: k.TakerBuyQuoteVolume,
			}
		}

		windowStart := chunkStart - OverlapBars*ms
		if windowStart < 0 {
			windowStart = 0
		}

		var indicatorRowCount int
		txStart := time.Now()
		err = e.store.Tx(ctx, dryRun, func(q storage.Querier) error {
			if txErr := storage.UpsertCandles(ctx, q, candleRows); txErr != nil {
				return txErr
			}

			warmBars, warmErr := e.store.CandlesFrom(ctx, seriesID, windowStart)
			if warmErr != nil {
				return warmErr
			}
			// Tx's callback runs against the shared handle, so rows just
			// upserted above are visible to this read within the same
			// transaction.
			ohlcv := make([]indicators.OHLCV, len(warmBars))
			for i, c := range warmBars {
				ohlcv[i] = indicators.OHLCV{
					OpenTime: c.OpenTime, Open: c.Open, High: c.High, Low: c.Low,
					Close: c.Close, Volume: c.Volume,
				}
			}
			batch := indicators.Compute(ohlcv)

			rows := make([]storage.IndicatorRow, 0, len(warmBars))
			for i, c := range warmBars {
				if c.OpenTime < chunkStart {
					continue // recomputed only to seed warm-up state, not re-persisted
				}
				rows = append(rows, storage.IndicatorRow{
					SeriesID: seriesID, OpenTime: c.OpenTime,
					EMA50: batch.EMA50[i], EMA200: batch.EMA200[i], RSI14: batch.RSI14[i],
					ATR14: batch.ATR14[i], ADX14: batch.ADX14[i], VolMA20: batch.VolMA20[i],
					MACD: batch.MACD[i], MACDSignal: batch.MACDSignal[i], MACDHist: batch.MACDHist[i],
					BBSMA20: batch.BBSMA20[i], BBUpper: batch.BBUpper[i], BBLower: batch.BBLower[i],
					PctReturn1: batch.PctReturn1[i], LogReturn1: batch.LogReturn1[i],
				})
			}
			if txErr := storage.UpsertIndicators(ctx, q, rows); txErr != nil {
				return txErr
			}
			indicatorRowCount = len(rows)

			return storage.UpsertSeriesState(ctx, q, seriesID, chunkEnd, time.Now())
		})
		if err != nil {
			return summary, err
		}

		if e.metrics != nil {
			e.metrics.ObserveChunkTx(time.Since(txStart))
			e.metrics.CandlesUpserted.WithLabelValues(symbol, intervalCode).Add(float64(len(klines)))
			e.metrics.IndicatorsUpserted.WithLabelValues(symbol, intervalCode).Add(float64(indicatorRowCount))
		}

		summary.ChunksFetched++
		summary.CandlesUpserted += len(klines)
		summary.LastOpenTime = chunkEnd

		e.log.Info().
			Str("symbol", symbol).Str("interval", intervalCode).
			Int("chunk_size", len(klines)).Int64("chunk_end", chunkEnd).
			Msg("chunk ingested")

		if len(klines) < marketdata.MaxAPILimit {
			break
		}
		fetchFrom = chunkEnd + ms
	}

	return summary, nil
}
