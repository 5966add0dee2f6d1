// Package storage is the façade that owns the embedded SQLite schema:
// symbol/interval interning, series identity, candle and indicator upserts,
// range deletes, and transaction management. Grounded in the teacher's
// internal/persistence/postgres repositories (query shape, context
// timeouts, %w-wrapped errors) and internal/infrastructure/db (connection
// setup, pragma configuration), adapted from a pooled Postgres connection
// to a single-writer embedded SQLite handle via jmoiron/sqlx +
// mattn/go-sqlite3, per the spec's "embedded relational store" requirement.
package storage

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/danmcmyler/crypto-sqlite-pipeline/internal/apperrors"
)

// Candle is one OHLCV bar ready to persist, keyed by (SeriesID, OpenTime).
type Candle struct {
	SeriesID            int64   `db:"series_id"`
	OpenTime            int64   `db:"open_time"`
	Open                float64 `db:"open"`
	High                float64 `db:"high"`
	Low                 float64 `db:"low"`
	Close               float64 `db:"close"`
	Volume              float64 `db:"volume"`
	QuoteAssetVolume    float64 `db:"quote_asset_volume"`
	Trades              int64   `db:"trades"`
	TakerBuyBaseVolume  float64 `db:"taker_buy_base_volume"`
	TakerBuyQuoteVolume float64 `db:"taker_buy_quote_volume"`
}

// IndicatorRow is one indicator companion row, keyed by (SeriesID,
// OpenTime). Every field uses indicators.Null (NaN) to mean "not computed";
// nullable translates that to SQL NULL when UpsertIndicators writes it.
// Reads (QueryRow) return indicator fields as sql.NullFloat64, not NaN.
type IndicatorRow struct {
	SeriesID   int64
	OpenTime   int64
	EMA50      float64
	EMA200     float64
	RSI14      float64
	ATR14      float64
	ADX14      float64
	VolMA20    float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	BBSMA20    float64
	BBUpper    float64
	BBLower    float64
	PctReturn1 float64
	LogReturn1 float64
}

// Store is the storage façade. One Store owns one SQLite file and is safe
// for single-writer, multi-reader use per the spec's concurrency model.
type Store struct {
	db     *sqlx.DB
	log    zerolog.Logger
	dbPath string
}

// Open creates (if absent) and opens the SQLite database at path, applies
// durability pragmas, and ensures the schema exists.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "open", Cause: err}
	}
	// A single physical writer per process: one open connection avoids
	// SQLITE_BUSY storms under WAL when ingest issues back-to-back
	// transactions from one goroutine.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, &apperrors.StorageError{Op: "pragma " + p, Cause: err}
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &apperrors.StorageError{Op: "create schema", Cause: err}
	}

	return &Store{db: db, log: log, dbPath: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle as a Querier for callers (tests, one-off
// maintenance scripts) that need to run upserts outside of Tx.
func (s *Store) DB() Querier {
	return s.db
}

// EnsureSymbol upserts the (symbol, base_asset, quote_asset) triple and
// returns its interned id.
func (s *Store) EnsureSymbol(ctx context.Context, symbol, base, quote string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO symbols (symbol, base_asset, quote_asset) VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET base_asset = excluded.base_asset, quote_asset = excluded.quote_asset
	`, symbol, base, quote)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "ensure_symbol", Cause: err}
	}

	var id int64
	if err := s.db.GetContext(ctx, &id, `SELECT id FROM symbols WHERE symbol = ?`, symbol); err != nil {
		return 0, &apperrors.StorageError{Op: "ensure_symbol: select", Cause: err}
	}
	return id, nil
}

// EnsureInterval upserts the (code, ms) pair and returns its interned id.
// ms is updated unconditionally on conflict.
func (s *Store) EnsureInterval(ctx context.Context, code string, ms int64) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intervals (code, ms) VALUES (?, ?)
		ON CONFLICT(code) DO UPDATE SET ms = excluded.ms
	`, code, ms)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "ensure_interval", Cause: err}
	}

	var id int64
	if err := s.db.GetContext(ctx, &id, `SELECT id FROM intervals WHERE code = ?`, code); err != nil {
		return 0, &apperrors.StorageError{Op: "ensure_interval: select", Cause: err}
	}
	return id, nil
}

// EnsureSeries inserts the (symbol_id, interval_id) series if absent and
// returns its id.
func (s *Store) EnsureSeries(ctx context.Context, symbolID, intervalID int64) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO series (symbol_id, interval_id) VALUES (?, ?)
		ON CONFLICT(symbol_id, interval_id) DO NOTHING
	`, symbolID, intervalID)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "ensure_series", Cause: err}
	}

	var id int64
	err = s.db.GetContext(ctx, &id, `
		SELECT id FROM series WHERE symbol_id = ? AND interval_id = ?
	`, symbolID, intervalID)
	if err != nil {
		return 0, &apperrors.StorageError{Op: "ensure_series: select", Cause: err}
	}
	return id, nil
}

// GetSeriesID looks up the series id for (symbol, interval), returning
// ok=false if no series has been created yet.
func (s *Store) GetSeriesID(ctx context.Context, symbol, intervalCode string) (id int64, ok bool, err error) {
	err = s.db.GetContext(ctx, &id, `
		SELECT se.id
		FROM series se
		JOIN symbols sy ON sy.id = se.symbol_id
		JOIN intervals iv ON iv.id = se.interval_id
		WHERE sy.symbol = ? AND iv.code = ?
	`, symbol, intervalCode)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &apperrors.StorageError{Op: "get_series_id", Cause: err}
	}
	return id, true, nil
}

// GetMaxOpenTime returns the latest stored open_time for a series, or
// ok=false if the series has no candles yet.
func (s *Store) GetMaxOpenTime(ctx context.Context, seriesID int64) (openTime int64, ok bool, err error) {
	var maxVal sql.NullInt64
	err = s.db.GetContext(ctx, &maxVal, `SELECT MAX(open_time) FROM candles WHERE series_id = ?`, seriesID)
	if err != nil {
		return 0, false, &apperrors.StorageError{Op: "get_max_open_time", Cause: err}
	}
	if !maxVal.Valid {
		return 0, false, nil
	}
	return maxVal.Int64, true, nil
}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx so upsert/delete
// helpers can run either standalone or inside Tx's callback.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// UpsertCandles idempotently writes candle rows, full-row overwrite on
// conflict at (series_id, open_time).
func UpsertCandles(ctx context.Context, q Querier, rows []Candle) error {
	const stmt = `
		INSERT INTO candles (
			series_id, open_time, open, high, low, close, volume,
			quote_asset_volume, trades, taker_buy_base_volume, taker_buy_quote_volume
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_id, open_time) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			quote_asset_volume = excluded.quote_asset_volume,
			trades = excluded.trades,
			taker_buy_base_volume = excluded.taker_buy_base_volume,
			taker_buy_quote_volume = excluded.taker_buy_quote_volume
	`
	for _, c := range rows {
		_, err := q.ExecContext(ctx, stmt,
			c.SeriesID, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume,
			c.QuoteAssetVolume, c.Trades, c.TakerBuyBaseVolume, c.TakerBuyQuoteVolume,
		)
		if err != nil {
			return &apperrors.StorageError{Op: "upsert_candles", Cause: err}
		}
	}
	return nil
}

func nullable(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// UpsertIndicators idempotently writes indicator rows, full-row overwrite
// on conflict at (series_id, open_time). NaN fields are written as SQL
// NULL.
func UpsertIndicators(ctx context.Context, q Querier, rows []IndicatorRow) error {
	const stmt = `
		INSERT INTO indicators (
			series_id, open_time, ema50, ema200, rsi14, atr14, adx14, vol_ma20,
			macd, macd_signal, macd_hist, bb_sma20, bb_upper, bb_lower,
			pct_return_1, log_return_1
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_id, open_time) DO UPDATE SET
			ema50 = excluded.ema50,
			ema200 = excluded.ema200,
			rsi14 = excluded.rsi14,
			atr14 = excluded.atr14,
			adx14 = excluded.adx14,
			vol_ma20 = excluded.vol_ma20,
			macd = excluded.macd,
			macd_signal = excluded.macd_signal,
			macd_hist = excluded.macd_hist,
			bb_sma20 = excluded.bb_sma20,
			bb_upper = excluded.bb_upper,
			bb_lower = excluded.bb_lower,
			pct_return_1 = excluded.pct_return_1,
			log_return_1 = excluded.log_return_1
	`
	for _, r := range rows {
		_, err := q.ExecContext(ctx, stmt,
			r.SeriesID, r.OpenTime,
			nullable(r.EMA50), nullable(r.EMA200), nullable(r.RSI14), nullable(r.ATR14), nullable(r.ADX14),
			nullable(r.VolMA20), nullable(r.MACD), nullable(r.MACDSignal), nullable(r.MACDHist),
			nullable(r.BBSMA20), nullable(r.BBUpper), nullable(r.BBLower),
			nullable(r.PctReturn1), nullable(r.LogReturn1),
		)
		if err != nil {
			return &apperrors.StorageError{Op: "upsert_indicators", Cause: err}
		}
	}
	return nil
}

// CandlesFrom returns every candle for a series with open_time >= from,
// ascending, for recomputing the indicator suite over a warm-up window.
func (s *Store) CandlesFrom(ctx context.Context, seriesID, from int64) ([]Candle, error) {
	var rows []Candle
	err := s.db.SelectContext(ctx, &rows, `
		SELECT series_id, open_time, open, high, low, close, volume,
			quote_asset_volume, trades, taker_buy_base_volume, taker_buy_quote_volume
		FROM candles
		WHERE series_id = ? AND open_time >= ?
		ORDER BY open_time ASC
	`, seriesID, from)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "candles_from", Cause: err}
	}
	return rows, nil
}

// DeleteRange atomically deletes candles and indicator rows for a series
// with open_time in [from, to].
func DeleteRange(ctx context.Context, q Querier, seriesID, from, to int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM candles WHERE series_id = ? AND open_time BETWEEN ? AND ?`, seriesID, from, to); err != nil {
		return &apperrors.StorageError{Op: "delete_range: candles", Cause: err}
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM indicators WHERE series_id = ? AND open_time BETWEEN ? AND ?`, seriesID, from, to); err != nil {
		return &apperrors.StorageError{Op: "delete_range: indicators", Cause: err}
	}
	return nil
}

// UpsertSeriesState records the series' last ingested open_time, resolving
// spec §9 Open Question (b) in favor of maintaining it. The `status`
// command (Summarize) compares it with the stored MAX(open_time); update,
// verify and repair do not read it.
func UpsertSeriesState(ctx context.Context, q Querier, seriesID, lastOpenTime int64, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO series_state (series_id, last_open_time, last_updated_at) VALUES (?, ?, ?)
		ON CONFLICT(series_id) DO UPDATE SET
			last_open_time = excluded.last_open_time,
			last_updated_at = excluded.last_updated_at
	`, seriesID, lastOpenTime, now.UnixMilli())
	if err != nil {
		return &apperrors.StorageError{Op: "upsert_series_state", Cause: err}
	}
	return nil
}

// Tx runs fn inside an immediate-mode transaction: BEGIN IMMEDIATE takes
// the write lock up front so the transaction either proceeds atomically or
// fails fast on contention, rather than upgrading mid-transaction and
// risking SQLITE_BUSY after partial work. Commits on success, rolls back
// on error, and rolls back unconditionally (logging why) when dryRun.
func (s *Store) Tx(ctx context.Context, dryRun bool, fn func(q Querier) error) error {
	if _, err := s.db.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return &apperrors.StorageError{Op: "begin immediate", Cause: err}
	}

	// sqlx does not expose BEGIN IMMEDIATE directly, so the transaction is
	// driven through the shared *sqlx.DB handle wrapped as a Querier; with
	// MaxOpenConns(1) this is equivalent to a *sqlx.Tx for our single
	// logical writer.
	runErr := fn(s.db)

	if dryRun {
		s.log.Info().Bool("dry_run", true).Msg("rolling back transaction (dry run)")
		if _, err := s.db.ExecContext(ctx, "ROLLBACK"); err != nil {
			return &apperrors.StorageError{Op: "rollback (dry run)", Cause: err}
		}
		return runErr
	}

	if runErr != nil {
		if _, err := s.db.ExecContext(ctx, "ROLLBACK"); err != nil {
			s.log.Error().Err(err).Msg("rollback failed after transaction error")
		}
		return runErr
	}

	if _, err := s.db.ExecContext(ctx, "COMMIT"); err != nil {
		return &apperrors.StorageError{Op: "commit", Cause: err}
	}
	return nil
}

// IntegrityCheck runs SQLite's built-in `PRAGMA integrity_check` and
// returns its verbatim result. "ok" means the database passed.
func (s *Store) IntegrityCheck(ctx context.Context) (string, error) {
	var result string
	if err := s.db.GetContext(ctx, &result, "PRAGMA integrity_check"); err != nil {
		return "", &apperrors.StorageError{Op: "integrity_check", Cause: err}
	}
	return result, nil
}

// AllOpenTimes returns every candle open_time for a series, ascending.
func (s *Store) AllOpenTimes(ctx context.Context, seriesID int64) ([]int64, error) {
	var times []int64
	err := s.db.SelectContext(ctx, &times, `
		SELECT open_time FROM candles WHERE series_id = ? ORDER BY open_time ASC
	`, seriesID)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "all_open_times", Cause: err}
	}
	return times, nil
}

// NullIndicatorOpenTimes returns, ascending, the open_time of every
// indicator row for a series whose fields are *all* null, restricted to
// open_time > afterOpenTime (the caller passes first + 200*ms, the warm-up
// floor, which is itself expected to be non-null and so excluded).
func (s *Store) NullIndicatorOpenTimes(ctx context.Context, seriesID, afterOpenTime int64) ([]int64, error) {
	var times []int64
	err := s.db.SelectContext(ctx, &times, `
		SELECT open_time FROM indicators
		WHERE series_id = ? AND open_time > ?
		  AND ema50 IS NULL AND ema200 IS NULL AND rsi14 IS NULL AND atr14 IS NULL
		  AND adx14 IS NULL AND vol_ma20 IS NULL AND macd IS NULL AND macd_signal IS NULL
		  AND macd_hist IS NULL AND bb_sma20 IS NULL AND bb_upper IS NULL AND bb_lower IS NULL
		  AND pct_return_1 IS NULL AND log_return_1 IS NULL
		ORDER BY open_time ASC
	`, seriesID, afterOpenTime)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "null_indicator_open_times", Cause: err}
	}
	return times, nil
}

// QueryRow is the denormalized candle x indicator join consumed by the
// query preview command.
type QueryRow struct {
	OpenTime            int64   `db:"open_time" json:"open_time"`
	Open                float64 `db:"open" json:"open"`
	High                float64 `db:"high" json:"high"`
	Low                 float64 `db:"low" json:"low"`
	Close               float64 `db:"close" json:"close"`
	Volume              float64 `db:"volume" json:"volume"`
	QuoteAssetVolume    float64 `db:"quote_asset_volume" json:"quote_asset_volume"`
	Trades              int64   `db:"trades" json:"trades"`
	TakerBuyBaseVolume  float64 `db:"taker_buy_base_volume" json:"taker_buy_base_volume"`
	TakerBuyQuoteVolume float64 `db:"taker_buy_quote_volume" json:"taker_buy_quote_volume"`

	EMA50      sql.NullFloat64 `db:"ema50" json:"ema50"`
	EMA200     sql.NullFloat64 `db:"ema200" json:"ema200"`
	RSI14      sql.NullFloat64 `db:"rsi14" json:"rsi14"`
	ATR14      sql.NullFloat64 `db:"atr14" json:"atr14"`
	ADX14      sql.NullFloat64 `db:"adx14" json:"adx14"`
	VolMA20    sql.NullFloat64 `db:"vol_ma20" json:"vol_ma20"`
	MACD       sql.NullFloat64 `db:"macd" json:"macd"`
	MACDSignal sql.NullFloat64 `db:"macd_signal" json:"macd_signal"`
	MACDHist   sql.NullFloat64 `db:"macd_hist" json:"macd_hist"`
	BBSMA20    sql.NullFloat64 `db:"bb_sma20" json:"bb_sma20"`
	BBUpper    sql.NullFloat64 `db:"bb_upper" json:"bb_upper"`
	BBLower    sql.NullFloat64 `db:"bb_lower" json:"bb_lower"`
	PctReturn1 sql.NullFloat64 `db:"pct_return_1" json:"pct_return_1"`
	LogReturn1 sql.NullFloat64 `db:"log_return_1" json:"log_return_1"`
}

// QueryLatest returns up to limit rows for a series, ordered by open_time
// descending, denormalized-joined against indicators.
func (s *Store) QueryLatest(ctx context.Context, seriesID int64, limit int) ([]QueryRow, error) {
	var rows []QueryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT
			c.open_time, c.open, c.high, c.low, c.close, c.volume,
			c.quote_asset_volume, c.trades, c.taker_buy_base_volume, c.taker_buy_quote_volume,
			i.ema50, i.ema200, i.rsi14, i.atr14, i.adx14, i.vol_ma20,
			i.macd, i.macd_signal, i.macd_hist, i.bb_sma20, i.bb_upper, i.bb_lower,
			i.pct_return_1, i.log_return_1
		FROM candles c
		LEFT JOIN indicators i ON i.series_id = c.series_id AND i.open_time = c.open_time
		WHERE c.series_id = ?
		ORDER BY c.open_time DESC
		LIMIT ?
	`, seriesID, limit)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "query_latest", Cause: err}
	}
	return rows, nil
}

// SeriesSummary is the per-series status snapshot used by the `status`
// command.
type SeriesSummary struct {
	Symbol           string `db:"symbol" json:"symbol"`
	Interval         string `db:"interval" json:"interval"`
	SeriesID         int64  `db:"id" json:"series_id"`
	CandleCount      int64  `json:"candle_count"`
	MaxOpenTime      *int64 `json:"max_open_time,omitempty"`
	SeriesStateValue *int64 `json:"series_state_last_open_time,omitempty"`
	Consistent       bool   `json:"state_consistent"`
}

// AllSeries lists every interned (symbol, interval, series id) triple.
func (s *Store) AllSeries(ctx context.Context) ([]SeriesSummary, error) {
	var out []SeriesSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT sy.symbol AS symbol, iv.code AS interval, se.id AS id
		FROM series se
		JOIN symbols sy ON sy.id = se.symbol_id
		JOIN intervals iv ON iv.id = se.interval_id
		ORDER BY sy.symbol, iv.code
	`)
	if err != nil {
		return nil, &apperrors.StorageError{Op: "all_series", Cause: err}
	}
	return out, nil
}

// Summarize fills in the candle-count / cursor-consistency fields of a
// SeriesSummary produced by AllSeries.
func (s *Store) Summarize(ctx context.Context, sum *SeriesSummary) error {
	if err := s.db.GetContext(ctx, &sum.CandleCount, `SELECT COUNT(*) FROM candles WHERE series_id = ?`, sum.SeriesID); err != nil {
		return &apperrors.StorageError{Op: "summarize: count", Cause: err}
	}

	maxOpenTime, ok, err := s.GetMaxOpenTime(ctx, sum.SeriesID)
	if err != nil {
		return err
	}
	if ok {
		sum.MaxOpenTime = &maxOpenTime
	}

	var stateVal sql.NullInt64
	err = s.db.GetContext(ctx, &stateVal, `SELECT last_open_time FROM series_state WHERE series_id = ?`, sum.SeriesID)
	if err != nil && err != sql.ErrNoRows {
		return &apperrors.StorageError{Op: "summarize: series_state", Cause: err}
	}
	if stateVal.Valid {
		v := stateVal.Int64
		sum.SeriesStateValue = &v
	}

	switch {
	case sum.MaxOpenTime == nil && sum.SeriesStateValue == nil:
		sum.Consistent = true
	case sum.MaxOpenTime != nil && sum.SeriesStateValue != nil:
		sum.Consistent = *sum.MaxOpenTime == *sum.SeriesStateValue
	default:
		sum.Consistent = false
	}
	return nil
}
