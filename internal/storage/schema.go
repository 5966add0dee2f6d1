package storage

// schema is applied once at Open() time. SQLite's rowid-backed composite
// primary keys double as the "(series_id, open_time)" index the spec
// requires on candles and indicators, so no additional CREATE INDEX is
// needed for that pair; series carries its own uniqueness index.
const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL UNIQUE,
	base_asset TEXT NOT NULL,
	quote_asset TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS intervals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS series (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol_id INTEGER NOT NULL REFERENCES symbols(id),
	interval_id INTEGER NOT NULL REFERENCES intervals(id),
	UNIQUE(symbol_id, interval_id)
);

CREATE TABLE IF NOT EXISTS candles (
	series_id INTEGER NOT NULL REFERENCES series(id),
	open_time INTEGER NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	quote_asset_volume REAL NOT NULL,
	trades INTEGER NOT NULL,
	taker_buy_base_volume REAL NOT NULL,
	taker_buy_quote_volume REAL NOT NULL,
	PRIMARY KEY (series_id, open_time)
);

CREATE TABLE IF NOT EXISTS indicators (
	series_id INTEGER NOT NULL REFERENCES series(id),
	open_time INTEGER NOT NULL,
	ema50 REAL,
	ema200 REAL,
	rsi14 REAL,
	atr14 REAL,
	adx14 REAL,
	vol_ma20 REAL,
	macd REAL,
	macd_signal REAL,
	macd_hist REAL,
	bb_sma20 REAL,
	bb_upper REAL,
	bb_lower REAL,
	pct_return_1 REAL,
	log_return_1 REAL,
	PRIMARY KEY (series_id, open_time)
);

CREATE TABLE IF NOT EXISTS series_state (
	series_id INTEGER PRIMARY KEY REFERENCES series(id),
	last_open_time INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL
);
`

// pragmas match the durability settings required by the spec: WAL mode,
// synchronous=NORMAL, foreign key enforcement, and a busy timeout generous
// enough to ride out a concurrent reader holding a snapshot.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}
