// Package repo is the durable state layer: a single SQLite file accessed
// through sqlx with parameterized statements only.
//
// Tables are namespaced: ops_* holds the authoritative trading state
// (orders, fills, positions, events), analytics_* holds derived daily
// rollups that can be rebuilt from ops_* at any time.
//
// Timestamps are stored as unix seconds; conversion to time.Time happens at
// the repo boundary so callers never see raw integers.
package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"kalshi-weather-trader/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS ops_weather_snapshots (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	city_code         TEXT    NOT NULL,
	captured_at       INTEGER NOT NULL,
	forecast_high_f   REAL    NOT NULL,
	forecast_stddev_f REAL    NOT NULL,
	observed_temp_f   REAL,
	source_updated_at INTEGER NOT NULL,
	stale             INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_weather_city_time ON ops_weather_snapshots(city_code, captured_at);

CREATE TABLE IF NOT EXISTS ops_market_snapshots (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker        TEXT    NOT NULL,
	city_code     TEXT    NOT NULL,
	threshold_f   REAL    NOT NULL,
	direction     TEXT    NOT NULL,
	event_date    TEXT    NOT NULL,
	yes_bid       INTEGER NOT NULL,
	yes_ask       INTEGER NOT NULL,
	no_bid        INTEGER NOT NULL,
	no_ask        INTEGER NOT NULL,
	has_quotes    INTEGER NOT NULL,
	volume        INTEGER NOT NULL,
	open_interest INTEGER NOT NULL,
	close_time    INTEGER NOT NULL,
	captured_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_market_ticker_time ON ops_market_snapshots(ticker, captured_at);

CREATE TABLE IF NOT EXISTS ops_signals (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	city_code       TEXT    NOT NULL,
	ticker          TEXT    NOT NULL,
	strategy_name   TEXT    NOT NULL,
	p_yes_model     REAL    NOT NULL,
	uncertainty     REAL    NOT NULL,
	p_yes_market    REAL    NOT NULL,
	edge            REAL    NOT NULL,
	action          TEXT    NOT NULL,
	side            TEXT    NOT NULL,
	max_price_cents INTEGER NOT NULL,
	size_hint       INTEGER NOT NULL,
	reasons         TEXT    NOT NULL,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_city_time ON ops_signals(city_code, created_at);

CREATE TABLE IF NOT EXISTS ops_orders (
	intent_key        TEXT    NOT NULL,
	intent_version    INTEGER NOT NULL,
	client_order_id   TEXT    NOT NULL UNIQUE,
	exchange_order_id TEXT    NOT NULL DEFAULT '',
	ticker            TEXT    NOT NULL,
	city_code         TEXT    NOT NULL,
	side              TEXT    NOT NULL,
	quantity          INTEGER NOT NULL,
	filled_quantity   INTEGER NOT NULL DEFAULT 0,
	limit_price_cents INTEGER NOT NULL,
	status            TEXT    NOT NULL,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	PRIMARY KEY (intent_key, intent_version)
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON ops_orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_exchange_id ON ops_orders(exchange_order_id);

CREATE TABLE IF NOT EXISTS ops_fills (
	id             TEXT    PRIMARY KEY,
	order_ref      TEXT    NOT NULL,
	ticker         TEXT    NOT NULL,
	city_code      TEXT    NOT NULL,
	side           TEXT    NOT NULL,
	filled_at      INTEGER NOT NULL,
	quantity       INTEGER NOT NULL,
	price_cents    INTEGER NOT NULL,
	fees_cents     INTEGER NOT NULL DEFAULT 0,
	realized_pnl   TEXT    NOT NULL DEFAULT '0',
	exchange_trade TEXT    NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON ops_fills(filled_at);

CREATE TABLE IF NOT EXISTS ops_positions (
	ticker          TEXT NOT NULL,
	side            TEXT NOT NULL,
	city_code       TEXT NOT NULL,
	cluster         TEXT NOT NULL,
	quantity_open   INTEGER NOT NULL,
	avg_entry_cents REAL    NOT NULL,
	avg_exit_cents  REAL    NOT NULL DEFAULT 0,
	realized_pnl    TEXT    NOT NULL DEFAULT '0',
	status          TEXT    NOT NULL,
	opened_at       INTEGER NOT NULL,
	closed_at       INTEGER,
	PRIMARY KEY (ticker, side)
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON ops_positions(status);

CREATE TABLE IF NOT EXISTS ops_risk_events (
	id         TEXT    PRIMARY KEY,
	type       TEXT    NOT NULL,
	severity   TEXT    NOT NULL,
	city_code  TEXT    NOT NULL DEFAULT '',
	payload    TEXT    NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risk_events_time ON ops_risk_events(created_at);

CREATE TABLE IF NOT EXISTS ops_health_status (
	component  TEXT    PRIMARY KEY,
	state      TEXT    NOT NULL,
	last_ok    INTEGER NOT NULL,
	message    TEXT    NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ops_reconcile_cursor (
	name       TEXT    PRIMARY KEY,
	cursor_ts  INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS analytics_city_daily (
	day         TEXT NOT NULL,
	city_code   TEXT NOT NULL,
	trade_count INTEGER NOT NULL,
	win_count   INTEGER NOT NULL,
	pnl         TEXT    NOT NULL,
	PRIMARY KEY (day, city_code)
);

CREATE TABLE IF NOT EXISTS analytics_strategy_daily (
	day           TEXT NOT NULL,
	strategy_name TEXT NOT NULL,
	signal_count  INTEGER NOT NULL,
	buy_count     INTEGER NOT NULL,
	realized_edge REAL    NOT NULL,
	PRIMARY KEY (day, strategy_name)
);

CREATE TABLE IF NOT EXISTS analytics_equity_curve (
	day        TEXT PRIMARY KEY,
	realized   TEXT NOT NULL,
	unrealized TEXT NOT NULL,
	bankroll   TEXT NOT NULL
);
`

// Store wraps the SQLite handle. All repository methods hang off it; method
// groups live in per-entity files.
type Store struct {
	db *sqlx.DB
}

// Open creates the database file (and parent directory) if needed, applies
// pragmas for concurrent readers, and runs the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, types.E(types.KindFatalInternal, fmt.Errorf("create db dir: %w", err))
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, types.E(types.KindFatalInternal, fmt.Errorf("open database: %w", err))
	}
	// modernc sqlite is serialized per connection; a single writer avoids
	// SQLITE_BUSY under concurrent cycle writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, types.E(types.KindFatalInternal, fmt.Errorf("apply schema: %w", err))
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a throwaway database for tests.
func OpenInMemory() (*Store, error) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the handle is alive, for health reporting.
func (s *Store) Ping() error { return s.db.Ping() }
