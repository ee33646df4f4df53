package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"algotrader/internal/types"

	_ "modernc.org/sqlite"
)

// Store owns the trade ledger tables and the backtest_properties row.
// Open/close pairs run inside a single transaction so a trade is never
// visible in both tables or in neither.
type Store struct {
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger store path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	// _txlock=immediate serializes read-then-write transactions (the
	// open→closed move) at begin time instead of failing on upgrade.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// WAL allows concurrent readers; writes stay serialized through a
	// small pool to keep lock contention low.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DB exposes the underlying handle for collaborators sharing the same
// file (stats queries, tests).
func (s *Store) DB() *sql.DB { return s.db }

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS open_trades (
			trade_id INTEGER PRIMARY KEY AUTOINCREMENT,
			backtest_id TEXT NOT NULL DEFAULT '',
			ticker TEXT NOT NULL,
			buy_date TEXT NOT NULL,
			share_qty REAL NOT NULL,
			investment_total REAL NOT NULL,
			buy_price REAL NOT NULL,
			current_price REAL NOT NULL,
			take_profit REAL,
			stop_loss REAL,
			figure TEXT,
			profit_loss_pct REAL NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS closed_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trade_id INTEGER NOT NULL UNIQUE,
			backtest_id TEXT NOT NULL DEFAULT '',
			ticker TEXT NOT NULL,
			buy_date TEXT NOT NULL,
			share_qty REAL NOT NULL,
			investment_total REAL NOT NULL,
			buy_price REAL NOT NULL,
			sell_date TEXT NOT NULL,
			sell_price REAL NOT NULL,
			profit_loss REAL NOT NULL,
			profit_loss_pct REAL NOT NULL DEFAULT 0,
			take_profit REAL,
			stop_loss REAL,
			figure TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_properties (
			backtest_id TEXT PRIMARY KEY,
			strategy_id INTEGER,
			backtest_date TEXT NOT NULL,
			start_balance REAL NOT NULL,
			total_balance REAL NOT NULL,
			available_balance REAL NOT NULL,
			total_profit_loss REAL NOT NULL DEFAULT 0,
			total_profit_loss_pct REAL NOT NULL DEFAULT 0,
			total_profit_loss_graph TEXT,
			success_rate REAL NOT NULL DEFAULT 0,
			is_paused INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 0,
			datetime_started INTEGER NOT NULL,
			datetime_finished INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_closed_backtest ON closed_trades(backtest_id, sell_date);`,
		`CREATE INDEX IF NOT EXISTS idx_open_backtest ON open_trades(backtest_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func storageErr(op string, err error) error {
	return &types.StorageError{Op: op, Err: err}
}

func requireRow(res sql.Result, backtestID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("row check", err)
	}
	if affected == 0 {
		return &types.NotFoundError{Entity: "backtest", ID: backtestID}
	}
	return nil
}

const dateLayout = "2006-01-02"

func encodeDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func decodeDate(s string) time.Time {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}

func nullableMillis(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// ResetLedger truncates both trade tables; called when a backtest is
// (re)initialised.
func (s *Store) ResetLedger(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("reset ledger", err)
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM open_trades;`,
		`DELETE FROM closed_trades;`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("reset ledger", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("reset ledger", err)
	}
	return nil
}
