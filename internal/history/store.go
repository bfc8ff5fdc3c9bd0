package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Trade is one attempted swap, success or failure. Amounts and prices are
// stored as decimal strings to keep full precision.
type Trade struct {
	Time         time.Time
	Type         string
	TokenAmount  string
	NativeAmount string
	PriceUSD     string
	GasCostUSD   string
	Success      bool
	TxHash       string
	Error        string
}

// Store is the sqlite trade log. It also exposes a kv table used by the swap
// executor as a crash journal.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		type TEXT NOT NULL,
		token_amount TEXT NOT NULL,
		native_amount TEXT NOT NULL,
		price_usd TEXT NOT NULL,
		gas_cost_usd TEXT NOT NULL,
		success INTEGER NOT NULL,
		tx_hash TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`)
	return err
}

// RecordTrade appends one trade row. Callers treat this as fire-and-forget;
// a failed insert must not fail the trade itself.
func (s *Store) RecordTrade(ctx context.Context, trade Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (ts, type, token_amount, native_amount, price_usd, gas_cost_usd, success, tx_hash, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.Time.UnixMilli(),
		trade.Type,
		trade.TokenAmount,
		trade.NativeAmount,
		trade.PriceUSD,
		trade.GasCostUSD,
		boolToInt(trade.Success),
		trade.TxHash,
		trade.Error,
	)
	return err
}

// RecentTrades returns up to limit trades, newest first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, type, token_amount, native_amount, price_usd, gas_cost_usd, success, tx_hash, error
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trades []Trade
	for rows.Next() {
		var trade Trade
		var ts int64
		var success int
		if err := rows.Scan(&ts, &trade.Type, &trade.TokenAmount, &trade.NativeAmount,
			&trade.PriceUSD, &trade.GasCostUSD, &success, &trade.TxHash, &trade.Error); err != nil {
			return nil, err
		}
		trade.Time = time.UnixMilli(ts).UTC()
		trade.Success = success != 0
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
