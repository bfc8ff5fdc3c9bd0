package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"evm-dip-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// TickRow is the archived per-iteration snapshot.
type TickRow struct {
	Time           time.Time
	Position       string
	PriceUSD       float64
	NativeUSD      float64
	AnchorUSD      float64
	NextTriggerUSD float64
	NativeBalance  float64
	TokenBalance   float64
	Source         string
	Degraded       bool
	Action         string
	SkipReason     string
}

// TradeRow is the archived trade attempt.
type TradeRow struct {
	Time         time.Time
	Type         string
	TokenAmount  float64
	NativeAmount float64
	PriceUSD     float64
	GasCostUSD   float64
	Success      bool
	TxHash       string
}

// Writer archives ticks and trades to Timescale/Postgres in the background.
// Enqueues drop when the queue is full; archival never backpressures the
// trading loop.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	ticks      chan TickRow
	trades     chan TradeRow
	started    atomic.Bool
	dropTick   atomic.Uint64
	dropTrade  atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		ticks:  make(chan TickRow, queueSize),
		trades: make(chan TradeRow, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueTick(row TickRow) {
	if w == nil {
		return
	}
	select {
	case w.ticks <- row:
	default:
		if w.dropTick.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale tick queue full")
		}
	}
}

func (w *Writer) EnqueueTrade(row TradeRow) {
	if w == nil {
		return
	}
	select {
	case w.trades <- row:
	default:
		if w.dropTrade.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale trade queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-w.ticks:
			w.writeTick(ctx, row)
		case row := <-w.trades:
			w.writeTrade(ctx, row)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		state TEXT NOT NULL,
		price_usd DOUBLE PRECISION NOT NULL,
		native_usd DOUBLE PRECISION NOT NULL,
		anchor_usd DOUBLE PRECISION NOT NULL,
		next_trigger_usd DOUBLE PRECISION NOT NULL,
		native_balance DOUBLE PRECISION NOT NULL,
		token_balance DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL,
		degraded BOOLEAN NOT NULL,
		action TEXT NOT NULL,
		skip_reason TEXT NOT NULL DEFAULT ''
	)`, w.table("ticks"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		type TEXT NOT NULL,
		token_amount DOUBLE PRECISION NOT NULL,
		native_amount DOUBLE PRECISION NOT NULL,
		price_usd DOUBLE PRECISION NOT NULL,
		gas_cost_usd DOUBLE PRECISION NOT NULL,
		success BOOLEAN NOT NULL,
		tx_hash TEXT NOT NULL
	)`, w.table("trades"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("ticks"))); err != nil && w.log != nil {
		w.log.Warn("timescale ticks hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("trades"))); err != nil && w.log != nil {
		w.log.Warn("timescale trades hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeTick(ctx context.Context, row TickRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, state, price_usd, native_usd, anchor_usd, next_trigger_usd,
		native_balance, token_balance, source, degraded, action, skip_reason
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, w.table("ticks"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.Position,
		row.PriceUSD,
		row.NativeUSD,
		row.AnchorUSD,
		row.NextTriggerUSD,
		row.NativeBalance,
		row.TokenBalance,
		row.Source,
		row.Degraded,
		row.Action,
		row.SkipReason,
	); err != nil && w.log != nil {
		w.log.Warn("timescale tick insert failed", zap.Error(err))
	}
}

func (w *Writer) writeTrade(ctx context.Context, row TradeRow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, type, token_amount, native_amount, price_usd, gas_cost_usd, success, tx_hash
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("trades"))
	if _, err := w.db.ExecContext(ctx, query,
		row.Time,
		row.Type,
		row.TokenAmount,
		row.NativeAmount,
		row.PriceUSD,
		row.GasCostUSD,
		row.Success,
		row.TxHash,
	); err != nil && w.log != nil {
		w.log.Warn("timescale trade insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
