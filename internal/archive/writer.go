package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"tradeledger/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// ClosedTrade is the analytics row written for every round trip the engine
// records. The archive is read by downstream reporting, never by the
// reconciliation path itself.
type ClosedTrade struct {
	Time       time.Time
	RunID      string
	UserID     string
	Date       string
	TradeKey   string
	Symbol     string
	Direction  string
	Quantity   float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
}

// Writer persists closed trades to Postgres asynchronously. Writes are
// best-effort: a full queue drops rows rather than stalling a sync run.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	trades  chan ClosedTrade
	started atomic.Bool
	dropped atomic.Uint64
}

func New(cfg config.ArchiveConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("archive dsn is required")
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
		trades: make(chan ClosedTrade, queueSize),
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

func (w *Writer) Enqueue(trade ClosedTrade) {
	if w == nil {
		return
	}
	select {
	case w.trades <- trade:
		return
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("archive queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trade := <-w.trades:
			w.writeTrade(ctx, trade)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("archive db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	return w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		run_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		ledger_date TEXT NOT NULL,
		trade_key TEXT NOT NULL,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (user_id, ledger_date, trade_key)
	)`, w.table("closed_trades")))
}

func (w *Writer) writeTrade(ctx context.Context, trade ClosedTrade) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, run_id, user_id, ledger_date, trade_key, symbol, direction,
		quantity, entry_price, exit_price, pnl
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	) ON CONFLICT (user_id, ledger_date, trade_key) DO NOTHING`, w.table("closed_trades"))
	if _, err := w.db.ExecContext(ctx, query,
		trade.Time,
		trade.RunID,
		trade.UserID,
		trade.Date,
		trade.TradeKey,
		trade.Symbol,
		trade.Direction,
		trade.Quantity,
		trade.EntryPrice,
		trade.ExitPrice,
		trade.PnL,
	); err != nil && w.log != nil {
		w.log.Warn("archive trade insert failed", zap.Error(err))
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
