// Package sqlite keeps a local journal of emitted trade signals.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"macdwatch/internal/logger"
	"macdwatch/internal/model"
)

// Entry is one journal row.
type Entry struct {
	ID         int64            `json:"id"`
	Symbol     string           `json:"symbol"`
	Exchange   string           `json:"exchange"`
	Kind       model.SignalKind `json:"kind"`
	MACD       float64          `json:"macd"`
	Signal     float64          `json:"signal"`
	Difference float64          `json:"difference"`
	BarTS      time.Time        `json:"bar_ts"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Journal is a signal sink backed by SQLite. Each (exchange, symbol, bar)
// is stored at most once, so re-evaluating the same bar on the next cycle
// does not duplicate rows.
type Journal struct {
	db *sql.DB

	// RecordNone also journals NONE verdicts. Off by default: only
	// crossovers are kept.
	RecordNone bool

	log *zap.SugaredLogger
}

// Open opens (or creates) the journal at path with WAL mode. ":memory:"
// gives a private in-memory database.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; also keeps an in-memory database on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	l := logger.Named("sqlite")
	l.Infof("opened journal at %s", path)
	return &Journal{db: db, log: l}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			exchange   TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			macd       REAL    NOT NULL,
			signal     REAL    NOT NULL,
			difference REAL    NOT NULL,
			bar_ts     INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (exchange, symbol, bar_ts)
		);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol_bar ON signals (symbol, bar_ts DESC);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

func (j *Journal) Name() string { return "sqlite" }

// Publish journals the update's signal. Updates without a signal, and NONE
// verdicts unless RecordNone is set, are ignored.
func (j *Journal) Publish(ctx context.Context, u model.SignalUpdate) error {
	if u.Signal == nil || (!u.Actionable() && !j.RecordNone) {
		return nil
	}
	_, err := j.Record(ctx, u.Symbol, u.Exchange, *u.Signal, u.At)
	return err
}

// Record stores the verdict for one bar and reports whether a row was
// written. A bar re-evaluated while its candle is still forming keeps one
// row: a BUY or SELL replaces a different stored verdict, a repeat of the
// stored kind is ignored, and NONE never replaces a crossover.
// Symbol and exchange are stored upper-cased.
func (j *Journal) Record(ctx context.Context, symbol, exchange string, s model.TradeSignal, at time.Time) (bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	exchange = strings.ToUpper(strings.TrimSpace(exchange))
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, exchange, kind, macd, signal, difference, bar_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exchange, symbol, bar_ts) DO UPDATE SET
			kind       = excluded.kind,
			macd       = excluded.macd,
			signal     = excluded.signal,
			difference = excluded.difference,
			created_at = excluded.created_at
		WHERE excluded.kind <> signals.kind AND excluded.kind <> 'NONE'
	`, symbol, exchange, s.Kind.String(), s.MACD, s.Signal, s.Difference, s.TS.UnixMilli(), at.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("sqlite insert signal %s: %w", symbol, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.log.Debugf("journaled %s:%s %s at %s", exchange, symbol, s.Kind, s.TS.Format(time.RFC3339))
	}
	return n > 0, nil
}

// Recent returns up to limit entries, newest bar first. An empty symbol
// returns entries for every symbol.
func (j *Journal) Recent(ctx context.Context, symbol string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, symbol, exchange, kind, macd, signal, difference, bar_ts, created_at FROM signals`
	args := []any{}
	if symbol != "" {
		q += ` WHERE symbol = ?`
		args = append(args, strings.ToUpper(symbol))
	}
	q += ` ORDER BY bar_ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query signals: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var barMs, createdMs int64
		if err := rows.Scan(&e.ID, &e.Symbol, &e.Exchange, &kind, &e.MACD, &e.Signal, &e.Difference, &barMs, &createdMs); err != nil {
			return nil, fmt.Errorf("sqlite scan signals: %w", err)
		}
		if e.Kind, err = model.ParseSignalKind(kind); err != nil {
			return nil, err
		}
		e.BarTS = time.UnixMilli(barMs).UTC()
		e.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
