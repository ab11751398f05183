// cmd/backtest replays a CSV price history through the normalizer and the
// MACD engine and prints every crossover, bar by bar.
//
// Usage:
//
//	go run ./cmd/backtest --csv=data/hdfcbank.csv --symbol=HDFCBANK
//	go run ./cmd/backtest --csv=prices.csv --short=12 --long=26 --signal=9 --db=data/backtest.db
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"macdwatch/internal/feed"
	"macdwatch/internal/indicator"
	"macdwatch/internal/logger"
	"macdwatch/internal/markethours"
	"macdwatch/internal/model"
	"macdwatch/internal/normalize"
	"macdwatch/internal/notification"
	sqlitestore "macdwatch/internal/store/sqlite"
)

func main() {
	csvPath := flag.String("csv", "", "CSV file with timestamp and close columns (required)")
	symbol := flag.String("symbol", "", "Symbol to replay when the CSV has a symbol column")
	exchange := flag.String("exchange", "NSE", "Exchange recorded in the journal")
	short := flag.Int("short", 30, "Short EMA span")
	long := flag.Int("long", 60, "Long EMA span")
	sig := flag.Int("signal", 9, "Signal EMA span")
	tz := flag.String("tz", "Asia/Kolkata", "Display time zone")
	dbPath := flag.String("db", "", "Optional SQLite journal to record crossovers into")
	verbose := flag.Bool("v", false, "Print every bar, not only crossovers")
	flag.Parse()

	if err := logger.Init("backtest", "warn", "console"); err == nil {
		defer logger.Sync()
	}

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "backtest: --csv is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := indicator.MACDConfig{Short: *short, Long: *long, Signal: *sig}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(2)
	}

	n, err := replay(context.Background(), options{
		path:    *csvPath,
		inst:    model.Instrument{Symbol: *symbol, Exchange: *exchange},
		cfg:     cfg,
		zone:    markethours.LoadZone(*tz),
		dbPath:  *dbPath,
		verbose: *verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d crossovers\n", n)
}

type options struct {
	path    string
	inst    model.Instrument
	cfg     indicator.MACDConfig
	zone    *time.Location
	dbPath  string
	verbose bool
}

// replay evaluates the series one bar at a time. The EMA recursion is causal,
// so the point at bar i over the whole file equals the last point over the
// prefix ending at i; one pass over the full series is enough.
func replay(ctx context.Context, o options) (int, error) {
	src := &feed.CSV{Path: o.path}
	raw, err := src.Fetch(ctx, o.inst)
	if err != nil {
		return 0, err
	}

	nz := normalize.New(o.zone)
	dropped := 0
	nz.OnDropped = func(model.RawSample, error) { dropped++ }
	series, err := nz.Normalize(raw)
	if err != nil {
		return 0, err
	}
	if dropped > 0 {
		fmt.Printf("skipped %d rows without a usable close\n", dropped)
	}

	ev, err := indicator.NewEngine(o.cfg).Evaluate(series)
	if err != nil {
		return 0, err
	}

	var journal *sqlitestore.Journal
	if o.dbPath != "" {
		if journal, err = sqlitestore.Open(o.dbPath); err != nil {
			return 0, err
		}
		defer journal.Close()
	}

	fmt.Printf("%s: %d bars, MACD %s\n", o.path, len(series), o.cfg)
	crossings := 0
	for i := 1; i < len(ev.Points); i++ {
		s := indicator.Decide(ev.Points[i-1], ev.Points[i])
		if s.Kind == model.SignalNone && !o.verbose {
			continue
		}
		fmt.Printf("%s  %s\n", s.TS.In(o.zone).Format("2006-01-02 15:04 MST"), notification.FormatSignal(s))
		if s.Kind == model.SignalNone {
			continue
		}
		crossings++
		if journal != nil {
			if _, err := journal.Record(ctx, journalSymbol(o), o.inst.Exchange, s, time.Now()); err != nil {
				return crossings, err
			}
		}
	}
	return crossings, nil
}

// journalSymbol falls back to the file name when no symbol was given.
func journalSymbol(o options) string {
	if o.inst.Symbol != "" {
		return strings.ToUpper(o.inst.Symbol)
	}
	base := filepath.Base(o.path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}
