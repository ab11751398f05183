package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"macdwatch/internal/indicator"
	"macdwatch/internal/model"
	sqlitestore "macdwatch/internal/store/sqlite"
)

// writeVCSV writes a falling then rising series, which crosses upward once.
func writeVCSV(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,close\n")
	start := time.Date(2025, 3, 3, 3, 45, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < 40; i++ {
		if i < 20 {
			price -= 1
		} else {
			price += 1
		}
		fmt.Fprintf(&b, "%s,%.2f\n", start.Add(time.Duration(i)*time.Minute).Format("2006-01-02 15:04:05"), price)
	}
	b.WriteString("2025-03-03 04:30:00,\n") // no close, skipped
	path := filepath.Join(t.TempDir(), "hdfcbank.csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplay_RecordsCrossovers(t *testing.T) {
	path := writeVCSV(t)
	db := filepath.Join(t.TempDir(), "bt.db")

	n, err := replay(context.Background(), options{
		path:   path,
		inst:   model.Instrument{Exchange: "NSE"},
		cfg:    indicator.MACDConfig{Short: 3, Long: 6, Signal: 2},
		zone:   time.UTC,
		dbPath: db,
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n < 1 {
		t.Fatalf("expected at least one crossover on a V-shaped series, got %d", n)
	}

	j, err := sqlitestore.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	entries, err := j.Recent(context.Background(), "HDFCBANK", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Errorf("journal has %d rows, want %d", len(entries), n)
	}
	for _, e := range entries {
		if e.Kind == model.SignalNone {
			t.Errorf("journal recorded a NONE verdict: %+v", e)
		}
	}
}

func TestReplay_TooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.csv")
	os.WriteFile(path, []byte("ts,close\n2025-03-03 04:00:00,10\n"), 0o644)

	_, err := replay(context.Background(), options{
		path: path,
		cfg:  indicator.DefaultMACDConfig(),
		zone: time.UTC,
	})
	if err == nil {
		t.Fatal("expected insufficient data error")
	}
}
