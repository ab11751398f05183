package normalize

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"macdwatch/internal/markethours"
	"macdwatch/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var base = time.Date(2026, time.October, 19, 4, 0, 0, 0, time.UTC) // 09:30 IST

func zoned(minute int, close float64) model.RawSample {
	return model.RawSample{TS: base.Add(time.Duration(minute) * time.Minute), Close: model.Price(close)}
}

func missing(minute int) model.RawSample {
	return model.RawSample{TS: base.Add(time.Duration(minute) * time.Minute)}
}

// ────────────────────────────────────────────────────────────
// Ordering and cleaning
// ────────────────────────────────────────────────────────────

func TestNormalize_SortsAscending(t *testing.T) {
	raw := []model.RawSample{zoned(2, 102), zoned(0, 100), zoned(1, 101)}

	series, err := New(nil).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []float64{100, 101, 102}
	if len(series) != len(want) {
		t.Fatalf("len = %d, want %d", len(series), len(want))
	}
	for i, s := range series {
		if s.Close != want[i] {
			t.Errorf("series[%d].Close = %.2f, want %.2f", i, s.Close, want[i])
		}
		if i > 0 && !series[i-1].TS.Before(s.TS) {
			t.Errorf("series[%d] not strictly after series[%d]", i, i-1)
		}
	}
}

func TestNormalize_DuplicateKeepsLater(t *testing.T) {
	raw := []model.RawSample{zoned(0, 100), zoned(1, 101), zoned(1, 105), zoned(2, 102)}

	var dupes int
	n := New(nil)
	n.OnDuplicate = func(time.Time) { dupes++ }

	series, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("len = %d, want 3", len(series))
	}
	if series[1].Close != 105 {
		t.Errorf("duplicate instant kept %.2f, want later value 105", series[1].Close)
	}
	if dupes != 1 {
		t.Errorf("OnDuplicate called %d times, want 1", dupes)
	}
}

func TestNormalize_DuplicateAcrossZonesIsSameInstant(t *testing.T) {
	// 04:01 UTC and 09:31 IST are the same bar; the later row wins.
	utcRow := zoned(1, 101)
	istRow := model.RawSample{TS: base.Add(time.Minute).In(markethours.IST), Close: model.Price(111)}
	raw := []model.RawSample{zoned(0, 100), utcRow, istRow}

	series, err := New(nil).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(series) != 2 || series[1].Close != 111 {
		t.Fatalf("got %+v, want two samples ending at 111", series)
	}
}

func TestNormalize_DropsMissingAndNonFinite(t *testing.T) {
	raw := []model.RawSample{
		zoned(0, 100),
		missing(1),
		zoned(2, math.NaN()),
		zoned(3, math.Inf(1)),
		zoned(4, 104),
	}

	var reasons []error
	n := New(nil)
	n.OnDropped = func(_ model.RawSample, err error) { reasons = append(reasons, err) }

	series, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("len = %d, want 2", len(series))
	}
	if series[0].Close != 100 || series[1].Close != 104 {
		t.Errorf("closes = %.2f, %.2f; want 100, 104", series[0].Close, series[1].Close)
	}
	if len(reasons) != 3 {
		t.Fatalf("OnDropped called %d times, want 3", len(reasons))
	}
	for i, want := range []string{"missing close", "NaN close", "infinite close"} {
		if !errors.Is(reasons[i], model.ErrMalformedSample) {
			t.Errorf("drop %d: %v does not wrap ErrMalformedSample", i, reasons[i])
		}
		if !strings.Contains(reasons[i].Error(), want) {
			t.Errorf("drop %d: %q does not name %q", i, reasons[i], want)
		}
	}
}

func TestNormalize_InsufficientData(t *testing.T) {
	cases := map[string][]model.RawSample{
		"empty":             nil,
		"single":            {zoned(0, 100)},
		"single after drop": {zoned(0, 100), missing(1), missing(2)},
		"duplicates only":   {zoned(0, 100), zoned(0, 101)},
	}
	for name, raw := range cases {
		series, err := New(nil).Normalize(raw)
		if !errors.Is(err, model.ErrInsufficientData) {
			t.Errorf("%s: err = %v, want ErrInsufficientData", name, err)
		}
		if series != nil {
			t.Errorf("%s: expected nil series, got %d samples", name, len(series))
		}
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	raw := []model.RawSample{zoned(1, 101), zoned(0, 100)}
	first := raw[0].TS

	if _, err := New(nil).Normalize(raw); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !raw[0].TS.Equal(first) || *raw[0].Close != 101 {
		t.Fatal("input slice was reordered or modified")
	}
}

// ────────────────────────────────────────────────────────────
// Time zones
// ────────────────────────────────────────────────────────────

func TestNormalize_NaiveTimestampsAreUTC(t *testing.T) {
	// Naive wall clock 04:00 means 04:00 UTC = 09:30 IST, even if the
	// time.Time happens to carry another location.
	wall := time.Date(2026, time.October, 19, 4, 0, 0, 0, markethours.IST)
	raw := []model.RawSample{
		{TS: wall, Naive: true, Close: model.Price(100)},
		{TS: wall.Add(time.Minute), Naive: true, Close: model.Price(101)},
	}

	series, err := New(markethours.IST).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !series[0].TS.Equal(base) {
		t.Errorf("instant = %v, want %v", series[0].TS, base)
	}
	if got := series[0].TS.Format("15:04"); got != "09:30" {
		t.Errorf("display wall clock = %s, want 09:30", got)
	}
	if series[0].TS.Location() != markethours.IST {
		t.Errorf("location = %v, want IST", series[0].TS.Location())
	}
}

func TestNormalize_ZonedTimestampsConvertedNotReinterpreted(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	at := time.Date(2026, time.October, 18, 23, 0, 0, 0, ny) // 04:00 UTC next day
	raw := []model.RawSample{
		{TS: at, Close: model.Price(100)},
		{TS: at.Add(time.Minute), Close: model.Price(101)},
	}

	series, err := New(markethours.IST).Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !series[0].TS.Equal(base) {
		t.Errorf("instant changed: got %v, want %v", series[0].TS, base)
	}
}

func TestToZone_RoundTripPreservesInstants(t *testing.T) {
	series, err := New(time.UTC).Normalize([]model.RawSample{zoned(0, 100), zoned(1, 101), zoned(2, 102)})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	back := ToZone(ToZone(series, markethours.IST), time.UTC)
	for i := range series {
		if !back[i].TS.Equal(series[i].TS) {
			t.Errorf("sample %d: instant %v, want %v", i, back[i].TS, series[i].TS)
		}
		if back[i].Close != series[i].Close {
			t.Errorf("sample %d: close changed", i)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in        string
		wantNaive bool
		want      time.Time
	}{
		{"2026-10-19T09:30:00+05:30", false, base},
		{"2026-10-19T04:00:00Z", false, base},
		{"2026-10-19T09:30:00+0530", false, base},
		{"2026-10-19 04:00:00", true, base},
		{"2026-10-19T04:00:00", true, base},
		{"2026-10-19 04:00", true, base},
	}
	for _, tc := range cases {
		ts, naive, err := ParseTimestamp(tc.in)
		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}
		if naive != tc.wantNaive {
			t.Errorf("%q: naive = %v, want %v", tc.in, naive, tc.wantNaive)
		}
		if !ts.Equal(tc.want) {
			t.Errorf("%q: instant %v, want %v", tc.in, ts, tc.want)
		}
	}

	if _, _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for garbage input")
	}
}
