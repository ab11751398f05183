package sqlite

import (
	"context"
	"testing"
	"time"

	"macdwatch/internal/model"
)

var bar0 = time.Date(2026, 10, 19, 4, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func update(sym string, kind model.SignalKind, bar time.Time) model.SignalUpdate {
	return model.SignalUpdate{
		Symbol: sym, Exchange: "NSE", Status: model.StatusOK, At: bar.Add(30 * time.Second),
		Signal: &model.TradeSignal{Kind: kind, TS: bar, MACD: 0.2, Signal: 0.1, Difference: 0.1},
	}
}

func TestJournal_PublishOnlyCrossovers(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()

	updates := []model.SignalUpdate{
		update("HDFCBANK", model.SignalBuy, bar0),
		update("HDFCBANK", model.SignalNone, bar0.Add(time.Minute)),
		update("HDFCBANK", model.SignalSell, bar0.Add(2*time.Minute)),
		update("INFY", model.SignalBuy, bar0.Add(time.Minute)),
		{Symbol: "TCS", Exchange: "NSE", Status: model.StatusFeedError},
	}
	for _, u := range updates {
		if err := j.Publish(ctx, u); err != nil {
			t.Fatalf("Publish %s: %v", u.Symbol, err)
		}
	}

	got, err := j.Recent(ctx, "hdfcbank", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d HDFCBANK entries, want 2", len(got))
	}
	if got[0].Kind != model.SignalSell || got[1].Kind != model.SignalBuy {
		t.Errorf("order/kinds = %v, %v; want SELL then BUY", got[0].Kind, got[1].Kind)
	}
	if !got[1].BarTS.Equal(bar0) || got[1].Difference != 0.1 {
		t.Errorf("entry = %+v", got[1])
	}

	all, _ := j.Recent(ctx, "", 10)
	if len(all) != 3 {
		t.Errorf("all entries = %d, want 3", len(all))
	}
	limited, _ := j.Recent(ctx, "", 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d entries", len(limited))
	}
}

func TestJournal_SameBarStoredOnce(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	sig := model.TradeSignal{Kind: model.SignalBuy, TS: bar0}

	first, err := j.Record(ctx, "HDFCBANK", "NSE", sig, bar0)
	if err != nil || !first {
		t.Fatalf("first Record = %v, %v", first, err)
	}
	again, err := j.Record(ctx, "HDFCBANK", "NSE", sig, bar0.Add(time.Minute))
	if err != nil || again {
		t.Errorf("second Record of the same bar = %v, %v; want false, nil", again, err)
	}
}

func TestJournal_RecordNone(t *testing.T) {
	j := openTest(t)
	j.RecordNone = true
	if err := j.Publish(context.Background(), update("SBIN", model.SignalNone, bar0)); err != nil {
		t.Fatal(err)
	}
	got, _ := j.Recent(context.Background(), "SBIN", 5)
	if len(got) != 1 || got[0].Kind != model.SignalNone {
		t.Errorf("entries = %+v", got)
	}
}

func TestJournal_FormingBarUpgradesToCrossover(t *testing.T) {
	j := openTest(t)
	j.RecordNone = true
	ctx := context.Background()

	steps := []struct {
		kind  model.SignalKind
		wrote bool
	}{
		{model.SignalNone, true},  // first look at the forming candle
		{model.SignalBuy, true},   // same bar now crosses
		{model.SignalBuy, false},  // unchanged
		{model.SignalNone, false}, // NONE never erases a crossover
		{model.SignalSell, true},
	}
	for i, st := range steps {
		wrote, err := j.Record(ctx, "HDFCBANK", "NSE", model.TradeSignal{Kind: st.kind, TS: bar0, MACD: float64(i)}, bar0.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if wrote != st.wrote {
			t.Errorf("step %d (%s): wrote = %v, want %v", i, st.kind, wrote, st.wrote)
		}
	}

	got, _ := j.Recent(ctx, "HDFCBANK", 10)
	if len(got) != 1 {
		t.Fatalf("entries = %d, want one row per bar", len(got))
	}
	if got[0].Kind != model.SignalSell || got[0].MACD != 4 {
		t.Errorf("stored = %+v, want the last crossover", got[0])
	}
}

func TestJournal_RecordNormalisesCase(t *testing.T) {
	j := openTest(t)
	ctx := context.Background()
	sig := model.TradeSignal{Kind: model.SignalBuy, TS: bar0}

	if _, err := j.Record(ctx, "hdfcbank ", "nse", sig, bar0); err != nil {
		t.Fatal(err)
	}
	again, _ := j.Record(ctx, "HDFCBANK", "NSE", sig, bar0)
	if again {
		t.Error("mixed-case symbol created a second row for the same bar")
	}

	got, _ := j.Recent(ctx, "HDFCBANK", 5)
	if len(got) != 1 || got[0].Symbol != "HDFCBANK" || got[0].Exchange != "NSE" {
		t.Errorf("entries = %+v", got)
	}
}
