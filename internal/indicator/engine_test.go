package indicator

import (
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"macdwatch/internal/model"
)

var fastCfg = MACDConfig{Short: 1, Long: 3, Signal: 3}

func TestEngine_OnePointPerSample(t *testing.T) {
	engine := NewEngine(DefaultMACDConfig())
	for _, n := range []int{2, 3, 59, 60, 375} {
		closes := make([]float64, n)
		for i := range closes {
			closes[i] = 1600 + float64(i%11)
		}
		series := seriesOf(closes...)
		eval, err := engine.Evaluate(series)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if len(eval.Points) != n {
			t.Errorf("n=%d: %d points", n, len(eval.Points))
		}
		for i, p := range eval.Points {
			if !p.TS.Equal(series[i].TS) {
				t.Fatalf("n=%d: point %d timestamp %v, want %v", n, i, p.TS, series[i].TS)
			}
		}
		if !eval.Signal.TS.Equal(series.Last().TS) {
			t.Errorf("n=%d: signal anchored at %v, want latest bar", n, eval.Signal.TS)
		}
	}
}

func TestEngine_BuyOnUpwardCross(t *testing.T) {
	// MACD:   0, -0.5, -0.75, -0.875, 2.0625
	// signal: 0, -0.25, -0.5, -0.6875, 0.6875
	eval, err := NewEngine(fastCfg).Evaluate(seriesOf(10, 9, 8, 7, 12))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Signal.Kind != model.SignalBuy {
		t.Fatalf("kind = %v, want BUY", eval.Signal.Kind)
	}
	assertClose(t, "macd", eval.Signal.MACD, 2.0625, 1e-12)
	assertClose(t, "signal", eval.Signal.Signal, 0.6875, 1e-12)
	assertClose(t, "difference", eval.Signal.Difference, 1.38, 1e-12)
}

func TestEngine_SellOnDownwardCross(t *testing.T) {
	eval, err := NewEngine(fastCfg).Evaluate(seriesOf(10, 11, 12, 13, 8))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Signal.Kind != model.SignalSell {
		t.Fatalf("kind = %v, want SELL", eval.Signal.Kind)
	}
}

func TestEngine_ConstantSeriesNeverSignals(t *testing.T) {
	eval, err := NewEngine(DefaultMACDConfig()).Evaluate(seriesOf(250, 250, 250, 250, 250))
	if err != nil {
		t.Fatal(err)
	}
	if eval.Signal.Kind != model.SignalNone {
		t.Errorf("kind = %v, want NONE", eval.Signal.Kind)
	}
	if eval.Signal.Difference != 0 {
		t.Errorf("difference = %v, want 0", eval.Signal.Difference)
	}
}

func TestEngine_InsufficientData(t *testing.T) {
	engine := NewEngine(DefaultMACDConfig())
	for _, series := range []model.PriceSeries{nil, seriesOf(100)} {
		eval, err := engine.Evaluate(series)
		if !errors.Is(err, model.ErrInsufficientData) {
			t.Errorf("len=%d: err = %v, want ErrInsufficientData", len(series), err)
		}
		if eval.Points != nil {
			t.Errorf("len=%d: expected no points", len(series))
		}
	}
}

func TestEngine_Idempotent(t *testing.T) {
	closes := make([]float64, 90)
	for i := range closes {
		closes[i] = 100 + math.Cos(float64(i)/5)*3
	}
	series := seriesOf(closes...)
	engine := NewEngine(DefaultMACDConfig())

	first, err := engine.Evaluate(series)
	if err != nil {
		t.Fatal(err)
	}
	second, err := engine.Evaluate(series)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("two evaluations of the same series differ")
	}
}

func TestEngine_DoesNotMutateInput(t *testing.T) {
	series := seriesOf(10, 9, 8, 7, 12)
	snapshot := append(model.PriceSeries(nil), series...)

	if _, err := NewEngine(fastCfg).Evaluate(series); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(series, snapshot) {
		t.Fatal("Evaluate modified its input")
	}
}

func TestEngine_ConcurrentUse(t *testing.T) {
	engine := NewEngine(fastCfg)
	want, _ := engine.Evaluate(seriesOf(10, 9, 8, 7, 12))

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := engine.Evaluate(seriesOf(10, 9, 8, 7, 12))
			if err != nil || !reflect.DeepEqual(got, want) {
				errs <- "concurrent evaluation diverged"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestEvaluation_Tail(t *testing.T) {
	eval, _ := NewEngine(fastCfg).Evaluate(seriesOf(1, 2, 3, 4, 5, 6))
	if got := len(eval.Tail(4)); got != 4 {
		t.Errorf("Tail(4) = %d points", got)
	}
	if got := len(eval.Tail(50)); got != 6 {
		t.Errorf("Tail(50) = %d points", got)
	}
	if got := len(eval.Tail(0)); got != 6 {
		t.Errorf("Tail(0) = %d points", got)
	}
	if !eval.Tail(2)[1].TS.Equal(eval.Points[5].TS) {
		t.Error("Tail does not end at the latest point")
	}
}
