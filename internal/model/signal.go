package model

import (
	"fmt"
	"strings"
	"time"
)

// SignalKind is the discrete trading signal derived from a MACD crossover.
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalBuy
	SignalSell
)

func (k SignalKind) String() string {
	switch k {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "NONE"
	}
}

// MarshalText encodes the kind as "BUY", "SELL" or "NONE".
func (k SignalKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts the values produced by MarshalText (case-insensitive).
func (k *SignalKind) UnmarshalText(b []byte) error {
	kind, err := ParseSignalKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseSignalKind parses "BUY", "SELL" or "NONE".
func ParseSignalKind(s string) (SignalKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SignalBuy, nil
	case "SELL":
		return SignalSell, nil
	case "NONE", "":
		return SignalNone, nil
	}
	return SignalNone, fmt.Errorf("unknown signal kind %q", s)
}

// IndicatorPoint holds the MACD and signal line values for one sample.
type IndicatorPoint struct {
	TS     time.Time `json:"ts"`
	MACD   float64   `json:"macd"`
	Signal float64   `json:"signal"`
}

// TradeSignal is the crossover verdict for the most recent bar.
// Difference is |MACD - Signal| at that bar rounded to 2 decimals; it is
// informational and plays no part in the decision.
type TradeSignal struct {
	Kind       SignalKind `json:"kind"`
	TS         time.Time  `json:"ts"`
	MACD       float64    `json:"macd"`
	Signal     float64    `json:"signal"`
	Difference float64    `json:"difference"`
}

// Evaluation is the result of one engine pass over a PriceSeries.
type Evaluation struct {
	Points []IndicatorPoint `json:"points"`
	Signal TradeSignal      `json:"signal"`
}

// Tail returns at most the last n points. n <= 0 returns all points.
func (e Evaluation) Tail(n int) []IndicatorPoint {
	if n <= 0 || n >= len(e.Points) {
		return e.Points
	}
	return e.Points[len(e.Points)-n:]
}
