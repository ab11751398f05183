package model

import (
	"encoding/json"
	"time"
)

// Instrument identifies a watched symbol. Token is the broker's symbol token
// (e.g. "1333" for HDFCBANK on NSE) used by feeds that key on it.
type Instrument struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Exchange string `json:"exchange" yaml:"exchange"`
	Token    string `json:"token" yaml:"token"`
}

// Key returns "exchange:symbol".
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Symbol
}

// Update statuses.
const (
	StatusOK               = "ok"
	StatusInsufficientData = "insufficient_data"
	StatusFeedError        = "feed_error"
)

// SignalUpdate is what one scheduler cycle hands to presentation sinks for
// one instrument. Signal is nil unless Status is StatusOK. Points holds the
// trailing chart window.
type SignalUpdate struct {
	Symbol   string           `json:"symbol"`
	Exchange string           `json:"exchange"`
	Status   string           `json:"status"`
	Signal   *TradeSignal     `json:"signal,omitempty"`
	Points   []IndicatorPoint `json:"points,omitempty"`
	Samples  int              `json:"samples"`
	Err      string           `json:"error,omitempty"`
	At       time.Time        `json:"at"`
}

// Key returns "exchange:symbol".
func (u *SignalUpdate) Key() string {
	return u.Exchange + ":" + u.Symbol
}

// JSON returns the JSON-encoded update (ignoring errors; the type always encodes).
func (u *SignalUpdate) JSON() []byte {
	b, _ := json.Marshal(u)
	return b
}

// Actionable reports whether the update carries a BUY or SELL.
func (u *SignalUpdate) Actionable() bool {
	return u.Signal != nil && u.Signal.Kind != SignalNone
}
