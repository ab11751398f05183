package model

import (
	"errors"
	"time"
)

// ErrInsufficientData is returned when fewer than two usable samples remain.
// Callers treat it as "no signal this cycle", never as a fatal error.
var ErrInsufficientData = errors.New("insufficient data")

// ErrMalformedSample marks a raw row that has no usable close price.
var ErrMalformedSample = errors.New("malformed sample")

// RawSample is one row as delivered by a feed, before normalization.
// Naive is true when the timestamp carried no zone information; its wall-clock
// fields are then interpreted in the feed's native zone (UTC).
// Close is nil when the row has no price.
type RawSample struct {
	TS    time.Time `json:"ts"`
	Naive bool      `json:"naive,omitempty"`
	Close *float64  `json:"close"`
}

// Price returns a pointer suitable for RawSample.Close.
func Price(v float64) *float64 { return &v }

// PriceSample is a single cleaned close price.
type PriceSample struct {
	TS    time.Time `json:"ts"`
	Close float64   `json:"close"`
}

// PriceSeries is ascending by instant with no duplicate instants.
type PriceSeries []PriceSample

// Closes returns the close prices in series order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Close
	}
	return out
}

// Last returns the most recent sample. The series must not be empty.
func (s PriceSeries) Last() PriceSample {
	return s[len(s)-1]
}
