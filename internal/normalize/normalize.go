// Package normalize turns raw feed rows into a PriceSeries the indicator
// engine can trust: every sample has a price, a zone, a unique instant, and
// the series is ascending.
//
// The package is pure: it performs no I/O and never mutates its input.
package normalize

import (
	"fmt"
	"math"
	"sort"
	"time"

	"macdwatch/internal/markethours"
	"macdwatch/internal/model"
)

// Normalizer cleans raw series into PriceSeries labelled in Zone.
type Normalizer struct {
	// Zone is the display zone samples are converted into. Conversion never
	// changes the underlying instant.
	Zone *time.Location

	// OnDropped is called for each row dropped for a missing or non-finite
	// close. err wraps model.ErrMalformedSample and names the reason.
	OnDropped func(raw model.RawSample, err error)

	// OnDuplicate is called for each earlier row superseded by a later row
	// with the same instant.
	OnDuplicate func(ts time.Time)
}

// New returns a Normalizer for the given display zone (IST when nil).
func New(zone *time.Location) *Normalizer {
	if zone == nil {
		zone = markethours.IST
	}
	return &Normalizer{Zone: zone}
}

type indexed struct {
	seq    int
	sample model.PriceSample
}

// Normalize drops rows without a usable close, pins naive timestamps to UTC,
// converts every timestamp to the display zone, sorts ascending by instant
// and collapses duplicate instants keeping the later-arriving row.
//
// It returns model.ErrInsufficientData (wrapped) when fewer than two samples
// survive.
func (n *Normalizer) Normalize(raw []model.RawSample) (model.PriceSeries, error) {
	zone := n.Zone
	if zone == nil {
		zone = markethours.IST
	}

	rows := make([]indexed, 0, len(raw))
	for i, r := range raw {
		if err := checkClose(r.Close); err != nil {
			if n.OnDropped != nil {
				n.OnDropped(r, fmt.Errorf("row %d at %s: %w", i, r.TS.Format(time.RFC3339), err))
			}
			continue
		}
		rows = append(rows, indexed{
			seq:    i,
			sample: model.PriceSample{TS: instant(r).In(zone), Close: *r.Close},
		})
	}

	// Stable sort keeps arrival order among equal instants, so the last row
	// of each run is the later-arriving one.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].sample.TS.Before(rows[j].sample.TS)
	})

	series := make(model.PriceSeries, 0, len(rows))
	for _, r := range rows {
		if k := len(series); k > 0 && series[k-1].TS.Equal(r.sample.TS) {
			if n.OnDuplicate != nil {
				n.OnDuplicate(r.sample.TS)
			}
			series[k-1] = r.sample
			continue
		}
		series = append(series, r.sample)
	}

	if len(series) < 2 {
		return nil, fmt.Errorf("%w: %d usable of %d raw samples", model.ErrInsufficientData, len(series), len(raw))
	}
	return series, nil
}

// instant resolves the absolute instant of a raw row. Naive timestamps keep
// their wall-clock fields and are read as UTC.
func instant(r model.RawSample) time.Time {
	if !r.Naive {
		return r.TS
	}
	ts := r.TS
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), time.UTC)
}

func checkClose(p *float64) error {
	switch {
	case p == nil:
		return fmt.Errorf("%w: missing close", model.ErrMalformedSample)
	case math.IsNaN(*p):
		return fmt.Errorf("%w: NaN close", model.ErrMalformedSample)
	case math.IsInf(*p, 0):
		return fmt.Errorf("%w: infinite close", model.ErrMalformedSample)
	}
	return nil
}

// ToZone returns a copy of series relabelled in loc. Instants are unchanged.
func ToZone(series model.PriceSeries, loc *time.Location) model.PriceSeries {
	out := make(model.PriceSeries, len(series))
	for i, s := range series {
		out[i] = model.PriceSample{TS: s.TS.In(loc), Close: s.Close}
	}
	return out
}
