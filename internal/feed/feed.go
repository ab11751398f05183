// Package feed provides price-series sources for the poller: the Angel One
// historical candle API, a rate limiter wrapper, a random-walk simulator for
// offline runs, and CSV replay.
//
// Every source returns raw samples; cleaning is the normalizer's job.
package feed

import (
	"time"

	"macdwatch/internal/model"
)

// Feed supplies the raw price series for one instrument per cycle.
type Feed = model.SeriesFetcher

// Defaults shared by the live and simulated feeds.
const (
	DefaultInterval = "1m"
	DefaultLookback = 24 * time.Hour
)
