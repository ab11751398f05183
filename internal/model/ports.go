package model

import "context"

// ── Collaborator ports ──
// The indicator core never imports these; they decouple the scheduler from
// concrete feeds and sinks.

// SeriesFetcher supplies a raw price series for one instrument per cycle.
type SeriesFetcher interface {
	Fetch(ctx context.Context, inst Instrument) ([]RawSample, error)
}

// SignalSink receives one SignalUpdate per (cycle, instrument).
type SignalSink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Publish delivers an update. Errors are logged by the caller and do not
	// stop other sinks.
	Publish(ctx context.Context, u SignalUpdate) error
}
