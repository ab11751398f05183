package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"macdwatch/internal/logger"
	"macdwatch/internal/model"
)

// FormatSignal renders "BUY | MACD: 0.20 | Signal: 0.10 | Diff: 0.10".
func FormatSignal(s model.TradeSignal) string {
	return fmt.Sprintf("%s | MACD: %.2f | Signal: %.2f | Diff: %.2f", s.Kind, s.MACD, s.Signal, s.Difference)
}

// FormatUpdate renders the one-line summary of an update.
func FormatUpdate(u model.SignalUpdate) string {
	switch {
	case u.Status == model.StatusOK && u.Signal != nil:
		return FormatSignal(*u.Signal)
	case u.Err != "":
		return u.Err
	}
	return "Not enough data for " + u.Symbol
}

// LogSink writes one line per update.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink() *LogSink {
	return &LogSink{log: logger.Named("signal")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, u model.SignalUpdate) error {
	line := FormatUpdate(u)
	switch u.Status {
	case model.StatusOK:
		s.log.Infof("%s %s", u.Key(), line)
	case model.StatusFeedError:
		s.log.Warnf("%s %s", u.Key(), line)
	default:
		s.log.Infof("%s %s", u.Key(), line)
	}
	return nil
}

// AlertSink turns BUY/SELL updates into alerts. A crossover is announced once
// per (instrument, bar): the same bar re-evaluated on later cycles stays quiet.
type AlertSink struct {
	notifier Notifier
	zone     *time.Location

	mu       sync.Mutex
	lastSent map[string]time.Time // instrument key → bar timestamp
}

// NewAlertSink formats bar times in zone (UTC when nil).
func NewAlertSink(n Notifier, zone *time.Location) *AlertSink {
	if zone == nil {
		zone = time.UTC
	}
	return &AlertSink{notifier: n, zone: zone, lastSent: make(map[string]time.Time)}
}

func (s *AlertSink) Name() string { return "alerts" }

func (s *AlertSink) Publish(ctx context.Context, u model.SignalUpdate) error {
	if !u.Actionable() {
		return nil
	}
	key := u.Key()
	bar := u.Signal.TS

	s.mu.Lock()
	if last, ok := s.lastSent[key]; ok && last.Equal(bar) {
		s.mu.Unlock()
		return nil
	}
	s.lastSent[key] = bar
	s.mu.Unlock()

	alert := Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s %s", u.Signal.Kind, u.Symbol),
		Message: fmt.Sprintf("%s on %s at %s", FormatSignal(*u.Signal), u.Key(), bar.In(s.zone).Format("2006-01-02 15:04 MST")),
		Symbol:  u.Symbol,
		Kind:    u.Signal.Kind.String(),
	}
	if err := s.notifier.Send(ctx, alert); err != nil {
		// Forget the bar so the next cycle retries.
		s.mu.Lock()
		if s.lastSent[key].Equal(bar) {
			delete(s.lastSent, key)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}
