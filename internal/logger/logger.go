// Package logger wraps zap with the process-wide setup shared by every binary:
// one base logger configured once from LOG_LEVEL / LOG_FORMAT, and a named
// child per component.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu          sync.RWMutex
	base        = zap.NewNop()
	serviceName = "default"
)

// Init builds the base logger. level is a zap level name ("debug", "info",
// ...); format is "json" or "console". Unknown levels fall back to info.
func Init(service, level, format string) error {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(zap.Fields(zap.String("service", service)))
	if err != nil {
		return err
	}

	mu.Lock()
	base = l
	serviceName = service
	mu.Unlock()
	return nil
}

// Set replaces the base logger. Tests use it with zaptest or zap.NewNop.
func Set(l *zap.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

// Named returns a sugared logger for one component, e.g. Named("poller").
func Named(component string) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(component).Sugar()
}

// Service returns the name passed to Init.
func Service() string {
	mu.RLock()
	defer mu.RUnlock()
	return serviceName
}

// Sync flushes buffered entries. Call it before exit.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}
