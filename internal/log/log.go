// Package log builds the process-wide zap logger. The daemon threads the
// returned logger explicitly through constructors rather than reaching for
// a package-level global.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Development selects a human-readable console encoder instead of JSON.
	Development bool
	// Level is the minimum enabled level ("debug", "info", "warn", "error").
	Level string
}

// New builds a *zap.Logger per cfg.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zcfg.Build()
}

// Nop returns a logger that discards everything, for tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}
