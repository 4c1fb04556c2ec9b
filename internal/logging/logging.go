// Package logging builds the zap loggers used by both binaries.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Level is a zap level name ("debug", "info", ...). Empty means info.
	Level string
	// Format is "json" (production) or "console" (development).
	Format string
}

func New(cfg Config) (*zap.Logger, error) {
	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "time"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging: invalid level %q: %w", cfg.Level, err)
		}
		zc.Level = lvl
	}
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, nil
}

// WithStoreSink tees every entry the sink core enables into it as well.
func WithStoreSink(logger *zap.Logger, sink zapcore.Core) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, sink)
	}))
}

// Scope times one operation. Every Begin must be paired with End on all
// exit paths, usually through defer.
type Scope struct {
	logger *zap.Logger
	name   string
	start  time.Time
}

func Begin(logger *zap.Logger, name string, fields ...zap.Field) *Scope {
	l := logger.With(append([]zap.Field{zap.String("operation", name)}, fields...)...)
	l.Debug("operation started")
	return &Scope{logger: l, name: name, start: time.Now()}
}

// End logs completion, or failure when err is non-nil, with the elapsed time.
func (s *Scope) End(err error) {
	elapsed := zap.Float64("duration_ms", float64(time.Since(s.start).Microseconds())/1000)
	if err != nil {
		s.logger.Error("operation failed", elapsed, zap.Error(err))
		return
	}
	s.logger.Info("operation completed", elapsed)
}
