// Package logging provides the process-wide structured logger for botbuilder.
//
// Diagnostics go through zap; user-facing conversation output is written to
// stdout by the CLI and never routed through this package.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	mu     sync.Mutex
)

// Options controls how the global logger is built.
type Options struct {
	// Environment selects the production JSON encoder when set to "production".
	Environment string
	// Verbose lowers the level to debug.
	Verbose bool
	// OutputPaths overrides where log lines are written. Defaults to stderr so
	// logs never interleave with the interactive conversation on stdout.
	OutputPaths []string
}

// Init (re)builds the global logger.
func Init(opts Options) error {
	var cfg zap.Config
	if opts.Environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	if opts.Verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	if len(opts.OutputPaths) > 0 {
		cfg.OutputPaths = opts.OutputPaths
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	logger = l
	sugar = l.Sugar()
	return nil
}

// L returns the global structured logger.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			// Fallback to nop logger
			l = zap.NewNop()
		}
		logger = l
		sugar = l.Sugar()
	}
	return logger
}

// S returns the global sugared logger (printf-style).
func S() *zap.SugaredLogger {
	L()
	mu.Lock()
	defer mu.Unlock()
	return sugar
}

// Set replaces the global logger. Tests use it to silence output.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	sugar = l.Sugar()
}

// Sync flushes any buffered log entries. Call before app exit.
func Sync() {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}

// WithContext returns a logger with additional structured fields.
func WithContext(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}
