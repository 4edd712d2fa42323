// Package logging builds the zap loggers shared by hopper components.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugLogFile is the file name used when logging to a directory.
const DebugLogFile = "hopper-debug.log"

// Config controls logger construction.
type Config struct {
	// Level is a zap level name ("debug", "info", "warn", "error"). Defaults to "info".
	Level string
	// Dir, when set, sends JSON logs to Dir/hopper-debug.log instead of stderr.
	Dir string
	// Verbose forces debug level.
	Verbose bool
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}

	if cfg.Dir == "" {
		config := zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stderr"}
		config.DisableStacktrace = true
		return config.Build()
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{filepath.Join(cfg.Dir, DebugLogFile)}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config.Build()
}

// Debugf adapts a logger to the printf-style debug hooks some packages expose.
func Debugf(logger *zap.Logger) func(format string, args ...interface{}) {
	if logger == nil {
		return func(string, ...interface{}) {}
	}
	sugar := logger.Sugar()
	return func(format string, args ...interface{}) {
		sugar.Debugf(format, args...)
	}
}
