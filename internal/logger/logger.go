// Package logger wraps zap to provide a process-wide sugared logger with a
// console encoder plus level parsing. Components obtain named child loggers
// via Named.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.SugaredLogger

	level = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func init() {
	global = New(level)
}

// New builds a sugared logger writing console output to stdout at the given
// level.
func New(enab zapcore.LevelEnabler, options ...zap.Option) *zap.SugaredLogger {
	if enab == nil {
		enab = level
	}

	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		NameKey:        "logger",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), enab)

	return zap.New(core, options...).Sugar()
}

// L returns the global sugared logger.
func L() *zap.SugaredLogger {
	return global
}

// Named returns a child of the global logger with the given name.
func Named(name string) *zap.SugaredLogger {
	return global.Named(name)
}

// SetLevel adjusts the global minimum level.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// ParseLevel converts a textual level to a zap level, reporting whether the
// input was recognized.
func ParseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info", "":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "fatal":
		return zapcore.FatalLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}
