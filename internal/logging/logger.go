// Package logging provides structured logging for the pulsefeed sync engine.
// The API takes a message plus optional context maps; output is JSON via zap.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// Logger wraps a zap logger behind the context-map API used across the engine.
type Logger struct {
	z *zap.Logger
}

var (
	global *Logger
	once   sync.Once
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init sets the global logger's minimum level. The logger itself is built at
// most once; config loading may log before the configured level is known, so
// later calls adjust the level rather than being ignored.
func Init(minLevel LogLevel) {
	level.SetLevel(zapLevel(minLevel))
	once.Do(func() {
		global = newLogger()
	})
}

// Get returns the global logger instance.
func Get() *Logger {
	once.Do(func() {
		global = newLogger()
	})
	return global
}

func newLogger() *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	z, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// fields converts context maps to zap fields, merging later maps over earlier.
func fields(err error, context ...map[string]interface{}) []zap.Field {
	var fs []zap.Field
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	for _, c := range context {
		for k, v := range c {
			fs = append(fs, zap.Any(k, v))
		}
	}
	return fs
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.z.Debug(message, fields(nil, context...)...)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.z.Info(message, fields(nil, context...)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.z.Warn(message, fields(nil, context...)...)
}

// Error logs an error message.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	l.z.Error(message, fields(err, context...)...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

// Convenience functions using the global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}
