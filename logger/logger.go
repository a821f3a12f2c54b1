package logger

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.SugaredLogger]

func init() {
	current.Store(build("info"))
}

func build(level string) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Sampling = nil

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init replaces the process logger with one at the given level.
func Init(level string) {
	prev := current.Swap(build(level))
	if prev != nil {
		_ = prev.Sync()
	}
}

// Use installs an existing zap logger, e.g. zap.NewNop() in tests.
func Use(l *zap.Logger) {
	current.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
}

func Sync() {
	_ = current.Load().Sync()
}

func Debug(msg string, kv ...any) { current.Load().Debugw(msg, kv...) }
func Info(msg string, kv ...any)  { current.Load().Infow(msg, kv...) }
func Warn(msg string, kv ...any)  { current.Load().Warnw(msg, kv...) }
func Error(msg string, kv ...any) { current.Load().Errorw(msg, kv...) }
