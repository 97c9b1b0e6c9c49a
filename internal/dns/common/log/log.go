package log

import (
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global Logger = newZapLogger(false, zapcore.InfoLevel)

// Logger is the sinkhole logging facade. Every call takes structured fields
// first and a short message second.
type Logger interface {
	Info(fields map[string]any, msg string)
	Error(fields map[string]any, msg string)
	Debug(fields map[string]any, msg string)
	Warn(fields map[string]any, msg string)
	Panic(fields map[string]any, msg string)
	Fatal(fields map[string]any, msg string)
}

// SetLogger replaces the global logger instance.
func SetLogger(l Logger) {
	global = l
}

// GetLogger returns the current global logger instance.
func GetLogger() Logger {
	return global
}

// Configure rebuilds the global logger. Any env other than "prod" selects the
// colored development encoder.
func Configure(env, level string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	global = newZapLogger(env != "prod", lvl)
	return nil
}

// With returns a Logger that stamps base onto every entry written through l.
// Per-call fields win over base fields with the same key.
func With(l Logger, base map[string]any) Logger {
	if len(base) == 0 {
		return l
	}
	if w, ok := l.(*withLogger); ok {
		merged := maps.Clone(w.base)
		maps.Copy(merged, base)
		return &withLogger{next: w.next, base: merged}
	}
	return &withLogger{next: l, base: maps.Clone(base)}
}

// Component is shorthand for With(GetLogger(), {"component": name}).
func Component(name string) Logger {
	return With(GetLogger(), map[string]any{"component": name})
}

func Info(fields map[string]any, msg string)  { global.Info(fields, msg) }
func Error(fields map[string]any, msg string) { global.Error(fields, msg) }
func Debug(fields map[string]any, msg string) { global.Debug(fields, msg) }
func Warn(fields map[string]any, msg string)  { global.Warn(fields, msg) }
func Panic(fields map[string]any, msg string) { global.Panic(fields, msg) }
func Fatal(fields map[string]any, msg string) { global.Fatal(fields, msg) }

type withLogger struct {
	next Logger
	base map[string]any
}

func (w *withLogger) merge(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return w.base
	}
	out := make(map[string]any, len(w.base)+len(fields))
	maps.Copy(out, w.base)
	maps.Copy(out, fields)
	return out
}

func (w *withLogger) Info(fields map[string]any, msg string)  { w.next.Info(w.merge(fields), msg) }
func (w *withLogger) Error(fields map[string]any, msg string) { w.next.Error(w.merge(fields), msg) }
func (w *withLogger) Debug(fields map[string]any, msg string) { w.next.Debug(w.merge(fields), msg) }
func (w *withLogger) Warn(fields map[string]any, msg string)  { w.next.Warn(w.merge(fields), msg) }
func (w *withLogger) Panic(fields map[string]any, msg string) { w.next.Panic(w.merge(fields), msg) }
func (w *withLogger) Fatal(fields map[string]any, msg string) { w.next.Fatal(w.merge(fields), msg) }

// zapLogger implements Logger on top of zap.
type zapLogger struct {
	base *zap.Logger
}

func newZapLogger(dev bool, level zapcore.Level) Logger {
	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"

	logger, err := cfg.Build()
	if err != nil {
		return &noopLogger{}
	}
	return &zapLogger{base: logger}
}

func (l *zapLogger) Info(fields map[string]any, msg string)  { l.base.Info(msg, zapFields(fields)...) }
func (l *zapLogger) Error(fields map[string]any, msg string) { l.base.Error(msg, zapFields(fields)...) }
func (l *zapLogger) Debug(fields map[string]any, msg string) { l.base.Debug(msg, zapFields(fields)...) }
func (l *zapLogger) Warn(fields map[string]any, msg string)  { l.base.Warn(msg, zapFields(fields)...) }
func (l *zapLogger) Panic(fields map[string]any, msg string) { l.base.Panic(msg, zapFields(fields)...) }
func (l *zapLogger) Fatal(fields map[string]any, msg string) { l.base.Fatal(msg, zapFields(fields)...) }

func zapFields(m map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		if err, ok := v.(error); ok {
			fields = append(fields, zap.NamedError(k, err))
			continue
		}
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

// noopLogger discards everything.
type noopLogger struct{}

func (*noopLogger) Info(map[string]any, string)  {}
func (*noopLogger) Error(map[string]any, string) {}
func (*noopLogger) Debug(map[string]any, string) {}
func (*noopLogger) Warn(map[string]any, string)  {}
func (*noopLogger) Panic(map[string]any, string) {}
func (*noopLogger) Fatal(map[string]any, string) {}

// NewNoopLogger returns a Logger that discards all log messages.
func NewNoopLogger() Logger {
	return &noopLogger{}
}
