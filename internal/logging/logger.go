// Package logging provides the printf-style logger that components depend on,
// backed by the structured observability logger.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync/atomic"

	"coderev/internal/observability"
)

// Logger is the printf-style logging contract used across packages.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil, including a typed nil pointer.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var defaultLogger atomic.Pointer[observability.Logger]

func init() {
	defaultLogger.Store(observability.NewLogger(observability.LogConfig{}))
}

// SetDefault replaces the logger behind NewComponentLogger. Component loggers
// created earlier pick up the new logger on their next call.
func SetDefault(logger *observability.Logger) {
	if logger != nil {
		defaultLogger.Store(logger)
	}
}

// NewComponentLogger returns a logger tagged with component that writes to
// the current default logger.
func NewComponentLogger(component string) Logger {
	return &printfLogger{component: component, base: defaultLogger.Load}
}

// FromObservabilityWithComponent adapts a fixed structured logger.
func FromObservabilityWithComponent(logger *observability.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	return &printfLogger{component: component, base: func() *observability.Logger { return logger }}
}

type printfLogger struct {
	component string
	base      func() *observability.Logger
}

func (l *printfLogger) Debug(format string, args ...any) { l.log(slog.LevelDebug, format, args) }
func (l *printfLogger) Info(format string, args ...any)  { l.log(slog.LevelInfo, format, args) }
func (l *printfLogger) Warn(format string, args ...any)  { l.log(slog.LevelWarn, format, args) }
func (l *printfLogger) Error(format string, args ...any) { l.log(slog.LevelError, format, args) }

func (l *printfLogger) log(level slog.Level, format string, args []any) {
	logger := l.base().Slog()
	ctx := context.Background()
	if !logger.Enabled(ctx, level) {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if l.component == "" {
		logger.Log(ctx, level, msg)
		return
	}
	logger.Log(ctx, level, msg, "component", l.component)
}
