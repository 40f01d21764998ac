package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// EntryLogger is the non-generic form of EntryLoggerAdapter.
type EntryLogger interface {
	EntryLoggerAdapter[EntryLogger]
}

// EntryLoggerAdapter is satisfied by entry-style loggers (logrus.Entry and
// friends) whose With methods return their own concrete type.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

// slog has no trace level; watermill maps Trace onto Debug-4.
var slogLevels = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger is the default backend.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("moviebus: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, slogLevels))
}

// NewWatermillServiceLogger wraps an existing Watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("moviebus: watermill logger cannot be nil")
	}
	return wmLogger{inner: logger}
}

// NewEntryServiceLogger wraps an entry-style logger.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("moviebus: entry logger cannot be nil")
	}
	return entryLogger[T]{entry: entry}
}

// NewNopServiceLogger returns a logger that discards everything.
func NewNopServiceLogger() ServiceLogger {
	return wmLogger{inner: watermill.NopLogger{}}
}

// NewWatermillAdapter hands log to the transports so driver lines go to the
// same sink with the same scoped fields as the runtime's own lines.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("moviebus: ServiceLogger cannot be nil")
	}
	if w, ok := log.(wmLogger); ok {
		return w.inner
	}
	return bridge{base: log}
}

type wmLogger struct {
	inner watermill.LoggerAdapter
}

func (w wmLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return wmLogger{inner: w.inner.With(watermill.LogFields(fields))}
}

func (w wmLogger) Debug(msg string, fields LogFields) { w.inner.Debug(msg, wmFields(fields)) }
func (w wmLogger) Info(msg string, fields LogFields)  { w.inner.Info(msg, wmFields(fields)) }
func (w wmLogger) Trace(msg string, fields LogFields) { w.inner.Trace(msg, wmFields(fields)) }

func (w wmLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, wmFields(fields))
}

type entryLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e entryLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return entryLogger[T]{entry: withFields(e.entry, fields)}
}

func (e entryLogger[T]) Debug(msg string, fields LogFields) { withFields(e.entry, fields).Debug(msg) }
func (e entryLogger[T]) Info(msg string, fields LogFields)  { withFields(e.entry, fields).Info(msg) }
func (e entryLogger[T]) Trace(msg string, fields LogFields) { withFields(e.entry, fields).Trace(msg) }

func (e entryLogger[T]) Error(msg string, err error, fields LogFields) {
	entry := withFields(e.entry, fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

func withFields[T EntryLoggerAdapter[T]](entry T, fields LogFields) T {
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	return entry
}

// bridge exposes a foreign ServiceLogger as a watermill.LoggerAdapter.
type bridge struct {
	base ServiceLogger
}

func (b bridge) Error(msg string, err error, fields watermill.LogFields) {
	b.base.Error(msg, err, LogFields(fields))
}

func (b bridge) Info(msg string, fields watermill.LogFields)  { b.base.Info(msg, LogFields(fields)) }
func (b bridge) Debug(msg string, fields watermill.LogFields) { b.base.Debug(msg, LogFields(fields)) }
func (b bridge) Trace(msg string, fields watermill.LogFields) { b.base.Trace(msg, LogFields(fields)) }

func (b bridge) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return bridge{base: b.base.With(LogFields(fields))}
}

func wmFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}
