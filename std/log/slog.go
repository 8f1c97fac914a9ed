package log

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
)

type Logger struct {
	slog  *slog.Logger
	level atomic.Int64
}

type Tag interface {
	String() string
}

func NewText(w io.Writer) *Logger {
	return newLogger(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       slog.Level(LevelTrace),
		ReplaceAttr: replaceAttr,
	}))
}

func NewJson(w io.Writer) *Logger {
	return newLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.Level(LevelTrace),
		ReplaceAttr: replaceAttr,
	}))
}

func newLogger(h slog.Handler) *Logger {
	l := &Logger{slog: slog.New(h)}
	l.level.Store(int64(LevelInfo))
	return l
}

// SetLevel sets the logging level and returns the previous level.
// Netlink callbacks log from their own goroutine, so the level is atomic.
func (l *Logger) SetLevel(level Level) (prev Level) {
	return Level(l.level.Swap(int64(level)))
}

// Level returns the current logging level.
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// Generic level message.
func (l *Logger) log(t any, msg string, level Level, v ...any) {
	current := l.Level()
	if current > level {
		return
	}

	// Get source information if debug logs
	if current <= LevelDebug {
		if pc, _, _, ok := runtime.Caller(2); ok {
			if f := runtime.FuncForPC(pc); f != nil {
				v = append(v, slog.SourceKey, f.Name())
			}
		}
	}

	// Get tag
	if t != nil {
		if tag, ok := t.(Tag); ok {
			v = append([]any{"tag", tag.String()}, v...)
		} else {
			v = append([]any{"tag", t}, v...)
		}
	}

	l.slog.Log(context.Background(), slog.Level(level), msg, v...)
}

// Trace level message.
func (l *Logger) Trace(t any, msg string, v ...any) {
	l.log(t, msg, LevelTrace, v...)
}

// Debug level message.
func (l *Logger) Debug(t any, msg string, v ...any) {
	l.log(t, msg, LevelDebug, v...)
}

// Info level message.
func (l *Logger) Info(t any, msg string, v ...any) {
	l.log(t, msg, LevelInfo, v...)
}

// Warn level message.
func (l *Logger) Warn(t any, msg string, v ...any) {
	l.log(t, msg, LevelWarn, v...)
}

// Error level message.
func (l *Logger) Error(t any, msg string, v ...any) {
	l.log(t, msg, LevelError, v...)
}

// Fatal level message. The caller decides whether to exit.
func (l *Logger) Fatal(t any, msg string, v ...any) {
	l.log(t, msg, LevelFatal, v...)
}

// HasTrace returns if trace level is enabled.
func (l *Logger) HasTrace() bool {
	return l.Level() <= LevelTrace
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level := a.Value.Any().(slog.Level)
		a.Value = slog.StringValue(Level(level).String())
	}

	return a
}
