package log

import (
	"fmt"
	"os"
)

var defaultLogger *Logger = NewText(os.Stderr)

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault replaces the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Open creates a text logger writing to file at the given level.
// An empty file name logs to stderr. The returned closer releases the file.
func Open(file string, level string) (*Logger, func() error, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	out, closer := os.Stderr, func() error { return nil }
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open log file: %w", err)
		}
		out, closer = f, f.Close
	}

	logger := NewText(out)
	logger.SetLevel(lvl)
	return logger, closer, nil
}

// Trace level message.
func Trace(t any, msg string, v ...any) {
	defaultLogger.log(t, msg, LevelTrace, v...)
}

// Debug level message.
func Debug(t any, msg string, v ...any) {
	defaultLogger.log(t, msg, LevelDebug, v...)
}

// Info level message.
func Info(t any, msg string, v ...any) {
	defaultLogger.log(t, msg, LevelInfo, v...)
}

// Warn level message.
func Warn(t any, msg string, v ...any) {
	defaultLogger.log(t, msg, LevelWarn, v...)
}

// Error level message.
func Error(t any, msg string, v ...any) {
	defaultLogger.log(t, msg, LevelError, v...)
}

// Fatal level message, followed by an exit.
func Fatal(t any, msg string, v ...any) {
	defaultLogger.Fatal(t, msg, v...)
	os.Exit(1)
}

// HasTrace returns if trace level is enabled.
func HasTrace() bool {
	return defaultLogger.Level() <= LevelTrace
}
