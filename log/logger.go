package log

import (
	"context"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "plunge.logger"

var defaultLevel = func() Level {
	if level, ok := ParseLevel(os.Getenv("PLUNGE_LOG_LEVEL")); ok {
		return level
	}
	return LevelWarn
}()

// SetDefaultLevel sets the level used when no explicit level is given.
func SetDefaultLevel(level Level) {
	defaultLevel = level
}

// GetDefaultLevel returns the current default log level.
func GetDefaultLevel() Level {
	return defaultLevel
}

// Logger is the logging interface used throughout the module. It aligns
// with slog semantics so adapters for other logging libraries stay small.
type Logger interface {
	// Debug logs a message at debug level with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs a message at info level with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a message at warn level with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs a message at error level with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a Logger that includes the given attributes in each
	// output operation.
	With(args ...any) Logger
}

// WithLogger returns a new context carrying the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the logger carried by the context, or a default logger.
func Ctx(ctx context.Context) Logger {
	if ctx == nil {
		return New(defaultLevel)
	}
	logger, ok := ctx.Value(loggerKey).(Logger)
	if !ok {
		return New(defaultLevel)
	}
	return logger
}

// ParseLevel converts a string to a Level, reporting whether it matched.
func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(value) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelWarn, false
	}
}

// LevelFromString converts a string to a Level, falling back to the
// default level for unrecognized input.
func LevelFromString(value string) Level {
	if level, ok := ParseLevel(value); ok {
		return level
	}
	return defaultLevel
}
