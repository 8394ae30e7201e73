package ports

import "context"

// Level represents the severity of a log message.
type Level int

const (
	// LevelDebug is for verbose debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general operational information.
	LevelInfo
	// LevelWarn is for potentially problematic situations.
	LevelWarn
	// LevelError is for error conditions.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field is a structured logging key/value pair.
type Field struct {
	Key   string
	Value any
}

// F creates a new Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err creates the conventional "error" field.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is the structured logger used by the installer and its steps.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry.
	With(fields ...Field) Logger

	Level() Level
	SetLevel(level Level)
}

// LoggerFromContext retrieves a Logger from the context.
// Returns a discarding logger if none is present.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return logger
	}
	return discard{}
}

// ContextWithLogger returns a new context with the logger attached.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

type loggerKey struct{}

type discard struct{}

func (discard) Debug(context.Context, string, ...Field) {}
func (discard) Info(context.Context, string, ...Field)  {}
func (discard) Warn(context.Context, string, ...Field)  {}
func (discard) Error(context.Context, string, ...Field) {}
func (d discard) With(...Field) Logger                  { return d }
func (discard) Level() Level                            { return LevelError }
func (discard) SetLevel(Level)                          {}
