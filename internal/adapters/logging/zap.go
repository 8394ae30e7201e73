// Package logging implements ports.Logger on top of zap.
//
// Console output is human readable and honors the configured level. The
// optional log file always receives JSON records at debug level so that the
// full history of a run is available after the fact.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/replica-install/internal/ports"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap.Logger to ports.Logger.
type ZapLogger struct {
	base    *zap.Logger
	console zap.AtomicLevel
	closers []io.Closer
}

// Option configures New.
type Option func(*options)

type options struct {
	console io.Writer
	logFile string
	level   ports.Level
}

// WithConsole sets the console writer (default: os.Stderr). A nil writer
// disables console output.
func WithConsole(w io.Writer) Option {
	return func(o *options) {
		o.console = w
	}
}

// WithLogFile appends JSON records to path, creating parent directories.
func WithLogFile(path string) Option {
	return func(o *options) {
		o.logFile = path
	}
}

// WithLevel sets the minimum console level (default: Info).
func WithLevel(level ports.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// New builds a ZapLogger. Call Close to flush and release the log file.
func New(opts ...Option) (*ZapLogger, error) {
	o := options{console: os.Stderr, level: ports.LevelInfo}
	for _, opt := range opts {
		opt(&o)
	}

	consoleLevel := zap.NewAtomicLevelAt(toZapLevel(o.level))
	cores := make([]zapcore.Core, 0, 2)
	var closers []io.Closer

	if o.console != nil {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.TimeKey = ""
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(enc),
			zapcore.Lock(zapcore.AddSync(o.console)),
			consoleLevel,
		))
	}

	if o.logFile != "" {
		if err := os.MkdirAll(filepath.Dir(o.logFile), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closers = append(closers, f)
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(f),
			zap.DebugLevel,
		))
	}

	return &ZapLogger{
		base:    zap.New(zapcore.NewTee(cores...)),
		console: consoleLevel,
		closers: closers,
	}, nil
}

// NewFromCore wraps an existing core, mainly for tests using zaptest/observer.
func NewFromCore(core zapcore.Core) *ZapLogger {
	return &ZapLogger{
		base:    zap.New(core),
		console: zap.NewAtomicLevelAt(zap.DebugLevel),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *ZapLogger {
	return &ZapLogger{
		base:    zap.NewNop(),
		console: zap.NewAtomicLevelAt(zap.InfoLevel),
	}
}

// Debug logs a debug message.
func (l *ZapLogger) Debug(_ context.Context, msg string, fields ...ports.Field) {
	l.base.Debug(msg, toZapFields(fields)...)
}

// Info logs an informational message.
func (l *ZapLogger) Info(_ context.Context, msg string, fields ...ports.Field) {
	l.base.Info(msg, toZapFields(fields)...)
}

// Warn logs a warning.
func (l *ZapLogger) Warn(_ context.Context, msg string, fields ...ports.Field) {
	l.base.Warn(msg, toZapFields(fields)...)
}

// Error logs an error.
func (l *ZapLogger) Error(_ context.Context, msg string, fields ...ports.Field) {
	l.base.Error(msg, toZapFields(fields)...)
}

// With returns a child logger. The child shares the console level and does
// not own the log file.
func (l *ZapLogger) With(fields ...ports.Field) ports.Logger {
	return &ZapLogger{
		base:    l.base.With(toZapFields(fields)...),
		console: l.console,
	}
}

// Level returns the console level.
func (l *ZapLogger) Level() ports.Level {
	return fromZapLevel(l.console.Level())
}

// SetLevel changes the console level.
func (l *ZapLogger) SetLevel(level ports.Level) {
	l.console.SetLevel(toZapLevel(level))
}

// Close flushes buffered entries and closes the log file.
func (l *ZapLogger) Close() error {
	_ = l.base.Sync()
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}

func toZapFields(fields []ports.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func toZapLevel(level ports.Level) zapcore.Level {
	switch level {
	case ports.LevelDebug:
		return zap.DebugLevel
	case ports.LevelWarn:
		return zap.WarnLevel
	case ports.LevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func fromZapLevel(level zapcore.Level) ports.Level {
	switch {
	case level <= zap.DebugLevel:
		return ports.LevelDebug
	case level == zap.InfoLevel:
		return ports.LevelInfo
	case level == zap.WarnLevel:
		return ports.LevelWarn
	default:
		return ports.LevelError
	}
}

var _ ports.Logger = (*ZapLogger)(nil)
