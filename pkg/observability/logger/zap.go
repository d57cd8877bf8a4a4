package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger on top of a zap sugared logger.
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// LogLevel represents the logging level
type LogLevel string

// Log level constants
const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

// Log format constants
const (
	// JSONFormat outputs structured JSON logs
	JSONFormat LogFormat = "json"
	// TextFormat outputs human-readable console logs
	TextFormat LogFormat = "text"
)

// Config holds configuration for the logger
type Config struct {
	Level  LogLevel
	Format LogFormat
	// Output defaults to stdout.
	Output io.Writer
	// Fields are attached to every entry, for example the service name.
	Fields map[string]string
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:  InfoLevel,
		Format: JSONFormat,
	}
}

// NewZapLogger creates a ZapLogger writing JSON or console output at the configured level.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	level, err := zapLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case JSONFormat, "":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case TextFormat:
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	for key, value := range cfg.Fields {
		base = base.With(zap.String(key, value))
	}

	return &ZapLogger{
		logger: base,
		sugar:  base.Sugar(),
	}, nil
}

func zapLevel(level LogLevel) (zapcore.Level, error) {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel, nil
	case InfoLevel, "":
		return zapcore.InfoLevel, nil
	case WarnLevel:
		return zapcore.WarnLevel, nil
	case ErrorLevel:
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// Debug logs a debug-level message with optional key-value pairs
func (l *ZapLogger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info logs an info-level message with optional key-value pairs
func (l *ZapLogger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs
func (l *ZapLogger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error logs an error-level message with optional key-value pairs
func (l *ZapLogger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// With creates a child logger with additional key-value pairs.
func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{
		logger: l.logger,
		sugar:  l.sugar.With(args...),
	}
}

// WithContext attaches the job id and, when a span is recording, the trace
// and span ids found in ctx.
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}

	var args []any
	if jobID := JobIDFromContext(ctx); jobID != "" {
		args = append(args, "job_id", jobID)
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		args = append(args, "trace_id", spanCtx.TraceID().String(), "span_id", spanCtx.SpanID().String())
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}

// Sync flushes any buffered log entries. Applications should call this before exiting.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// ParseLogLevel converts a string to a LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return "", fmt.Errorf("invalid log level: %s", level)
	}
}

// ParseLogFormat converts a string to a LogFormat
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return JSONFormat, nil
	case "text", "console":
		return TextFormat, nil
	default:
		return "", fmt.Errorf("invalid log format: %s", format)
	}
}
