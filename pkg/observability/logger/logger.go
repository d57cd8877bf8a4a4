package logger

import "context"

// Logger is the structured logger used across the queue. Every method takes a
// message followed by alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that adds args to every entry.
	With(args ...any) Logger

	// WithContext returns a child logger carrying the job and trace ids found in ctx.
	WithContext(ctx context.Context) Logger
}

type contextKey struct{ name string }

var jobIDKey = &contextKey{"job_id"}

// ContextWithJobID stores a job id so WithContext can attach it to log entries.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	if jobID == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext returns the job id stored by ContextWithJobID.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	jobID, _ := ctx.Value(jobIDKey).(string)
	return jobID
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) With(...any) Logger { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
