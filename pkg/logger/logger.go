// Package logger is the field-style logging front end used by the HTTP
// interface and the process entrypoints. Records are handed to log/slog, so
// everything written through a Logger shares the slog handler (format,
// level, destination) of the rest of the process.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
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

// ParseLevel parses a string into a Level. Unknown input means info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Slog maps the level onto slog.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FIELDS
// ══════════════════════════════════════════════════════════════════════════════

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F creates a field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

func String(key, value string) Field          { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field     { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value} }
func Any(key string, value any) Field         { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Err creates an "error" field. A nil error yields a nil value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration creates a field rendered as a Go duration string.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func attrs(fields []Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// Logger wraps an *slog.Logger with typed fields.
type Logger struct {
	sl *slog.Logger
}

// Options configures New.
type Options struct {
	Output io.Writer
	Level  Level
	// Format is "json" or "text" (default json).
	Format    string
	AddSource bool
}

// DefaultOptions returns JSON on stdout at info level.
func DefaultOptions() Options {
	return Options{Output: os.Stdout, Level: LevelInfo, Format: "json"}
}

// NewHandler builds the slog handler described by opts.
func NewHandler(opts Options) slog.Handler {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: opts.Level.Slog(), AddSource: opts.AddSource}
	if strings.EqualFold(opts.Format, "text") {
		return slog.NewTextHandler(opts.Output, ho)
	}
	return slog.NewJSONHandler(opts.Output, ho)
}

// New creates a Logger with its own handler.
func New(opts Options) *Logger {
	return &Logger{sl: slog.New(NewHandler(opts))}
}

// FromSlog wraps an existing slog logger.
func FromSlog(sl *slog.Logger) *Logger {
	if sl == nil {
		sl = slog.Default()
	}
	return &Logger{sl: sl}
}

// Default wraps slog.Default().
func Default() *Logger {
	return FromSlog(slog.Default())
}

// Slog returns the underlying slog logger.
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

// With returns a Logger that adds fields to every record.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{sl: l.sl.With(attrs(fields)...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.sl.Debug(msg, attrs(fields)...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.sl.Info(msg, attrs(fields)...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.sl.Warn(msg, attrs(fields)...) }
func (l *Logger) Error(msg string, fields ...Field) { l.sl.Error(msg, attrs(fields)...) }

// Enabled reports whether level would be written.
func (l *Logger) Enabled(ctx context.Context, level Level) bool {
	return l.sl.Enabled(ctx, level.Slog())
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// RequestIDKey is the field key of the HTTP request ID.
const RequestIDKey = "request_id"

// WithRequestID returns a logger tagged with the request ID.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

// Domain fields.
func ScheduleID(id string) Field    { return String("schedule_id", id) }
func EnrollmentID(id string) Field  { return String("enrollment_id", id) }
func StudentID(id string) Field     { return String("student_id", id) }
func TeacherID(id string) Field     { return String("teacher_id", id) }
func SessionDate(date string) Field { return String("session_date", date) }
func Job(name string) Field         { return String("job", name) }
func Component(name string) Field   { return String("component", name) }
func Operation(name string) Field   { return String("operation", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
