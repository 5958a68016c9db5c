// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContextKey types the context values the logging pipeline knows how to
// extract. Middleware and handlers write them; ContextHandler reads them.
type ContextKey string

const (
	ContextKeyRequestID  ContextKey = "request_id"
	ContextKeySessionID  ContextKey = "session_id"
	ContextKeyTraceID    ContextKey = "trace_id"
	ContextKeyClientIP   ContextKey = "client_ip"
	ContextKeyUserAgent  ContextKey = "user_agent"
	ContextKeyMethod     ContextKey = "method"
	ContextKeyPath       ContextKey = "path"
	ContextKeyStatusCode ContextKey = "status_code"
	ContextKeyDuration   ContextKey = "duration_ms"
	ContextKeyOperator   ContextKey = "counted_by"
)

// contextKeys is the extraction order, kept stable so log lines are
// comparable across requests.
var contextKeys = []ContextKey{
	ContextKeyRequestID,
	ContextKeySessionID,
	ContextKeyTraceID,
	ContextKeyClientIP,
	ContextKeyUserAgent,
	ContextKeyMethod,
	ContextKeyPath,
	ContextKeyStatusCode,
	ContextKeyDuration,
	ContextKeyOperator,
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level            string  `json:"level"`
	Format           string  `json:"format"`
	Output           string  `json:"output"`
	AddSource        bool    `json:"add_source"`
	SampleRate       float64 `json:"sample_rate"`
	Environment      string  `json:"environment"`
	ServiceName      string  `json:"service_name"`
	ServiceVersion   string  `json:"service_version"`
	EnableSampling   bool    `json:"enable_sampling"`
	EnableStackTrace bool    `json:"enable_stack_trace"`
}

// Logger wraps slog.Logger with automatic context extraction, so a scan
// handler logs once and the session/operator fields ride along.
type Logger struct {
	*slog.Logger
	config *LogConfig
}

var defaultLogger *Logger

// SetupLogger builds the process-wide logger and installs it as the slog
// default.
func SetupLogger(level string, format string) *Logger {
	l := NewLogger(&LogConfig{
		Level:            level,
		Format:           format,
		Output:           "stdout",
		AddSource:        true,
		EnableStackTrace: level == "debug",
		ServiceName:      os.Getenv("SERVICE_NAME"),
		ServiceVersion:   os.Getenv("SERVICE_VERSION"),
		Environment:      os.Getenv("APP_ENV"),
	})

	defaultLogger = l
	slog.SetDefault(l.Logger)
	return l
}

// NewLogger assembles the handler chain for the given configuration.
func NewLogger(config *LogConfig) *Logger {
	if config == nil {
		config = &LogConfig{Level: "info", Format: "json", Output: "stdout"}
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(config.Level),
		AddSource: config.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			return replaceAttr(config, groups, a)
		},
	}

	writer := openWriter(config.Output)

	var handler slog.Handler
	if config.Format == "text" {
		handler = NewPrettyTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	// Context extraction, then sampling, then sanitization outermost so
	// every record is scrubbed.
	handler = NewContextHandler(handler, config)
	if config.EnableSampling && config.SampleRate > 0 && config.SampleRate < 1.0 {
		handler = NewSamplingHandler(handler, config.SampleRate)
	}
	handler = NewSanitizationHandler(handler)

	if attrs := serviceAttrs(config); len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}

	return &Logger{Logger: slog.New(handler), config: config}
}

func serviceAttrs(config *LogConfig) []slog.Attr {
	var attrs []slog.Attr
	if config.ServiceName != "" {
		attrs = append(attrs, slog.String("service", config.ServiceName))
	}
	if config.ServiceVersion != "" {
		attrs = append(attrs, slog.String("version", config.ServiceVersion))
	}
	if config.Environment != "" {
		attrs = append(attrs, slog.String("env", config.Environment))
	}
	return attrs
}

// WithContext returns a logger carrying the request-scoped attributes found
// in ctx.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	attrs := extractContextAttrs(ctx)
	if len(attrs) == 0 {
		return l.Logger
	}

	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return l.Logger.With(args...)
}

// LogWithContext logs with context extraction, adding caller and stack
// information for errors when enabled.
func (l *Logger) LogWithContext(ctx context.Context, level slog.Level, msg string, args ...any) {
	if level >= slog.LevelError || l.config.EnableStackTrace {
		if pc, file, line, ok := runtime.Caller(1); ok {
			args = append(args,
				slog.String("caller", fmt.Sprintf("%s:%d", file, line)),
				slog.String("function", runtime.FuncForPC(pc).Name()),
			)
		}
	}

	if level >= slog.LevelError && l.config.EnableStackTrace {
		buf := make([]byte, 8*1024)
		n := runtime.Stack(buf, false)
		args = append(args, slog.String("stack", string(buf[:n])))
	}

	l.WithContext(ctx).Log(ctx, level, msg, args...)
}

// DebugContext logs at debug level with context
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.LogWithContext(ctx, slog.LevelDebug, msg, args...)
}

// InfoContext logs at info level with context
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.LogWithContext(ctx, slog.LevelInfo, msg, args...)
}

// WarnContext logs at warn level with context
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.LogWithContext(ctx, slog.LevelWarn, msg, args...)
}

// ErrorContext logs at error level with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.LogWithContext(ctx, slog.LevelError, msg, args...)
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openWriter resolves the output target, falling back to stdout on anything
// it cannot open.
func openWriter(output string) io.Writer {
	switch {
	case output == "stderr":
		return os.Stderr
	case strings.HasPrefix(output, "file:"):
		filename := strings.TrimPrefix(output, "file:")
		file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return os.Stdout
		}
		return file
	default:
		return os.Stdout
	}
}

// extractContextAttrs pulls the known context keys out of ctx as typed slog
// attributes, skipping absent and empty values.
func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	for _, key := range contextKeys {
		val := ctx.Value(key)
		if val == nil {
			continue
		}

		name := string(key)
		switch v := val.(type) {
		case string:
			if v != "" {
				attrs = append(attrs, slog.String(name, v))
			}
		case int:
			attrs = append(attrs, slog.Int(name, v))
		case int64:
			attrs = append(attrs, slog.Int64(name, v))
		case float64:
			attrs = append(attrs, slog.Float64(name, v))
		case bool:
			attrs = append(attrs, slog.Bool(name, v))
		case time.Duration:
			attrs = append(attrs, slog.Duration(name, v))
		case time.Time:
			attrs = append(attrs, slog.Time(name, v))
		case uuid.UUID:
			attrs = append(attrs, slog.String(name, v.String()))
		default:
			attrs = append(attrs, slog.Any(name, v))
		}
	}

	return attrs
}

func replaceAttr(config *LogConfig, _ []string, a slog.Attr) slog.Attr {
	switch {
	case a.Key == slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
		}
	case a.Key == slog.LevelKey && config.Format == "json":
		// The log aggregator keys on "severity".
		a.Key = "severity"
	case strings.HasSuffix(a.Key, "_ms"):
		if d, ok := a.Value.Any().(time.Duration); ok {
			a.Value = slog.Float64Value(float64(d.Milliseconds()))
		}
	}
	return a
}

// GetDefault returns the default logger instance
func GetDefault() *Logger {
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// FromContext extracts context attributes onto the default logger
func FromContext(ctx context.Context) *slog.Logger {
	return GetDefault().WithContext(ctx)
}
