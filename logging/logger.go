package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger defines the minimal logging interface for agentrelay. Args are
// slog-style alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// New builds a slog-backed Logger writing text or JSON to w. A nil writer
// means stderr.
func New(level LogLevel, format string, w io.Writer) *RelayLogger {
	return NewLogger(&LoggerConfig{Level: level, Format: format, Output: w})
}

// RelayLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods.
type RelayLogger struct {
	logger    *slog.Logger
	component string
	runID     string
	sessionID string
}

// LoggerConfig configures construction of a RelayLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a text info level configuration on stderr.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "text", Output: os.Stderr}
}

// NewLogger builds a RelayLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *RelayLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &RelayLogger{logger: slog.New(handler), component: cfg.Component}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Slog exposes the underlying slog.Logger.
func (l *RelayLogger) Slog() *slog.Logger { return l.logger }

// WithComponent sets the logical component (engine, router, runner, ...).
func (l *RelayLogger) WithComponent(c string) *RelayLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithRun attaches run and session identifiers.
func (l *RelayLogger) WithRun(runID, sessionID string) *RelayLogger {
	nl := *l
	nl.runID = runID
	nl.sessionID = sessionID
	return &nl
}

func (l *RelayLogger) baseAttrs() []any {
	attrs := make([]any, 0, 6)
	if l.component != "" {
		attrs = append(attrs, "component", l.component)
	}
	if l.runID != "" {
		attrs = append(attrs, "run_id", l.runID)
	}
	if l.sessionID != "" {
		attrs = append(attrs, "session_id", l.sessionID)
	}
	return attrs
}

func (l *RelayLogger) log(level slog.Level, msg string, args ...any) {
	l.logger.Log(context.Background(), level, msg, append(l.baseAttrs(), args...)...)
}

// Debug logs at debug level.
func (l *RelayLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *RelayLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *RelayLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *RelayLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogToolCall records a capability invocation outcome.
func (l *RelayLogger) LogToolCall(agent, tool string, dur time.Duration, err error) {
	ToolCall(l, agent, tool, dur, err)
}

// LogModelCall records model call latency and success.
func (l *RelayLogger) LogModelCall(model string, tokens int, dur time.Duration, err error) {
	ModelCall(l, model, tokens, dur, err)
}

// LogRoute records a router decision.
func (l *RelayLogger) LogRoute(token, method, raw string) {
	Route(l, token, method, raw)
}

// LogRun records aggregate run metrics.
func (l *RelayLogger) LogRun(trigger string, hops int, dur time.Duration, err error) {
	Run(l, trigger, hops, dur, err)
}

// ToolCall records a capability invocation outcome on any Logger. Failures
// are warnings; they never abort a run.
func ToolCall(l Logger, agent, tool string, dur time.Duration, err error) {
	args := []any{"agent", agent, "tool", tool, "duration", dur}
	if err != nil {
		l.Warn("capability call failed", append(args, "error", err)...)
		return
	}
	l.Debug("capability call completed", args...)
}

// ModelCall records model call latency and success on any Logger.
func ModelCall(l Logger, model string, tokens int, dur time.Duration, err error) {
	args := []any{"model", model, "token_count", tokens, "duration", dur}
	if err != nil {
		l.Error("model call failed", append(args, "error", err)...)
		return
	}
	l.Debug("model call completed", args...)
}

// Route records a router decision on any Logger. Fallbacks are anomalies and
// logged as warnings.
func Route(l Logger, token, method, raw string) {
	if method == "fallback" {
		l.Warn("route decided", "token", token, "method", method, "raw", raw)
		return
	}
	l.Debug("route decided", "token", token, "method", method, "raw", raw)
}

// Run records aggregate run metrics on any Logger.
func Run(l Logger, trigger string, hops int, dur time.Duration, err error) {
	args := []any{"trigger", trigger, "hops", hops, "duration", dur}
	if err != nil {
		l.Error("run failed", append(args, "error", err)...)
		return
	}
	l.Info("run completed", args...)
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// With returns a Logger that prepends args to every call. A RelayLogger
// keeps its own run attributes.
func With(l Logger, args ...any) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	if len(args) == 0 {
		return l
	}
	if w, ok := l.(*withLogger); ok {
		return &withLogger{next: w.next, args: append(append([]any{}, w.args...), args...)}
	}
	return &withLogger{next: l, args: args}
}

type withLogger struct {
	next Logger
	args []any
}

func (w *withLogger) join(args []any) []any {
	return append(append(make([]any, 0, len(w.args)+len(args)), w.args...), args...)
}

func (w *withLogger) Debug(msg string, args ...any) { w.next.Debug(msg, w.join(args)...) }
func (w *withLogger) Info(msg string, args ...any)  { w.next.Info(msg, w.join(args)...) }
func (w *withLogger) Warn(msg string, args ...any)  { w.next.Warn(msg, w.join(args)...) }
func (w *withLogger) Error(msg string, args ...any) { w.next.Error(msg, w.join(args)...) }
