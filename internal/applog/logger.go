// Package applog provides structured logging (slog) with the per-session /
// per-scheduler path tagging described in spec.md §4.8.9: every log line
// produced while a session is active is tagged with that session's object
// path, otherwise with the scheduler's own path.
package applog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// New creates a new structured logger based on configuration.
func New(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	writer := SetupWriter(cfg)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

// ParseLevel parses a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupWriter configures the output writer based on configuration.
func SetupWriter(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// pathKey is the context key carrying the D-Bus-style object path (a
// session's path, or the scheduler's own path) that produced a log line.
type pathKey struct{}

// WithPath returns a context tagged with the given object path, so that a
// logger obtained via FromContext attaches it to every record.
func WithPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, pathKey{}, path)
}

// PathFromContext extracts the tagged object path, or "" if none was set.
func PathFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(pathKey{}).(string); ok {
		return p
	}
	return ""
}

// FromContext returns a logger with the context's object path attached as
// the "path" attribute, falling back to schedulerPath when the context
// carries none (e.g. work done outside of any active session).
func FromContext(ctx context.Context, base *slog.Logger, schedulerPath string) *slog.Logger {
	path := PathFromContext(ctx)
	if path == "" {
		path = schedulerPath
	}
	return base.With("path", path)
}

// Sink receives every log record alongside the object path that produced it,
// so a listener (e.g. the bus's LogOutput signal, §6) can forward it to
// attached clients. It mirrors the broadcast-on-publish shape of the
// teacher's realtime.EventBus, generalized from dashboard events to log
// lines.
type Sink interface {
	Accept(path string, level slog.Level, text string)
}

// TeeHandler wraps an slog.Handler and additionally forwards every record to
// a Sink, tagged with the record's "path" attribute (or a fallback).
type TeeHandler struct {
	slog.Handler
	sink          Sink
	fallbackPath  string
}

// NewTeeHandler builds a TeeHandler around handler, forwarding records to sink.
func NewTeeHandler(handler slog.Handler, sink Sink, fallbackPath string) *TeeHandler {
	return &TeeHandler{Handler: handler, sink: sink, fallbackPath: fallbackPath}
}

// Handle implements slog.Handler, forwarding to both the wrapped handler and the Sink.
func (t *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	path := t.fallbackPath
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "path" {
			path = a.Value.String()
			return false
		}
		return true
	})
	if t.sink != nil {
		var sb strings.Builder
		sb.WriteString(r.Message)
		r.Attrs(func(a slog.Attr) bool {
			sb.WriteString(" ")
			sb.WriteString(a.Key)
			sb.WriteString("=")
			sb.WriteString(a.Value.String())
			return true
		})
		t.sink.Accept(path, r.Level, sb.String())
	}
	return t.Handler.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
// A "path" attribute attached here (e.g. by FromContext's base.With) never
// reaches Handle as a record attribute, so it becomes this handler's
// fallback path instead.
func (t *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	path := t.fallbackPath
	for _, a := range attrs {
		if a.Key == "path" {
			path = a.Value.String()
		}
	}
	return &TeeHandler{Handler: t.Handler.WithAttrs(attrs), sink: t.sink, fallbackPath: path}
}

// WithGroup implements slog.Handler.
func (t *TeeHandler) WithGroup(name string) slog.Handler {
	return &TeeHandler{Handler: t.Handler.WithGroup(name), sink: t.sink, fallbackPath: t.fallbackPath}
}
